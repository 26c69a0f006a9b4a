// Copyright 2024 The evmtaint Authors
// This file is part of evmtaint.
//
// evmtaint is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// evmtaint is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with evmtaint. If not, see <http://www.gnu.org/licenses/>.

// Command evmtaint runs the static taint analyzer against a file holding
// a contract's hex-encoded bytecode and prints a JSON finding summary.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/urfave/cli.v1"

	"github.com/probeum/evmtaint/internal/engine"
	"github.com/probeum/evmtaint/internal/report"
	"github.com/probeum/evmtaint/internal/tracker"
	"github.com/probeum/evmtaint/log"
)

var gitCommit = ""

var (
	outputFlag = cli.StringFlag{
		Name:  "output, o",
		Usage: "write the JSON report to FILE instead of stdout",
	}
	verbosityFlag = cli.StringFlag{
		Name:  "verbosity",
		Value: "info",
		Usage: "log verbosity: trace, debug, info, warn, error, crit",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "evmtaint"
	app.Usage = "static taint analysis for EVM contract bytecode"
	app.Version = buildVersion()
	app.ArgsUsage = "BYTECODE_FILE"
	app.Flags = []cli.Flag{outputFlag, verbosityFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Crit("fatal error", "err", err)
	}
}

func buildVersion() string {
	if gitCommit == "" {
		return "dev"
	}
	return gitCommit
}

func run(ctx *cli.Context) error {
	if err := setVerbosity(ctx.String(verbosityFlag.Name)); err != nil {
		log.Crit("invalid verbosity", "err", err)
	}

	if ctx.NArg() != 1 {
		cli.ShowAppHelp(ctx)
		return cli.NewExitError("expected exactly one BYTECODE_FILE argument", 1)
	}

	bytecode, err := readBytecode(ctx.Args().First())
	if err != nil {
		log.Crit("failed to read bytecode", "err", err)
	}

	e := engine.New(bytecode)
	isReported, err := e.Run()
	if errors.Is(err, tracker.ErrUnsupportedPrologue) {
		log.Crit("unsupported bytecode prologue", "err", err)
	} else if err != nil {
		log.Crit("analysis failed", "err", err)
	}

	rep := report.Build(e, isReported)

	out := os.Stdout
	if path := ctx.String(outputFlag.Name); path != "" {
		f, err := os.Create(path)
		if err != nil {
			log.Crit("failed to open output file", "err", err)
		}
		defer f.Close()
		return report.Write(f, rep)
	}
	return report.Write(out, rep)
}

func setVerbosity(s string) error {
	switch strings.ToLower(s) {
	case "trace":
		log.SetVerbosity(log.LvlTrace)
	case "debug":
		log.SetVerbosity(log.LvlDebug)
	case "info":
		log.SetVerbosity(log.LvlInfo)
	case "warn":
		log.SetVerbosity(log.LvlWarn)
	case "error":
		log.SetVerbosity(log.LvlError)
	case "crit":
		log.SetVerbosity(log.LvlCrit)
	default:
		return fmt.Errorf("unrecognized verbosity %q", s)
	}
	return nil
}

// readBytecode loads and decodes a hex-encoded bytecode file, stripping a
// leading 0x/0X prefix and surrounding whitespace, matching the original
// tool's input convention.
func readBytecode(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if s == "" {
		return nil, fmt.Errorf("bytecode file %s is empty", path)
	}
	bytecode, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex in %s: %w", path, err)
	}
	return bytecode, nil
}

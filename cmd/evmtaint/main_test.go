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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/probeum/evmtaint/log"
)

func writeBytecodeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bytecode.hex")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("os.WriteFile() err = %v", err)
	}
	return path
}

func TestReadBytecodeStripsPrefixAndWhitespace(t *testing.T) {
	path := writeBytecodeFile(t, "  0x600160020100\n")

	got, err := readBytecode(path)
	if err != nil {
		t.Fatalf("readBytecode() err = %v", err)
	}
	want := []byte{0x60, 0x01, 0x60, 0x02, 0x01, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("readBytecode() = %x, want %x", got, want)
	}
}

func TestReadBytecodeRejectsEmptyFile(t *testing.T) {
	path := writeBytecodeFile(t, "   \n")

	if _, err := readBytecode(path); err == nil {
		t.Fatalf("readBytecode() err = nil, want an error for an empty file")
	}
}

func TestReadBytecodeRejectsInvalidHex(t *testing.T) {
	path := writeBytecodeFile(t, "0xzz")

	if _, err := readBytecode(path); err == nil {
		t.Fatalf("readBytecode() err = nil, want an error for invalid hex")
	}
}

func TestReadBytecodeMissingFile(t *testing.T) {
	if _, err := readBytecode(filepath.Join(t.TempDir(), "missing.hex")); err == nil {
		t.Fatalf("readBytecode() err = nil, want an error for a missing file")
	}
}

func TestSetVerbosityAcceptsKnownLevels(t *testing.T) {
	for _, lvl := range []string{"trace", "DEBUG", "Info", "warn", "error", "crit"} {
		if err := setVerbosity(lvl); err != nil {
			t.Errorf("setVerbosity(%q) err = %v, want nil", lvl, err)
		}
	}
	log.SetVerbosity(log.LvlInfo)
}

func TestSetVerbosityRejectsUnknownLevel(t *testing.T) {
	if err := setVerbosity("deafening"); err == nil {
		t.Fatalf("setVerbosity(\"deafening\") err = nil, want an error")
	}
}

// Copyright 2024 The evmtaint Authors
// This file is part of the evmtaint library.
//
// The evmtaint library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The evmtaint library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the evmtaint library. If not, see <http://www.gnu.org/licenses/>.

// Package log is evmtaint's own small leveled, structured logger, in the
// shape of github.com/probeum/go-probeum/log: Trace/Debug/Info/Warn/Error/Crit
// package functions plus New(ctx...) for component-scoped loggers, with
// colorized terminal output detected via mattn/go-isatty and rendered
// through mattn/go-colorable on platforms that need it.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is a log verbosity level, declared from most to least important.
type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

var levelNames = map[Level]string{
	LvlCrit:  "CRIT",
	LvlError: "ERROR",
	LvlWarn:  "WARN",
	LvlInfo:  "INFO",
	LvlDebug: "DEBUG",
	LvlTrace: "TRACE",
}

var levelColors = map[Level]string{
	LvlCrit:  "\x1b[35m",
	LvlError: "\x1b[31m",
	LvlWarn:  "\x1b[33m",
	LvlInfo:  "\x1b[32m",
	LvlDebug: "\x1b[36m",
	LvlTrace: "\x1b[90m",
}

const colorReset = "\x1b[0m"

var (
	verbosity int32 = int32(LvlInfo)

	out      io.Writer = os.Stderr
	useColor           = isatty.IsTerminal(os.Stderr.Fd())
	mu       sync.Mutex
)

func init() {
	if useColor {
		out = colorable.NewColorableStderr()
	}
}

// SetVerbosity sets the global level filter: messages more verbose than
// lvl are dropped. Matches go-probeum's --verbosity CLI convention.
func SetVerbosity(lvl Level) { atomic.StoreInt32(&verbosity, int32(lvl)) }

func enabled(lvl Level) bool { return int32(lvl) <= atomic.LoadInt32(&verbosity) }

// Logger is a component-scoped logger carrying fixed key/value context.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	ctx []interface{}
}

// New returns a Logger carrying ctx as fixed key/value pairs appended to
// every message it logs.
func New(ctx ...interface{}) Logger {
	return &logger{ctx: append([]interface{}{}, ctx...)}
}

func (l *logger) New(ctx ...interface{}) Logger {
	return &logger{ctx: append(append([]interface{}{}, l.ctx...), ctx...)}
}

func (l *logger) Trace(msg string, ctx ...interface{}) { write(LvlTrace, msg, append(l.ctx, ctx...)) }
func (l *logger) Debug(msg string, ctx ...interface{}) { write(LvlDebug, msg, append(l.ctx, ctx...)) }
func (l *logger) Info(msg string, ctx ...interface{})  { write(LvlInfo, msg, append(l.ctx, ctx...)) }
func (l *logger) Warn(msg string, ctx ...interface{})  { write(LvlWarn, msg, append(l.ctx, ctx...)) }
func (l *logger) Error(msg string, ctx ...interface{}) { write(LvlError, msg, append(l.ctx, ctx...)) }
func (l *logger) Crit(msg string, ctx ...interface{}) {
	write(LvlCrit, msg, append(l.ctx, ctx...))
	os.Exit(1)
}

// Package-level convenience functions logging with no fixed context,
// mirroring the teacher's top-level log.Warn/log.Info/... call sites.
func Trace(msg string, ctx ...interface{}) { write(LvlTrace, msg, ctx) }
func Debug(msg string, ctx ...interface{}) { write(LvlDebug, msg, ctx) }
func Info(msg string, ctx ...interface{})  { write(LvlInfo, msg, ctx) }
func Warn(msg string, ctx ...interface{})  { write(LvlWarn, msg, ctx) }
func Error(msg string, ctx ...interface{}) { write(LvlError, msg, ctx) }

// Crit logs at LvlCrit and terminates the process, matching go-probeum's
// log.Crit semantics (used by the CLI on unrecoverable I/O/parse errors).
func Crit(msg string, ctx ...interface{}) {
	write(LvlCrit, msg, ctx)
	os.Exit(1)
}

func write(lvl Level, msg string, ctx []interface{}) {
	if !enabled(lvl) {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	ts := time.Now().Format("01-02|15:04:05.000")
	name := levelNames[lvl]
	if useColor {
		fmt.Fprintf(out, "%s%s%s[%s] %s", levelColors[lvl], name, colorReset, ts, msg)
	} else {
		fmt.Fprintf(out, "%s[%s] %s", name, ts, msg)
	}
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(out, " %v=%v", ctx[i], ctx[i+1])
	}
	fmt.Fprintln(out)
}

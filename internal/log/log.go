// Copyright 2015 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log is the injectable logging shim used throughout the
// region cache and region worker, mirroring the teacher's own
// Logger interface (see pebble.Logger) rather than calling the standard
// log package directly from business logic.
package log

import (
	"fmt"
	"log"
	"os"

	"github.com/cockroachdb/redact"
)

// Logger is the logging surface the core depends on. Production
// binaries wire in their own structured logger; tests typically use
// NewDefault or a no-op.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Key wraps a user or internal key so it participates in redaction when
// logged through a redact-aware sink, the same convention the teacher
// uses for any byte slice that might be sensitive.
type Key []byte

// SafeFormat implements redact.SafeFormatter.
func (k Key) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%x", []byte(k))
}

func (k Key) String() string {
	return redact.Sprint(k).StripMarkers()
}

type defaultLogger struct {
	std *log.Logger
}

// NewDefault returns a Logger backed by the standard library's log
// package, writing to stderr with a timestamp prefix.
func NewDefault() Logger {
	return &defaultLogger{std: log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *defaultLogger) Infof(format string, args ...interface{}) {
	l.std.Output(2, fmt.Sprintf("[INFO] "+format, args...))
}

func (l *defaultLogger) Errorf(format string, args ...interface{}) {
	l.std.Output(2, fmt.Sprintf("[ERROR] "+format, args...))
}

func (l *defaultLogger) Fatalf(format string, args ...interface{}) {
	l.std.Output(2, fmt.Sprintf("[FATAL] "+format, args...))
	os.Exit(1)
}

// Nop discards every message; used in tests that don't want log noise.
var Nop Logger = nopLogger{}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}

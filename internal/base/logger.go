// Copyright 2025 The BlockIdx Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"context"
	"fmt"
	"log"
)

// LoggerAndTracer is threaded through the build and scan paths the same
// way the teacher's sstable.readFooter takes one: a narrow interface so
// the hot path can cheaply check IsTracingEnabled before formatting an
// event (see sstable/table.go).
type LoggerAndTracer interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	IsTracingEnabled(ctx context.Context) bool
	Eventf(ctx context.Context, format string, args ...interface{})
}

// NoopLogger discards every message except Fatalf's, which it panics
// with. It is the default for both Build and Scan so library use never
// prints without being asked to.
type NoopLogger struct{}

func (NoopLogger) Infof(string, ...interface{})                    {}
func (NoopLogger) Errorf(string, ...interface{})                   {}
func (NoopLogger) Fatalf(format string, args ...interface{})       { panic(fmt.Sprintf(format, args...)) }
func (NoopLogger) IsTracingEnabled(context.Context) bool           { return false }
func (NoopLogger) Eventf(context.Context, string, ...interface{})  {}

// StderrLogger writes through the standard library logger; cmd/blockidx
// wires this in by default.
type StderrLogger struct {
	Tracing bool
	log     *log.Logger
}

// NewStderrLogger returns a StderrLogger writing to the process's default
// stderr-backed log.Logger.
func NewStderrLogger(tracing bool) *StderrLogger {
	return &StderrLogger{Tracing: tracing, log: log.Default()}
}

func (l *StderrLogger) Infof(format string, args ...interface{}) {
	l.log.Printf("INFO: "+format, args...)
}

func (l *StderrLogger) Errorf(format string, args ...interface{}) {
	l.log.Printf("ERROR: "+format, args...)
}

func (l *StderrLogger) Fatalf(format string, args ...interface{}) {
	l.log.Fatalf("FATAL: "+format, args...)
}

func (l *StderrLogger) IsTracingEnabled(context.Context) bool { return l.Tracing }

func (l *StderrLogger) Eventf(_ context.Context, format string, args ...interface{}) {
	l.log.Printf("EVENT: "+format, args...)
}

// Package logging provides the Warnf/Infof/Debugf plumbing shared by paccheck's
// pipeline packages. It generalizes the SetLogger/SetDebug pattern used by
// chisel's internal/fsutil package to every package in this repository that
// needs to log, instead of each package keeping its own global.
package logging

import (
	"fmt"
	"log"
	"sync"
)

type logger interface {
	Output(calldepth int, s string) error
}

var (
	mu      sync.Mutex
	target  logger
	debug   bool
	verbose bool
)

// SetLogger installs the *log.Logger all packages should send messages to.
// A nil logger disables logging entirely.
func SetLogger(l *log.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		target = nil
		return
	}
	target = l
}

// SetVerbosity configures which severities are delivered. info is enabled
// by verbose, debug (and below) by debug.
func SetVerbosity(infoEnabled, debugEnabled bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = infoEnabled
	debug = debugEnabled
}

// Warnf always logs; warnings are never suppressed by verbosity.
func Warnf(format string, args ...interface{}) {
	output(format, args...)
}

// Infof logs only when verbosity is at least "info" (-v).
func Infof(format string, args ...interface{}) {
	mu.Lock()
	enabled := verbose
	mu.Unlock()
	if enabled {
		output(format, args...)
	}
}

// Debugf logs only when verbosity is at least "debug" (-vv).
func Debugf(format string, args ...interface{}) {
	mu.Lock()
	enabled := debug
	mu.Unlock()
	if enabled {
		output(format, args...)
	}
}

func output(format string, args ...interface{}) {
	mu.Lock()
	l := target
	mu.Unlock()
	if l != nil {
		l.Output(3, fmt.Sprintf(format, args...))
	}
}

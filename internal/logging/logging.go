// Package logging builds the process-wide log output and per-component
// loggers.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the log output.
type Options struct {
	// File is the log file path; empty logs to stderr only.
	File string
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept.
	MaxBackups int
	// MaxAgeDays removes rotated files older than this (0 = keep).
	MaxAgeDays int
	// Verbose enables Debugf output.
	Verbose bool
}

var verbose atomic.Bool

// Output is the writer all component loggers share.
type Output struct {
	w    io.Writer
	file *lumberjack.Logger
}

// Setup creates the log output. When a file is configured, lines go to both
// stderr and the rotating file.
func Setup(opts Options) (*Output, error) {
	verbose.Store(opts.Verbose)
	out := &Output{w: os.Stderr}
	if opts.File == "" {
		return out, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
		return nil, err
	}
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 3
	}
	out.file = &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	out.w = io.MultiWriter(os.Stderr, out.file)
	return out, nil
}

// Writer returns the underlying writer.
func (o *Output) Writer() io.Writer {
	return o.w
}

// Logger returns a logger with a "[component] " prefix.
func (o *Output) Logger(component string) *log.Logger {
	return log.New(o.w, "["+component+"] ", log.LstdFlags)
}

// Close flushes and closes the log file, if any.
func (o *Output) Close() error {
	if o.file == nil {
		return nil
	}
	return o.file.Close()
}

// Verbose reports whether debug output is enabled.
func Verbose() bool {
	return verbose.Load()
}

// Debugf logs through l only in verbose mode.
func Debugf(l *log.Logger, format string, args ...interface{}) {
	if verbose.Load() {
		l.Printf("debug: "+format, args...)
	}
}

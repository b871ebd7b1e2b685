// Package logging builds the process-wide [slog.Logger]: a text handler on
// stderr, optionally teed into a size-rotated log file.
package logging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/coworkersync/internal/config"
)

// Rotation defaults used when the log block leaves them unset.
const (
	defaultMaxSizeMB  = 10
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// Options selects the verbosity and the optional log file.
type Options struct {
	Verbose bool
	File    config.LogConfig
}

// New returns a logger writing to stderr and, when opts.File.File is set, to a
// rotating file. The returned closer flushes and closes the file and is always
// non-nil.
func New(opts Options) (*slog.Logger, io.Closer) {
	return newLogger(os.Stderr, opts)
}

func newLogger(stderr io.Writer, opts Options) (*slog.Logger, io.Closer) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}

	console := slog.NewTextHandler(stderr, hopts)
	if opts.File.File == "" {
		return slog.New(console), nopCloser{}
	}

	rot := &lumberjack.Logger{
		Filename:   opts.File.File,
		MaxSize:    orDefault(opts.File.MaxSizeMB, defaultMaxSizeMB),
		MaxBackups: orDefault(opts.File.MaxBackups, defaultMaxBackups),
		MaxAge:     orDefault(opts.File.MaxAgeDays, defaultMaxAgeDays),
		Compress:   true,
	}
	file := slog.NewJSONHandler(rot, hopts)
	return slog.New(fanout{console, file}), rot
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends every record to all handlers.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

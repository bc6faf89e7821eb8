package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/neutts-openai/internal/env"
)

// Options configures the logger built by New.
type Options struct {
	console   io.Writer
	logFile   string
	level     *slog.Level
	toFile    bool
	maxSizeMB int
	maxAgeDay int
	backups   int
}

// Option mutates Options.
type Option func(*Options)

// WithLogToFile enables or disables logging to a rotated file.
func WithLogToFile(enabled bool) Option {
	return func(o *Options) {
		o.toFile = enabled
	}
}

// WithLogFile sets the path of the rotated log file.
func WithLogFile(path string) Option {
	return func(o *Options) {
		o.logFile = path
	}
}

// WithLevel overrides the level derived from the environment.
func WithLevel(level slog.Level) Option {
	return func(o *Options) {
		o.level = &level
	}
}

// WithConsole replaces stderr as the console destination.
func WithConsole(w io.Writer) Option {
	return func(o *Options) {
		o.console = w
	}
}

// New creates the process logger. Development gets tint-colored output,
// production gets JSON. When file logging is enabled every record is also
// written as JSON to a lumberjack-rotated file.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := &Options{
		console:   os.Stderr,
		logFile:   "logs/neutts-openai.log",
		maxSizeMB: 50,
		maxAgeDay: 14,
		backups:   5,
	}
	for _, opt := range opts {
		opt(o)
	}

	level := levelFor(environment)
	if o.level != nil {
		level = *o.level
	}

	var console slog.Handler
	if environment.IsProduction() {
		console = slog.NewJSONHandler(o.console, &slog.HandlerOptions{Level: level})
	} else {
		console = tint.NewHandler(o.console, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    environment == env.Test,
		})
	}

	if !o.toFile || o.logFile == "" {
		return slog.New(console)
	}

	file := slog.NewJSONHandler(&lumberjack.Logger{
		Filename:   o.logFile,
		MaxSize:    o.maxSizeMB,
		MaxAge:     o.maxAgeDay,
		MaxBackups: o.backups,
		Compress:   true,
	}, &slog.HandlerOptions{Level: level})

	return slog.New(fanout{console, file})
}

func levelFor(environment env.Environment) slog.Level {
	switch environment {
	case env.Production:
		return slog.LevelInfo
	case env.Test:
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

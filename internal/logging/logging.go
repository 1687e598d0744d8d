// Package logging configures the process wide zerolog logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ksred/klear-paper/internal/config"
)

// Options controls where log output goes.
type Options struct {
	Level      string
	Console    bool // human readable output instead of JSON on stdout
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// OptionsFromConfig derives logging options from application config. The
// console writer is used everywhere except production.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Level:      cfg.Log.Level,
		Console:    !cfg.IsProduction(),
		FilePath:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
	}
}

// New builds a logger writing to stdout and, when FilePath is set, to a
// rotating file.
func New(opts Options) zerolog.Logger {
	return NewWithWriter(opts, os.Stdout)
}

// NewWithWriter is New with an explicit stdout replacement.
func NewWithWriter(opts Options, out io.Writer) zerolog.Logger {
	var writers []io.Writer

	if opts.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		})
	} else {
		writers = append(writers, out)
	}

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err == nil {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.FilePath,
				MaxSize:    opts.MaxSize,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAge,
				Compress:   true,
			})
		}
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(ParseLevel(opts.Level))

	return zerolog.New(writer).With().Timestamp().Logger()
}

// Setup builds the logger and installs it as the global zerolog logger.
func Setup(opts Options) zerolog.Logger {
	logger := New(opts)
	zlog.Logger = logger
	return logger
}

func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ForService returns a child of the global logger tagged with a service name.
func ForService(name string) zerolog.Logger {
	return zlog.With().Str("service", name).Logger()
}

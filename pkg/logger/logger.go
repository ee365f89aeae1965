// Package logger builds the zap loggers used across the kernel.
//
// Console output is human readable and optionally coloured; file output is
// JSON and rotated by lumberjack.
//
//	log, err := logger.New(logger.DefaultOptions())
//	if err != nil {
//		// Handle error
//	}
//	defer log.Sync()
//	log.Info("kernel booted", zap.String("boot_id", id))
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options holds configuration for the logger.
type Options struct {
	// Level is the minimum level: debug, info, warn or error.
	Level string `yaml:"level"`
	// Console enables logging to stderr.
	Console bool `yaml:"console"`
	// Color enables ANSI colours for console level names.
	Color bool `yaml:"color"`
	// File is the path of the JSON log file. Empty disables file output.
	File string `yaml:"file"`
	// MaxSizeMB is the size at which the log file is rotated.
	MaxSizeMB int `yaml:"maxSizeMB"`
	// MaxBackups is the number of rotated files to keep.
	MaxBackups int `yaml:"maxBackups"`
	// MaxAgeDays is the number of days to keep rotated files.
	MaxAgeDays int `yaml:"maxAgeDays"`
	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// DefaultOptions logs info and above to a coloured console.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		Console:    true,
		Color:      true,
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(name string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(name)))); err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "parse log level %q", name)
	}
	return lvl, nil
}

// New creates a logger from opts. With neither console nor file output it
// returns a no-op logger.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		lvl, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = lvl
	}

	var cores []zapcore.Core

	if opts.Console {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		if opts.Color {
			cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), level))
	}

	if opts.File != "" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, level))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

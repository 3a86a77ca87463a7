package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log file rotation settings.
const (
	logFileMaxSizeMB  = 10
	logFileMaxBackups = 2
	logFileMaxAgeDays = 3
)

// Options controls where and how verbosely the process logs.
type Options struct {
	Level string
	// File switches output from stdout to a rotated file.
	File string
}

// New builds the process logger.
func New(opts Options) (*zap.Logger, error) {
	level, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var sink zapcore.WriteSyncer
	if strings.TrimSpace(opts.File) != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
		})
	} else {
		sink = zapcore.Lock(os.Stdout)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		level,
	)
	return zap.New(core, zap.AddCaller()), nil
}

func parseLevel(v string) (zapcore.Level, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(v))); err != nil {
		return level, fmt.Errorf("LOG_LEVEL parse error: %w", err)
	}
	return level, nil
}

package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls where log lines go.
type Options struct {
	// Level is a zap level name; empty means info.
	Level string
	// Console tees human-readable output to stderr. The TUI owns the terminal,
	// so only the CLI turns this on.
	Console bool
}

// New creates a zap logger that writes JSON to logPath and optionally to stderr.
// Profile name and PID are included as initial fields.
func New(logPath, profileName string, opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level),
	}
	if opts.Console {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(os.Stderr), level))
	}

	logger := zap.New(zapcore.NewTee(cores...),
		zap.Fields(
			zap.String("profile", profileName),
			zap.Int("pid", os.Getpid()),
		),
	)

	return logger, nil
}

// Token logs a bearer token without leaking it: only the length and the last
// four characters survive.
func Token(key, token string) zap.Field {
	return zap.String(key, Redact(token))
}

// Redact masks all but the tail of a secret.
func Redact(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "***"
	default:
		return "***" + secret[len(secret)-4:]
	}
}

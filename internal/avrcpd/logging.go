package avrcpd

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig describes avrcpctld logging options.
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// NewLogger creates a structured logger for avrcpctld.
func NewLogger(cfg LogConfig) *zap.Logger {
	level := zapcore.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	writer := zapcore.Lock(os.Stdout)
	if strings.ToLower(cfg.Output) == "stderr" {
		writer = zapcore.Lock(os.Stderr)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if strings.ToLower(cfg.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core).With(
		zap.String("app", "avrcpctld"),
		zap.Int("pid", os.Getpid()),
	)
}

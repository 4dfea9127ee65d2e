// Package logging wraps zap with the stage-oriented helpers the
// recommendation pipeline needs: row counts, filter drops, invariant
// failures. Ported from the platform's shared iaros-core logger.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with pipeline-specific helpers.
type Logger struct {
	*zap.Logger
	service string
}

// Config controls logger construction.
type Config struct {
	Level       string
	Service     string
	Environment string
	Format      string // "json" or "console"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// New builds a Logger for the given service, applying at most one
// optional Config override.
func New(service string, opts ...Config) *Logger {
	cfg := Config{
		Level:       "info",
		Service:     service,
		Environment: getEnv("RECO_ENV", "development"),
		Format:      "json",
	}
	if len(opts) > 0 {
		o := opts[0]
		if o.Level != "" {
			cfg.Level = o.Level
		}
		if o.Service != "" {
			cfg.Service = o.Service
		}
		if o.Environment != "" {
			cfg.Environment = o.Environment
		}
		if o.Format != "" {
			cfg.Format = o.Format
		}
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	base := zap.New(core, zap.AddCaller()).With(
		zap.String("service", cfg.Service),
		zap.String("environment", cfg.Environment),
	)

	return &Logger{Logger: base, service: cfg.Service}
}

// WithFields attaches arbitrary structured fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zf := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return &Logger{Logger: l.Logger.With(zf...), service: l.service}
}

// WithError attaches an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Error(err)), service: l.service}
}

// StageLogger logs a completed stage: rows in, rows out, duration.
func (l *Logger) StageLogger(stage string, rowsIn, rowsOut int, durationSeconds float64) {
	l.Info("stage complete",
		zap.String("stage", stage),
		zap.Int("rows_in", rowsIn),
		zap.Int("rows_out", rowsOut),
		zap.Float64("duration_seconds", durationSeconds),
	)
}

// FilterLogger logs rows dropped by a named filter — PartialMatch and
// non-fatal DataQuality events per the stage error taxonomy.
func (l *Logger) FilterLogger(filter string, dropped, total int) {
	if dropped == 0 {
		return
	}
	l.Warn("rows dropped by filter",
		zap.String("filter", filter),
		zap.Int("dropped", dropped),
		zap.Int("total", total),
	)
}

// InvariantLogger logs a fatal invariant violation before the caller
// returns a pipelineerr.StageError to abort the stage.
func (l *Logger) InvariantLogger(invariant string, details map[string]interface{}) {
	fields := []zap.Field{zap.String("invariant", invariant)}
	for k, v := range details {
		fields = append(fields, zap.Any(k, v))
	}
	l.Error("invariant violated", fields...)
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// Package logging constructs the gateway's process-wide structured logger.
//
// The helpers below build the structured fields (fingerprint, component,
// latency, op) that log calls attach instead of interpolating those values
// into the message string.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger from the given level ("debug","info","warn","error")
// and format ("json" or "console").
func New(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Nop returns a no-op logger, used as a safe default in constructors and tests
// that don't care about log output.
func Nop() *zap.Logger { return zap.NewNop() }

// Fingerprint returns a structured field for the request fingerprint.
func Fingerprint(fp string) zap.Field { return zap.String("fingerprint", fp) }

// Component returns a structured field naming the reporting component
// ("hot", "warm", "ruleStore", "stream", ...).
func Component(name string) zap.Field { return zap.String("component", name) }

// Latency returns a structured field for a call's elapsed duration.
func Latency(d time.Duration) zap.Field { return zap.Duration("latency", d) }

// Op returns a structured field naming the failing operation, matching
// errs.Error.Op for log correlation.
func Op(op string) zap.Field { return zap.String("op", op) }

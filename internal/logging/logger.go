package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var levelNames = map[string]zapcore.Level{
	"debug":   zapcore.DebugLevel,
	"info":    zapcore.InfoLevel,
	"warn":    zapcore.WarnLevel,
	"warning": zapcore.WarnLevel,
	"error":   zapcore.ErrorLevel,
}

// NewLogger builds a structured production logger at the requested level.
// An empty level means info; "silent" returns a no-op logger for tests and
// scripted runs.
func NewLogger(level string) (*zap.Logger, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "silent" {
		return zap.NewNop(), nil
	}
	if normalized == "" {
		normalized = "info"
	}

	zapLevel, known := levelNames[normalized]
	if !known {
		return nil, fmt.Errorf("logging: unknown level %q", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}

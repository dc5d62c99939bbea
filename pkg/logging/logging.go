package logging

import (
	"fmt"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// New builds an slog logger backed by a zap core and installs it as the
// default so package-level slog calls share the same sink.
func New(level string, development bool) (*slog.Logger, func(), error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	if development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := zcfg.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot initialize zap: %w", err)
	}

	logger := slog.New(zapslog.NewHandler(zl.Core(), zapslog.WithCaller(true)))
	slog.SetDefault(logger)

	return logger, func() { _ = zl.Sync() }, nil
}

// Nop returns a logger that drops everything. Used by tests.
func Nop() *slog.Logger {
	return slog.New(zapslog.NewHandler(zapcore.NewNopCore()))
}

// Prefix formats the correlation prefix the services put in front of messages.
func Prefix(correlationID string) string {
	return "[" + correlationID + "] "
}

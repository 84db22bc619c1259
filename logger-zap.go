//go:build !tinygo

package logport

import (
	"go.uber.org/zap"
)

// zapLogger adapts a *zap.Logger to Logger.
type zapLogger struct {
	base *zap.Logger
}

// NewZapLogger returns a Logger that writes diagnostics to l, for use with
// SetLogger.
func NewZapLogger(l *zap.Logger) Logger {
	return &zapLogger{base: l.Named("logport")}
}

func (z *zapLogger) Debug(msg string) { z.base.Debug(msg) }
func (z *zapLogger) Info(msg string)  { z.base.Info(msg) }
func (z *zapLogger) Warn(msg string)  { z.base.Warn(msg) }
func (z *zapLogger) Error(msg string) { z.base.Error(msg) }

package logger

import (
	"fmt"
	"strings"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap logger to the Logger interface. Notice maps to zap's warn level.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger builds a console-encoded zap logger on a colorable stdout.
func NewZapLogger(level Level) *ZapLogger {
	pe := zap.NewProductionEncoderConfig()
	pe.EncodeTime = zapcore.RFC3339TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(pe)

	core := zapcore.NewCore(consoleEncoder, zapcore.AddSync(colorable.NewColorableStdout()), zapLevel(level))
	return &ZapLogger{sugar: zap.New(core).Sugar()}
}

// NewZapLoggerFrom wraps an existing zap logger.
func NewZapLoggerFrom(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case NoticeLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

func (l *ZapLogger) with(network string) *zap.SugaredLogger {
	if network == "" {
		return l.sugar
	}
	return l.sugar.With("network", strings.ToLower(network))
}

func (l *ZapLogger) Info(format string, args ...interface{}) {
	l.sugar.Info(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) InfoWithNetwork(network string, format string, args ...interface{}) {
	l.with(network).Info(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) Error(format string, args ...interface{}) {
	l.sugar.Error(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) ErrorWithNetwork(network string, format string, args ...interface{}) {
	l.with(network).Error(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) Debug(format string, args ...interface{}) {
	l.sugar.Debug(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) DebugWithNetwork(network string, format string, args ...interface{}) {
	l.with(network).Debug(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) Notice(format string, args ...interface{}) {
	l.sugar.Warn(fmt.Sprintf(format, args...))
}

func (l *ZapLogger) NoticeWithNetwork(network string, format string, args ...interface{}) {
	l.with(network).Warn(fmt.Sprintf(format, args...))
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

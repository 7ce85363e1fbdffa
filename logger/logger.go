package logger

import (
	"context"
)

// Logger 日志接口
type Logger interface {
	// 基础日志方法
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// 带上下文的日志方法
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
	WarnContext(ctx context.Context, msg string, args ...any)
	ErrorContext(ctx context.Context, msg string, args ...any)

	// 带字段的日志器
	With(args ...any) Logger
	WithGroup(name string) Logger
}

// NewNopLogger 创建空日志器，丢弃所有日志
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// NopLogger 空日志器实现，所有方法均为空操作
type NopLogger struct{}

func (l *NopLogger) Debug(msg string, args ...any) {}
func (l *NopLogger) Info(msg string, args ...any)  {}
func (l *NopLogger) Warn(msg string, args ...any)  {}
func (l *NopLogger) Error(msg string, args ...any) {}

func (l *NopLogger) DebugContext(ctx context.Context, msg string, args ...any) {}
func (l *NopLogger) InfoContext(ctx context.Context, msg string, args ...any)  {}
func (l *NopLogger) WarnContext(ctx context.Context, msg string, args ...any)  {}
func (l *NopLogger) ErrorContext(ctx context.Context, msg string, args ...any) {}

func (l *NopLogger) With(args ...any) Logger        { return l }
func (l *NopLogger) WithGroup(name string) Logger   { return l }

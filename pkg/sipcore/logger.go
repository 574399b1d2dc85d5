package sipcore

import (
	"log/slog"
	"os"
)

// Field структурированное поле лога
type Field struct {
	Key   string
	Value interface{}
}

// F создает поле лога
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// ErrField создает поле с ошибкой
func ErrField(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger минимальный интерфейс структурированного логирования ядра.
// Реализация по умолчанию построена поверх log/slog.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// WithComponent возвращает логгер с постоянным полем component
	WithComponent(name string) Logger
}

// slogLogger адаптер Logger поверх slog
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger оборачивает slog.Logger в интерфейс Logger
func NewSlogLogger(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

// GetDefaultLogger возвращает логгер по умолчанию (текст в stderr)
func GetDefaultLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

func (s *slogLogger) convert(fields []Field) []any {
	args := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		args = append(args, f.Key, f.Value)
	}
	return args
}

func (s *slogLogger) Debug(msg string, fields ...Field) { s.l.Debug(msg, s.convert(fields)...) }
func (s *slogLogger) Info(msg string, fields ...Field)  { s.l.Info(msg, s.convert(fields)...) }
func (s *slogLogger) Warn(msg string, fields ...Field)  { s.l.Warn(msg, s.convert(fields)...) }
func (s *slogLogger) Error(msg string, fields ...Field) { s.l.Error(msg, s.convert(fields)...) }

func (s *slogLogger) WithComponent(name string) Logger {
	return &slogLogger{l: s.l.With("component", name)}
}

// NoOpLogger логгер-заглушка для тестов
type NoOpLogger struct{}

func (NoOpLogger) Debug(string, ...Field)        {}
func (NoOpLogger) Info(string, ...Field)         {}
func (NoOpLogger) Warn(string, ...Field)         {}
func (NoOpLogger) Error(string, ...Field)        {}
func (n NoOpLogger) WithComponent(string) Logger { return n }

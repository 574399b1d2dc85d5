package sipcore

import (
	"errors"
	"fmt"
)

// ErrorCategory категории ошибок для классификации
type ErrorCategory string

const (
	ErrorCategoryTransport ErrorCategory = "TRANSPORT"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryProtocol  ErrorCategory = "PROTOCOL"
	ErrorCategoryState     ErrorCategory = "STATE"
	ErrorCategoryMedia     ErrorCategory = "MEDIA"
	ErrorCategoryLimit     ErrorCategory = "LIMIT"
)

func (ec ErrorCategory) String() string { return string(ec) }

// Error структурированная ошибка ядра с кодом и категорией
type Error struct {
	Code      string        // Уникальный код ошибки
	Message   string        // Человекочитаемое сообщение
	Category  ErrorCategory // Категория ошибки
	Retryable bool          // Можно ли повторить операцию
	Cause     error         // Исходная ошибка
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is позволяет сравнивать ошибки по коду и категории через errors.Is
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code && e.Category == other.Category
}

// NewTransportError создает ошибку транспортного уровня (повторяемую)
func NewTransportError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Category: ErrorCategoryTransport, Retryable: true, Cause: cause}
}

// NewTimeoutError создает ошибку таймаута транзакции (повторяемую)
func NewTimeoutError(code, message string) *Error {
	return &Error{Code: code, Message: message, Category: ErrorCategoryTimeout, Retryable: true}
}

// NewProtocolError создает ошибку уровня протокола: некорректный payload,
// неразбираемая идентичность. Не повторяется
func NewProtocolError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Category: ErrorCategoryProtocol, Cause: cause}
}

// NewStateError создает ошибку недопустимого состояния
func NewStateError(code, message string) *Error {
	return &Error{Code: code, Message: message, Category: ErrorCategoryState}
}

// NewMediaError создает ошибку согласования медиа
func NewMediaError(code, message string) *Error {
	return &Error{Code: code, Message: message, Category: ErrorCategoryMedia}
}

// NewLimitError создает ошибку исчерпания ресурсного лимита
func NewLimitError(code, message string) *Error {
	return &Error{Code: code, Message: message, Category: ErrorCategoryLimit}
}

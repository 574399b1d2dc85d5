package sipcore

import (
	"context"
	"sync"

	"github.com/emiago/sipgo/sip"
)

// MockTransport тестовый двойник транспортного слоя.
//
// Обработчик Handler программируется тестом и получает каждый отправленный
// запрос; все отправленные запросы и ответы записываются для проверок.
// Без обработчика каждый обмен завершается таймаутом.
type MockTransport struct {
	mu sync.Mutex

	// Handler формирует результат обмена для каждого запроса
	Handler func(req *sip.Request) (TransactionResult, error)

	requests  []*sip.Request
	responses []*sip.Response
	raw       []*sip.Request
}

// NewMockTransport создает мок без запрограммированного обработчика
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

var _ Transport = (*MockTransport)(nil)

func (m *MockTransport) SendAndAwait(_ context.Context, req *sip.Request) (TransactionResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	m.mu.Unlock()

	if handler == nil {
		return TransactionResult{Timeout: true}, nil
	}
	return handler(req)
}

func (m *MockTransport) SendResponse(res *sip.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, res)
	return nil
}

func (m *MockTransport) Send(req *sip.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = append(m.raw, req)
	return nil
}

// Requests возвращает копию списка отправленных запросов
func (m *MockTransport) Requests() []*sip.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sip.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// SentResponses возвращает копию списка отправленных ответов
func (m *MockTransport) SentResponses() []*sip.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sip.Response, len(m.responses))
	copy(out, m.responses)
	return out
}

// SentRaw возвращает запросы, отправленные вне транзакций (ACK)
func (m *MockTransport) SentRaw() []*sip.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*sip.Request, len(m.raw))
	copy(out, m.raw)
	return out
}

// Reply строит результат обмена с заданным статусом
func Reply(req *sip.Request, statusCode int, reason string) TransactionResult {
	res := sip.NewResponseFromRequest(req, statusCode, reason, nil)
	return TransactionResult{StatusCode: statusCode, Reason: reason, Response: res}
}

// ReplyWithBody строит результат обмена с телом и Content-Type
func ReplyWithBody(req *sip.Request, statusCode int, reason, contentType string, body []byte) TransactionResult {
	res := sip.NewResponseFromRequest(req, statusCode, reason, body)
	res.AppendHeader(sip.NewHeader("Content-Type", contentType))
	return TransactionResult{StatusCode: statusCode, Reason: reason, Response: res}
}

// ReplyTimeout строит результат "финальный ответ не получен"
func ReplyTimeout() TransactionResult {
	return TransactionResult{Timeout: true}
}

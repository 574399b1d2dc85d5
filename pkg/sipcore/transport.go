package sipcore

import (
	"context"

	"github.com/emiago/sipgo/sip"
)

// Статусы SIP ответов, используемые ядром
const (
	StatusTrying                 = 100
	StatusRinging                = 180
	StatusOK                     = 200
	StatusNotFound               = 404
	StatusProxyAuthRequired      = 407
	StatusRequestTimeout         = 408
	StatusTemporarilyUnavailable = 480
	StatusCallDoesNotExist       = 481
	StatusBusyHere               = 486
	StatusRequestTerminated      = 487
	StatusNotAcceptableHere      = 488
	StatusRequestPending         = 491
	StatusDecline                = 603
)

// TransactionResult итог блокирующего обмена запрос/ответ.
//
// Timeout=true означает, что финальный ответ не пришел за время
// транзакции; StatusCode и Response в этом случае не заполнены.
type TransactionResult struct {
	StatusCode int
	Reason     string
	Response   *sip.Response
	Timeout    bool
}

// OK сообщает, получен ли финальный 2xx ответ
func (r TransactionResult) OK() bool {
	return !r.Timeout && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport граница с внешним SIP транспортным слоем.
//
// SendAndAwait — блокирующий круговой обход: задача, отправившая запрос,
// приостанавливается до финального ответа или таймаута транзакции.
// Конкурентность достигается множеством задач, а не асинхронными
// продолжениями.
type Transport interface {
	// SendAndAwait отправляет запрос и ждет финальный ответ или таймаут
	SendAndAwait(ctx context.Context, req *sip.Request) (TransactionResult, error)

	// SendResponse отправляет ответ на входящий запрос
	SendResponse(res *sip.Response) error

	// Send отправляет запрос вне транзакции (ACK)
	Send(req *sip.Request) error
}

// AuthConfig учетные данные для ответа на authentication challenge
type AuthConfig struct {
	Username string
	Password string
}

// Enabled сообщает, настроены ли учетные данные
func (a AuthConfig) Enabled() bool { return a.Username != "" }

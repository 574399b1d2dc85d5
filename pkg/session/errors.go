package session

// ErrorCode прикладной код причины завершения или отказа сессии.
// Каждый ресурсный лимит и каждая причина отказа различимы для
// вышележащего слоя.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota

	// ErrorUnsupportedAudio ни один аудиокодек не согласован;
	// аудио обязательно, сессия невозможна
	ErrorUnsupportedAudio

	// ErrorUnsupportedVideo видеокодек не согласован; фатально только
	// для видеопотока, базовый звонок продолжается без видео
	ErrorUnsupportedVideo

	// ErrorNotAnswered входящее приглашение не принято за отведенное время
	ErrorNotAnswered

	// ErrorRejectedByUser пользователь отклонил приглашение
	ErrorRejectedByUser

	// ErrorRejectedBusy отклонено как "занято"
	ErrorRejectedBusy

	// ErrorCancelled удаленная сторона отменила приглашение
	ErrorCancelled

	// ErrorPeerBusy удаленная сторона ответила 486
	ErrorPeerBusy

	// ErrorMaxSessions достигнут предел одновременных сессий
	ErrorMaxSessions

	// ErrorTransport транспортная ошибка или таймаут транзакции
	ErrorTransport

	// ErrorProtocol ошибка протокола (неразбираемый SDP и т.п.)
	ErrorProtocol
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorNone:
		return "NONE"
	case ErrorUnsupportedAudio:
		return "UNSUPPORTED_AUDIO"
	case ErrorUnsupportedVideo:
		return "UNSUPPORTED_VIDEO"
	case ErrorNotAnswered:
		return "NOT_ANSWERED"
	case ErrorRejectedByUser:
		return "REJECTED_BY_USER"
	case ErrorRejectedBusy:
		return "REJECTED_BUSY"
	case ErrorCancelled:
		return "CANCELLED"
	case ErrorPeerBusy:
		return "PEER_BUSY"
	case ErrorMaxSessions:
		return "MAX_SESSIONS"
	case ErrorTransport:
		return "TRANSPORT"
	case ErrorProtocol:
		return "PROTOCOL"
	default:
		return "UNKNOWN"
	}
}

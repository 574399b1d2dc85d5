package session

// RenegotiationKind тип перезапроса внутри установленной сессии.
type RenegotiationKind int

const (
	RenegotiationHold RenegotiationKind = iota
	RenegotiationResume
	RenegotiationAddVideo
	RenegotiationRemoveVideo
)

func (k RenegotiationKind) String() string {
	switch k {
	case RenegotiationHold:
		return "HOLD"
	case RenegotiationResume:
		return "RESUME"
	case RenegotiationAddVideo:
		return "ADD_VIDEO"
	case RenegotiationRemoveVideo:
		return "REMOVE_VIDEO"
	default:
		return "UNKNOWN"
	}
}

// Listener получает события жизненного цикла сессии. Все методы
// вызываются вне внутренних блокировок, из них безопасно обращаться
// к сессии.
type Listener interface {
	// OnSessionInvited входящее приглашение доставлено приложению.
	// Ответить нужно через Accept или Reject.
	OnSessionInvited(s *Session)

	// OnSessionStarted медиа согласовано, сессия установлена
	OnSessionStarted(s *Session)

	// OnSessionRejected исходящее приглашение отклонено удаленной стороной
	OnSessionRejected(s *Session, code ErrorCode)

	// OnSessionTerminated сессия завершена (локально или удаленно)
	OnSessionTerminated(s *Session)

	// OnCallError сессия прервана из-за ошибки
	OnCallError(s *Session, code ErrorCode)

	// ConfirmRenegotiation запрашивает подтверждение входящего
	// перезапроса до отправки ответа. false отклоняет перезапрос
	// с 488 и событием OnRenegotiationAborted
	ConfirmRenegotiation(s *Session, kind RenegotiationKind) bool

	// OnRenegotiationReceived входящий re-INVITE подтвержден и отвечен
	OnRenegotiationReceived(s *Session, kind RenegotiationKind)

	// OnRenegotiationAccepted исходящий re-INVITE принят удаленной стороной
	OnRenegotiationAccepted(s *Session, kind RenegotiationKind)

	// OnRenegotiationAborted перезапрос не состоялся: исходящий отклонен
	// удаленной стороной или не дождался ответа, входящий не прошел
	// подтверждение или согласование медиа
	OnRenegotiationAborted(s *Session, kind RenegotiationKind, code ErrorCode)
}

// NoOpListener пустая реализация для встраивания в тестах и
// приложениях, которым нужна только часть событий.
// Перезапросы подтверждаются без участия пользователя.
type NoOpListener struct{}

func (NoOpListener) ConfirmRenegotiation(*Session, RenegotiationKind) bool     { return true }
func (NoOpListener) OnSessionInvited(*Session)                                 {}
func (NoOpListener) OnSessionStarted(*Session)                                 {}
func (NoOpListener) OnSessionRejected(*Session, ErrorCode)                     {}
func (NoOpListener) OnSessionTerminated(*Session)                              {}
func (NoOpListener) OnCallError(*Session, ErrorCode)                           {}
func (NoOpListener) OnRenegotiationReceived(*Session, RenegotiationKind)       {}
func (NoOpListener) OnRenegotiationAccepted(*Session, RenegotiationKind)       {}
func (NoOpListener) OnRenegotiationAborted(*Session, RenegotiationKind, ErrorCode) {
}

package session

import (
	"context"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// Manager точка входа слоя IP звонков: создает исходящие сессии и
// маршрутизирует входящие запросы по Call-ID.
type Manager struct {
	cfg      Config
	tr       sipcore.Transport
	log      sipcore.Logger
	listener Listener
	metrics  *Metrics
	registry *Registry

	// onFailure запускает внеплановое обновление возможностей контакта
	// после транспортного сбоя или финального отказа звонка
	onFailure func(peer string)
}

// NewManager создает менеджер сессий
func NewManager(cfg Config, tr sipcore.Transport, log sipcore.Logger, listener Listener) *Manager {
	if log == nil {
		log = sipcore.GetDefaultLogger()
	}
	if listener == nil {
		listener = NoOpListener{}
	}
	return &Manager{
		cfg:      cfg,
		tr:       tr,
		log:      log.WithComponent("session"),
		listener: listener,
		registry: NewRegistry(cfg.MaxSessions),
	}
}

// SetMetrics подключает счетчики сессий
func (m *Manager) SetMetrics(metrics *Metrics) { m.metrics = metrics }

// SetCapabilityRefresher подключает обновление возможностей контакта
// после транспортного сбоя или финального отказа звонка
func (m *Manager) SetCapabilityRefresher(fn func(peer string)) { m.onFailure = fn }

// ActiveWithPeer есть ли установленная сессия с контактом. Подключается
// к слою обнаружения для выбора объявляемых feature тегов.
func (m *Manager) ActiveWithPeer(peer string) bool { return m.registry.ActiveWithPeer(peer) }

// Get возвращает сессию по Call-ID
func (m *Manager) Get(callID string) (*Session, bool) { return m.registry.Get(callID) }

// ActiveCount число учтенных сессий
func (m *Manager) ActiveCount() int { return m.registry.Count() }

func (m *Manager) newSession(direction Direction, peer string, peerURI sip.Uri, callID string) *Session {
	return &Session{
		cfg:       m.cfg,
		tr:        m.tr,
		log:       m.log,
		listener:  m.listener,
		metrics:   m.metrics,
		direction: direction,
		peer:      peer,
		peerURI:   peerURI,
		callID:    callID,
		localTag:  sipcore.GenerateTag(),
		createdAt: time.Now(),
		sm:        newSessionFSM(),
		onFailure: m.onFailure,
		onClose: func(s *Session) {
			m.registry.Remove(s.CallID())
			m.metrics.sessionClosed()
		},
	}
}

// Initiate начинает исходящий звонок. Предел одновременных сессий
// проверяется до любой работы с протоколом; приглашение выполняется
// в фоне, исходы доставляются слушателю.
func (m *Manager) Initiate(ctx context.Context, peer string, withVideo bool) (*Session, error) {
	peerURI, err := sipcore.PeerURI(peer, m.cfg.LocalDomain)
	if err != nil {
		return nil, err
	}
	if len(m.cfg.SupportedAudioCodecs) == 0 {
		return nil, sipcore.NewMediaError("NO_AUDIO_CODECS", "аудиокодеки не настроены")
	}

	s := m.newSession(DirectionOutgoing, peer, peerURI, sipcore.GenerateCallID())
	s.remoteTarget = peerURI
	if !m.registry.Add(s) {
		m.metrics.sessionFailed(ErrorMaxSessions)
		return nil, sipcore.NewLimitError("MAX_SESSIONS", "достигнут предел одновременных сессий")
	}
	m.metrics.sessionOpened()

	m.log.Info("исходящий звонок",
		sipcore.F("peer", peer), sipcore.F("call_id", s.callID), sipcore.F("video", withVideo))
	go s.dial(ctx, withVideo)
	return s, nil
}

// OnInvitationReceived обрабатывает входящий INVITE. Повторный INVITE
// существующего диалога передается сессии как перезапрос. Новый диалог
// отвергается с 488 при несогласуемом аудио и с 486 при достигнутом
// пределе сессий.
func (m *Manager) OnInvitationReceived(req *sip.Request) error {
	callID := m.callID(req)
	if callID == "" {
		return sipcore.NewProtocolError("NO_CALL_ID", "INVITE без Call-ID", nil)
	}
	if s, ok := m.registry.Get(callID); ok {
		s.HandleReinvite(req)
		return nil
	}

	peer, ok := m.peerFromRequest(req)
	if !ok {
		return m.respondFinal(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here")
	}

	desc, err := codec.ParseDescription(req.Body())
	if err != nil {
		m.log.Warn("SDP приглашения не разобран", sipcore.F("peer", peer), sipcore.ErrField(err))
		return m.respondFinal(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here")
	}

	s := m.newSession(DirectionIncoming, peer, req.From().Address, callID)
	wantVideo := codec.FindMedia(desc, "video") != nil
	if code := s.negotiateMedia(desc, wantVideo); code != ErrorNone {
		m.metrics.sessionFailed(code)
		return m.respondFinal(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here")
	}

	if !m.registry.Add(s) {
		m.metrics.sessionFailed(ErrorMaxSessions)
		return m.respondFinal(req, sipcore.StatusBusyHere, "Busy Here")
	}
	m.metrics.sessionOpened()

	if err := s.ring(req); err != nil {
		m.registry.Remove(callID)
		m.metrics.sessionClosed()
		return err
	}
	m.log.Info("входящий звонок",
		sipcore.F("peer", peer), sipcore.F("call_id", callID), sipcore.F("video", s.HasVideo()))
	m.listener.OnSessionInvited(s)
	return nil
}

// OnAckReceived подтверждение финального ответа существующего диалога
func (m *Manager) OnAckReceived(req *sip.Request) {
	if s, ok := m.registry.Get(m.callID(req)); ok {
		s.HandleACK(req)
	}
}

// OnCancelReceived отмена еще не отвеченного приглашения
func (m *Manager) OnCancelReceived(req *sip.Request) error {
	s, ok := m.registry.Get(m.callID(req))
	if !ok {
		return m.respondFinal(req, sipcore.StatusCallDoesNotExist, "Call/Transaction Does Not Exist")
	}
	s.HandleCancel(req)
	return nil
}

// OnByeReceived завершение существующего диалога удаленной стороной
func (m *Manager) OnByeReceived(req *sip.Request) error {
	s, ok := m.registry.Get(m.callID(req))
	if !ok {
		return m.respondFinal(req, sipcore.StatusCallDoesNotExist, "Call/Transaction Does Not Exist")
	}
	s.HandleBye(req)
	return nil
}

// TerminateAll завершает все активные сессии
func (m *Manager) TerminateAll() {
	for _, s := range m.registry.All() {
		s.Terminate()
	}
}

func (m *Manager) respondFinal(req *sip.Request, status int, reason string) error {
	return m.tr.SendResponse(sip.NewResponseFromRequest(req, status, reason, nil))
}

func (m *Manager) callID(req *sip.Request) string {
	if hdr := req.CallID(); hdr != nil {
		return hdr.Value()
	}
	return ""
}

func (m *Manager) peerFromRequest(req *sip.Request) (string, bool) {
	from := req.From()
	if from == nil || from.Address.User == "" {
		return "", false
	}
	return from.Address.User, true
}

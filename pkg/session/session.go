package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// Direction направление сессии.
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// Состояния жизненного цикла сессии
const (
	StateIdle        = "Idle"
	StateInviting    = "Inviting"
	StateRinging     = "Ringing"
	StateAccepted    = "Accepted"
	StateEstablished = "Established"
	StateNegotiating = "Negotiating"
	StateTerminated  = "Terminated"
)

// События конечного автомата
const (
	eventInvite    = "invite"
	eventRing      = "ring"
	eventAccept    = "accept"
	eventEstablish = "establish"
	eventNegotiate = "negotiate"
	eventComplete  = "complete"
	eventTerminate = "terminate"
)

/*
Диаграмма переходов:

	[Idle] → [Inviting] → [Established] ⇄ [Negotiating]
	[Idle] → [Ringing] → [Accepted] → [Established]
	любое нетерминальное → [Terminated]

Accepted — окно между отправленным 200 OK и полученным ACK
входящего приглашения.
*/
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventInvite, Src: []string{StateIdle}, Dst: StateInviting},
			{Name: eventRing, Src: []string{StateIdle}, Dst: StateRinging},
			{Name: eventAccept, Src: []string{StateRinging}, Dst: StateAccepted},
			{Name: eventEstablish, Src: []string{StateInviting, StateAccepted}, Dst: StateEstablished},
			{Name: eventNegotiate, Src: []string{StateEstablished}, Dst: StateNegotiating},
			{Name: eventComplete, Src: []string{StateNegotiating}, Dst: StateEstablished},
			{Name: eventTerminate, Src: []string{
				StateIdle, StateInviting, StateRinging, StateAccepted,
				StateEstablished, StateNegotiating,
			}, Dst: StateTerminated},
		},
		fsm.Callbacks{},
	)
}

// Session один IP звонок. Вместо иерархии по направлению — одна
// структура с тегом направления: поведение расходится только в точках
// установления, и эти точки явные.
//
// Методы Handle* вызываются менеджером при входящих запросах внутри
// диалога; Accept, Reject, Terminate и методы перезапроса — приложением.
type Session struct {
	cfg      Config
	tr       sipcore.Transport
	log      sipcore.Logger
	listener Listener
	metrics  *Metrics

	direction Direction
	peer      string
	peerURI   sip.Uri
	callID    string
	localTag  string
	createdAt time.Time

	sm *fsm.FSM

	mu           sync.Mutex
	localSeq     uint32
	remoteTag    string
	remoteTarget sip.Uri
	invite       *sip.Request // исходный входящий INVITE, до ответа на него
	errorCode    ErrorCode

	audio    codec.Codec
	video    codec.Codec
	hasVideo bool
	onHold   bool

	remoteAudioHost string
	remoteAudioPort int
	remoteVideoHost string
	remoteVideoPort int

	// interrupted взводится ровно один раз на любом терминальном пути;
	// повторные сигналы завершения становятся no-op
	interrupted atomic.Bool

	// decided взводится первым ответом на входящее приглашение,
	// конкурирующие Accept/Reject/таймер/CANCEL разрешаются здесь
	decided atomic.Bool

	ringTimer *time.Timer

	// onClose вызывается после перехода в Terminated, снимает сессию с учета
	onClose func(s *Session)

	// onFailure запускает внеплановое обновление возможностей контакта
	onFailure func(peer string)
}

func (s *Session) CallID() string       { return s.callID }
func (s *Session) Peer() string         { return s.peer }
func (s *Session) Direction() Direction { return s.direction }
func (s *Session) State() string        { return s.sm.Current() }

// Established сообщает, установлена ли сессия (включая окно перезапроса)
func (s *Session) Established() bool {
	st := s.sm.Current()
	return st == StateEstablished || st == StateNegotiating
}

// HasVideo есть ли согласованный видеопоток
func (s *Session) HasVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasVideo
}

// OnHold удерживается ли сессия
func (s *Session) OnHold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onHold
}

// AudioCodec согласованный аудиокодек
func (s *Session) AudioCodec() codec.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio
}

// VideoCodec согласованный видеокодек; второй результат false,
// если видеопотока нет
func (s *Session) VideoCodec() (codec.Codec, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video, s.hasVideo
}

// RemoteAudioEndpoint адрес удаленного аудиопотока из SDP
func (s *Session) RemoteAudioEndpoint() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAudioHost, s.remoteAudioPort
}

// RemoteVideoEndpoint адрес удаленного видеопотока из SDP
func (s *Session) RemoteVideoEndpoint() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteVideoHost, s.remoteVideoPort
}

// Failure причина завершения; ErrorNone для штатного завершения
func (s *Session) Failure() ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorCode
}

func (s *Session) transition(event string) error {
	from := s.sm.Current()
	if err := s.sm.Event(context.Background(), event); err != nil {
		return sipcore.NewStateError("BAD_TRANSITION",
			fmt.Sprintf("переход %q из состояния %s невозможен", event, from))
	}
	s.metrics.stateTransition(from, s.sm.Current())
	return nil
}

func (s *Session) nextSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSeq++
	return s.localSeq
}

// buildRequest собирает запрос внутри диалога. Recipient — удаленная
// цель из Contact, To — адрес записи контакта с его тегом.
func (s *Session) buildRequest(method sip.RequestMethod, seq uint32, contentType string, body []byte) *sip.Request {
	s.mu.Lock()
	target := s.remoteTarget
	remoteTag := s.remoteTag
	s.mu.Unlock()

	req := sip.NewRequest(method, target)
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: s.cfg.LocalUser, Host: s.cfg.LocalDomain},
		Params:  sip.NewParams().Add("tag", s.localTag),
	})
	toParams := sip.NewParams()
	if remoteTag != "" {
		toParams = toParams.Add("tag", remoteTag)
	}
	req.AppendHeader(&sip.ToHeader{Address: s.peerURI, Params: toParams})
	callID := sip.CallIDHeader(s.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	req.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{Scheme: "sip", User: s.cfg.LocalUser, Host: s.cfg.LocalAddress},
		Params:  sip.NewParams(),
	})
	if len(body) > 0 {
		req.AppendHeader(sip.NewHeader("Content-Type", contentType))
		req.SetBody(body)
	}
	return req
}

// localOffer строит SDP предложение со всеми поддерживаемыми кодеками
func (s *Session) localOffer(withVideo bool) ([]byte, error) {
	specs := []codec.MediaSpec{
		{Media: "audio", Port: s.cfg.AudioPort, Codecs: s.cfg.SupportedAudioCodecs},
	}
	if withVideo {
		specs = append(specs,
			codec.MediaSpec{Media: "video", Port: s.cfg.VideoPort, Codecs: s.cfg.SupportedVideoCodecs})
	}
	return codec.BuildDescription(s.cfg.LocalAddress, specs...)
}

// localAnswer строит SDP ответ с согласованными кодеками
func (s *Session) localAnswer(direction string) ([]byte, error) {
	s.mu.Lock()
	audio, video, hasVideo := s.audio, s.video, s.hasVideo
	s.mu.Unlock()

	specs := []codec.MediaSpec{
		{Media: "audio", Port: s.cfg.AudioPort, Codecs: []codec.Codec{audio}, Direction: direction},
	}
	if hasVideo {
		specs = append(specs,
			codec.MediaSpec{Media: "video", Port: s.cfg.VideoPort, Codecs: []codec.Codec{video}, Direction: direction})
	}
	return codec.BuildDescription(s.cfg.LocalAddress, specs...)
}

// negotiateMedia согласует медиа по удаленному описанию. Аудио
// обязательно: без единого пересечения сессия невозможна. Видео
// согласуется только при wantVideo и наличии видеопотока в описании;
// его отсутствие не фатально.
func (s *Session) negotiateMedia(desc *sdp.SessionDescription, wantVideo bool) ErrorCode {
	audioMedia := codec.FindMedia(desc, "audio")
	if audioMedia == nil {
		return ErrorUnsupportedAudio
	}
	audio, ok := codec.NegotiateAudio(s.cfg.SupportedAudioCodecs, codec.ExtractCodecs(audioMedia))
	if !ok {
		return ErrorUnsupportedAudio
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = audio
	if host, port, ok := codec.RemoteEndpoint(desc, "audio"); ok {
		s.remoteAudioHost, s.remoteAudioPort = host, port
	}

	s.hasVideo = false
	if wantVideo {
		if videoMedia := codec.FindMedia(desc, "video"); videoMedia != nil {
			if video, ok := codec.NegotiateVideo(s.cfg.SupportedVideoCodecs, codec.ExtractCodecs(videoMedia)); ok {
				s.video = video
				s.hasVideo = true
				if host, port, ok := codec.RemoteEndpoint(desc, "video"); ok {
					s.remoteVideoHost, s.remoteVideoPort = host, port
				}
			}
		}
	}
	return ErrorNone
}

// captureRemote запоминает тег и Contact удаленной стороны из ответа
func (s *Session) captureRemote(res *sip.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to := res.To(); to != nil {
		if tag, ok := to.Params.Get("tag"); ok && tag != "" {
			s.remoteTag = tag
		}
	}
	if c := res.GetHeader("Contact"); c != nil {
		raw := strings.Trim(c.Value(), "<>")
		var uri sip.Uri
		if err := sip.ParseUri(raw, &uri); err == nil {
			s.remoteTarget = uri
		}
	}
}

// dial выполняет исходящее приглашение. Блокирует до финального ответа;
// вызывается из горутины менеджера, все исходы доставляются слушателю.
func (s *Session) dial(ctx context.Context, withVideo bool) {
	if err := s.transition(eventInvite); err != nil {
		s.log.Error("исходящее приглашение из недопустимого состояния", sipcore.ErrField(err))
		return
	}

	offer, err := s.localOffer(withVideo)
	if err != nil {
		s.log.Error("не удалось построить SDP предложение", sipcore.ErrField(err))
		s.fail(ErrorProtocol)
		return
	}

	var inviteSeq uint32
	res, err := sipcore.ChallengeRoundTrip(ctx, s.tr, s.cfg.Auth, s.log,
		func(attempt int) (*sip.Request, error) {
			inviteSeq = s.nextSeq()
			return s.buildRequest(sip.INVITE, inviteSeq, "application/sdp", offer), nil
		})
	if err != nil {
		s.log.Warn("исходящее приглашение не удалось",
			sipcore.F("peer", s.peer), sipcore.ErrField(err))
		s.fail(ErrorTransport)
		return
	}

	switch {
	case res.Timeout:
		s.log.Debug("приглашение без ответа", sipcore.F("peer", s.peer))
		s.fail(ErrorTransport)
	case res.OK():
		s.completeOutgoing(res.Response, inviteSeq, withVideo)
	case res.StatusCode == sipcore.StatusBusyHere:
		s.rejected(ErrorPeerBusy)
	case res.StatusCode == sipcore.StatusNotAcceptableHere:
		s.rejected(ErrorUnsupportedAudio)
	case res.StatusCode == sipcore.StatusDecline:
		s.rejected(ErrorRejectedByUser)
	case res.StatusCode == sipcore.StatusRequestTimeout ||
		res.StatusCode == sipcore.StatusTemporarilyUnavailable:
		// Контакт не зарегистрирован: повод обновить его возможности
		s.fail(ErrorTransport)
	default:
		s.log.Debug("приглашение отклонено",
			sipcore.F("peer", s.peer), sipcore.F("status", res.StatusCode))
		s.rejected(ErrorProtocol)
	}
}

// completeOutgoing завершает установление исходящей сессии по 200 OK
func (s *Session) completeOutgoing(res *sip.Response, inviteSeq uint32, withVideo bool) {
	s.captureRemote(res)

	desc, err := codec.ParseDescription(res.Body())
	if err != nil {
		s.sendACK(inviteSeq)
		s.log.Warn("SDP ответ не разобран", sipcore.F("peer", s.peer), sipcore.ErrField(err))
		s.hangupAndFail(ErrorProtocol)
		return
	}
	if code := s.negotiateMedia(desc, withVideo); code != ErrorNone {
		s.sendACK(inviteSeq)
		s.hangupAndFail(code)
		return
	}

	s.sendACK(inviteSeq)
	if err := s.transition(eventEstablish); err != nil {
		// Сессию успели завершить, пока шел обмен
		s.sendBye()
		return
	}
	s.metrics.sessionStarted(s.direction, time.Since(s.createdAt))
	s.listener.OnSessionStarted(s)
}

// sendACK подтверждает финальный ответ на INVITE. CSeq совпадает
// с номером приглашения.
func (s *Session) sendACK(inviteSeq uint32) {
	req := s.buildRequest(sip.ACK, inviteSeq, "", nil)
	if err := s.tr.Send(req); err != nil {
		s.log.Warn("не удалось отправить ACK", sipcore.F("peer", s.peer), sipcore.ErrField(err))
	}
}

// ring готовит входящую сессию: запрос сохранен, 180 отправлен,
// таймер решения взведен. Медиа уже согласовано менеджером.
func (s *Session) ring(req *sip.Request) error {
	if err := s.transition(eventRing); err != nil {
		return err
	}
	s.mu.Lock()
	s.invite = req
	if from := req.From(); from != nil {
		if tag, ok := from.Params.Get("tag"); ok {
			s.remoteTag = tag
		}
	}
	if c := req.GetHeader("Contact"); c != nil {
		raw := strings.Trim(c.Value(), "<>")
		var uri sip.Uri
		if err := sip.ParseUri(raw, &uri); err == nil {
			s.remoteTarget = uri
		}
	}
	s.mu.Unlock()

	ringing := sip.NewResponseFromRequest(req, sipcore.StatusRinging, "Ringing", nil)
	s.addLocalTag(ringing)
	if err := s.tr.SendResponse(ringing); err != nil {
		s.log.Warn("не удалось отправить 180", sipcore.F("peer", s.peer), sipcore.ErrField(err))
	}

	if s.cfg.RingTimeout > 0 {
		s.mu.Lock()
		s.ringTimer = time.AfterFunc(s.cfg.RingTimeout, s.ringExpired)
		s.mu.Unlock()
	}
	return nil
}

func (s *Session) addLocalTag(res *sip.Response) {
	if to := res.To(); to != nil {
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params = to.Params.Add("tag", s.localTag)
		}
	}
}

func (s *Session) stopRingTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

// ringExpired срабатывает, если приглашение не отвечено вовремя
func (s *Session) ringExpired() {
	if !s.decided.CompareAndSwap(false, true) {
		return
	}
	s.respondToInvite(sipcore.StatusTemporarilyUnavailable, "Temporarily Unavailable", "", nil)
	s.fail(ErrorNotAnswered)
}

// respondToInvite отвечает на сохраненный входящий INVITE
func (s *Session) respondToInvite(status int, reason, contentType string, body []byte) {
	s.mu.Lock()
	req := s.invite
	s.mu.Unlock()
	if req == nil {
		return
	}
	s.respondTo(req, status, reason, contentType, body)
}

// Accept принимает входящее приглашение. withVideo=false отбрасывает
// согласованный видеопоток и принимает только аудио.
func (s *Session) Accept(withVideo bool) error {
	if s.direction != DirectionIncoming {
		return sipcore.NewStateError("NOT_INCOMING", "принять можно только входящее приглашение")
	}
	if !s.decided.CompareAndSwap(false, true) {
		return sipcore.NewStateError("ALREADY_DECIDED", "приглашение уже отвечено")
	}
	s.stopRingTimer()
	if err := s.transition(eventAccept); err != nil {
		return err
	}

	if !withVideo {
		s.mu.Lock()
		s.hasVideo = false
		s.mu.Unlock()
	}

	answer, err := s.localAnswer("")
	if err != nil {
		s.respondToInvite(sipcore.StatusNotAcceptableHere, "Not Acceptable Here", "", nil)
		s.fail(ErrorProtocol)
		return err
	}
	s.respondToInvite(sipcore.StatusOK, "OK", "application/sdp", answer)
	return nil
}

// Reject отклоняет входящее приглашение: 486 при busy, иначе 603.
func (s *Session) Reject(busy bool) error {
	if s.direction != DirectionIncoming {
		return sipcore.NewStateError("NOT_INCOMING", "отклонить можно только входящее приглашение")
	}
	if !s.decided.CompareAndSwap(false, true) {
		return sipcore.NewStateError("ALREADY_DECIDED", "приглашение уже отвечено")
	}
	s.stopRingTimer()

	if busy {
		s.respondToInvite(sipcore.StatusBusyHere, "Busy Here", "", nil)
		s.finishWith(ErrorRejectedBusy)
	} else {
		s.respondToInvite(sipcore.StatusDecline, "Decline", "", nil)
		s.finishWith(ErrorRejectedByUser)
	}
	return nil
}

// HandleACK подтверждение принятого приглашения: сессия установлена
func (s *Session) HandleACK(req *sip.Request) {
	if s.sm.Current() != StateAccepted {
		return
	}
	if err := s.transition(eventEstablish); err != nil {
		return
	}
	s.mu.Lock()
	s.invite = nil
	s.mu.Unlock()
	s.metrics.sessionStarted(s.direction, time.Since(s.createdAt))
	s.listener.OnSessionStarted(s)
}

// HandleCancel удаленная сторона отменила свое приглашение
func (s *Session) HandleCancel(req *sip.Request) {
	res := sip.NewResponseFromRequest(req, sipcore.StatusOK, "OK", nil)
	if err := s.tr.SendResponse(res); err != nil {
		s.log.Warn("не удалось ответить на CANCEL", sipcore.ErrField(err))
	}
	if !s.decided.CompareAndSwap(false, true) {
		return
	}
	s.stopRingTimer()
	s.respondToInvite(sipcore.StatusRequestTerminated, "Request Terminated", "", nil)
	s.finishWith(ErrorCancelled)
}

// HandleBye удаленная сторона завершила сессию
func (s *Session) HandleBye(req *sip.Request) {
	res := sip.NewResponseFromRequest(req, sipcore.StatusOK, "OK", nil)
	if err := s.tr.SendResponse(res); err != nil {
		s.log.Warn("не удалось ответить на BYE", sipcore.ErrField(err))
	}
	s.finishWith(ErrorNone)
}

// Terminate завершает сессию локально. До установления исходящее
// приглашение отменяется, входящее отклоняется; установленная сессия
// закрывается через BYE. Повторный вызов безопасен.
func (s *Session) Terminate() {
	switch s.sm.Current() {
	case StateInviting:
		// Блокирующий dial получит финальный ответ (487) и завершит сам,
		// здесь достаточно отправить CANCEL
		s.sendCancel()
		s.finishWith(ErrorNone)
	case StateRinging:
		_ = s.Reject(false)
	case StateEstablished, StateNegotiating, StateAccepted:
		s.sendBye()
		s.finishWith(ErrorNone)
	default:
		s.finishWith(ErrorNone)
	}
}

func (s *Session) sendCancel() {
	s.mu.Lock()
	seq := s.localSeq
	s.mu.Unlock()
	req := s.buildRequest(sip.CANCEL, seq, "", nil)
	if err := s.tr.Send(req); err != nil {
		s.log.Warn("не удалось отправить CANCEL", sipcore.F("peer", s.peer), sipcore.ErrField(err))
	}
}

func (s *Session) sendBye() {
	req := s.buildRequest(sip.BYE, s.nextSeq(), "", nil)
	if _, err := s.tr.SendAndAwait(context.Background(), req); err != nil {
		s.log.Warn("не удалось отправить BYE", sipcore.F("peer", s.peer), sipcore.ErrField(err))
	}
}

// hangupAndFail закрывает установление, провалившееся после 200 OK
func (s *Session) hangupAndFail(code ErrorCode) {
	s.sendBye()
	s.fail(code)
}

// fail завершает сессию с ошибкой. Выполняется ровно один раз,
// конкурирующие терминальные сигналы становятся no-op.
func (s *Session) fail(code ErrorCode) {
	if !s.interrupted.CompareAndSwap(false, true) {
		return
	}
	s.terminate(code)
	s.metrics.sessionFailed(code)
	s.listener.OnCallError(s, code)
	if code == ErrorTransport {
		// Контакт недоступен: его запись возможностей вероятно устарела
		s.refreshPeer()
	}
	s.close()
}

// rejected завершает исходящую сессию, отклоненную удаленной стороной
func (s *Session) rejected(code ErrorCode) {
	if !s.interrupted.CompareAndSwap(false, true) {
		return
	}
	s.terminate(code)
	s.metrics.sessionFailed(code)
	s.listener.OnSessionRejected(s, code)
	// Финальный отказ — повод перепроверить возможности контакта:
	// занятость, 488 и прочие отказы часто означают устаревшую запись
	s.refreshPeer()
	s.close()
}

// refreshPeer запускает внеплановое обновление возможностей контакта
func (s *Session) refreshPeer() {
	if s.onFailure != nil {
		go s.onFailure(s.peer)
	}
}

// finishWith завершает сессию без события ошибки. code фиксируется
// как причина для Failure.
func (s *Session) finishWith(code ErrorCode) {
	if !s.interrupted.CompareAndSwap(false, true) {
		return
	}
	s.terminate(code)
	if code != ErrorNone {
		s.metrics.sessionFailed(code)
	}
	s.listener.OnSessionTerminated(s)
	s.close()
}

func (s *Session) terminate(code ErrorCode) {
	s.mu.Lock()
	s.errorCode = code
	s.mu.Unlock()
	from := s.sm.Current()
	if err := s.sm.Event(context.Background(), eventTerminate); err == nil {
		s.metrics.stateTransition(from, StateTerminated)
	}
}

func (s *Session) close() {
	s.stopRingTimer()
	if s.onClose != nil {
		s.onClose(s)
	}
}

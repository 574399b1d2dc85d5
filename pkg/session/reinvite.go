package session

import (
	"context"

	"github.com/emiago/sipgo/sip"
	"github.com/pion/sdp/v3"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// Исходы перезапросов для метрик
const (
	renegotiationOK      = "ok"
	renegotiationAborted = "aborted"
)

// HandleReinvite обрабатывает входящий re-INVITE внутри установленной
// сессии. Тип перезапроса определяется по атрибуту направления и набору
// медиапотоков предложения:
//
//   - sendonly → удержание (ответ recvonly)
//   - inactive → удержание (ответ inactive)
//   - sendrecv при активном удержании → возобновление
//   - sendrecv с новым видеопотоком → добавление видео
//   - sendrecv без имевшегося видеопотока → удаление видео
//
// Перезапрос, меняющий состояние сессии, до ответа подтверждается
// слушателем через ConfirmRenegotiation; отказ или провал согласования
// медиа отклоняет его 488 с событием OnRenegotiationAborted.
func (s *Session) HandleReinvite(req *sip.Request) {
	if !s.Established() {
		s.respondTo(req, sipcore.StatusRequestPending, "Request Pending", "", nil)
		return
	}

	desc, err := codec.ParseDescription(req.Body())
	if err != nil {
		s.log.Warn("SDP перезапроса не разобран", sipcore.F("peer", s.peer), sipcore.ErrField(err))
		s.respondTo(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here", "", nil)
		return
	}

	kind, answerDirection, changed := s.classifyReinvite(desc)

	if changed && !s.listener.ConfirmRenegotiation(s, kind) {
		s.respondTo(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here", "", nil)
		s.abortRenegotiation(kind, ErrorRejectedByUser)
		return
	}

	wantVideo := codec.FindMedia(desc, "video") != nil
	if code := s.negotiateMedia(desc, wantVideo); code != ErrorNone {
		s.respondTo(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here", "", nil)
		if changed {
			s.abortRenegotiation(kind, code)
		}
		return
	}

	answer, err := s.localAnswer(answerDirection)
	if err != nil {
		s.log.Error("не удалось построить SDP ответа на перезапрос", sipcore.ErrField(err))
		s.respondTo(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here", "", nil)
		return
	}
	s.respondTo(req, sipcore.StatusOK, "OK", "application/sdp", answer)

	if !changed {
		return
	}
	s.mu.Lock()
	s.onHold = kind == RenegotiationHold
	s.mu.Unlock()
	s.metrics.renegotiation(kind, renegotiationOK)
	s.listener.OnRenegotiationReceived(s, kind)
}

// classifyReinvite определяет тип перезапроса относительно текущего
// состояния сессии. changed=false означает простое обновление без
// смены удержания и набора потоков.
func (s *Session) classifyReinvite(desc *sdp.SessionDescription) (RenegotiationKind, string, bool) {
	s.mu.Lock()
	onHold, hasVideo := s.onHold, s.hasVideo
	s.mu.Unlock()

	hasVideoOffer := codec.FindMedia(desc, "video") != nil

	switch codec.SessionDirection(desc) {
	case codec.DirectionSendOnly:
		return RenegotiationHold, codec.DirectionRecvOnly, !onHold
	case codec.DirectionInactive:
		return RenegotiationHold, codec.DirectionInactive, !onHold
	}

	switch {
	case onHold:
		return RenegotiationResume, "", true
	case hasVideoOffer && !hasVideo:
		return RenegotiationAddVideo, "", true
	case !hasVideoOffer && hasVideo:
		return RenegotiationRemoveVideo, "", true
	default:
		return RenegotiationResume, "", false
	}
}

func (s *Session) respondTo(req *sip.Request, status int, reason, contentType string, body []byte) {
	res := sip.NewResponseFromRequest(req, status, reason, body)
	s.addLocalTag(res)
	if contentType != "" {
		res.AppendHeader(sip.NewHeader("Content-Type", contentType))
	}
	if err := s.tr.SendResponse(res); err != nil {
		s.log.Warn("не удалось ответить на перезапрос",
			sipcore.F("peer", s.peer), sipcore.F("status", status), sipcore.ErrField(err))
	}
}

// SetOnHold ставит сессию на удержание или снимает с него.
// Блокирует до финального ответа на re-INVITE.
func (s *Session) SetOnHold(ctx context.Context, hold bool) error {
	if hold == s.OnHold() {
		return nil
	}
	kind := RenegotiationHold
	direction := codec.DirectionSendOnly
	if !hold {
		kind = RenegotiationResume
		direction = codec.DirectionSendRecv
	}
	return s.renegotiate(ctx, kind,
		func() ([]byte, error) { return s.localAnswer(direction) },
		func(*sip.Response) ErrorCode {
			s.mu.Lock()
			s.onHold = hold
			s.mu.Unlock()
			return ErrorNone
		})
}

// AddVideo добавляет видеопоток в установленную сессию.
// Блокирует до финального ответа на re-INVITE.
func (s *Session) AddVideo(ctx context.Context) error {
	if s.HasVideo() {
		return sipcore.NewStateError("VIDEO_PRESENT", "видеопоток уже согласован")
	}
	if len(s.cfg.SupportedVideoCodecs) == 0 {
		return sipcore.NewMediaError("NO_VIDEO_CODECS", "видеокодеки не настроены")
	}
	return s.renegotiate(ctx, RenegotiationAddVideo,
		func() ([]byte, error) {
			s.mu.Lock()
			audio := s.audio
			s.mu.Unlock()
			return codec.BuildDescription(s.cfg.LocalAddress,
				codec.MediaSpec{Media: "audio", Port: s.cfg.AudioPort, Codecs: []codec.Codec{audio}},
				codec.MediaSpec{Media: "video", Port: s.cfg.VideoPort, Codecs: s.cfg.SupportedVideoCodecs})
		},
		func(res *sip.Response) ErrorCode {
			desc, err := codec.ParseDescription(res.Body())
			if err != nil {
				return ErrorProtocol
			}
			videoMedia := codec.FindMedia(desc, "video")
			if videoMedia == nil {
				return ErrorUnsupportedVideo
			}
			video, ok := codec.NegotiateVideo(s.cfg.SupportedVideoCodecs, codec.ExtractCodecs(videoMedia))
			if !ok {
				return ErrorUnsupportedVideo
			}
			s.mu.Lock()
			s.video = video
			s.hasVideo = true
			if host, port, ok := codec.RemoteEndpoint(desc, "video"); ok {
				s.remoteVideoHost, s.remoteVideoPort = host, port
			}
			s.mu.Unlock()
			return ErrorNone
		})
}

// RemoveVideo убирает видеопоток из установленной сессии.
// Блокирует до финального ответа на re-INVITE.
func (s *Session) RemoveVideo(ctx context.Context) error {
	if !s.HasVideo() {
		return sipcore.NewStateError("VIDEO_ABSENT", "видеопотока нет")
	}
	return s.renegotiate(ctx, RenegotiationRemoveVideo,
		func() ([]byte, error) {
			s.mu.Lock()
			audio := s.audio
			s.mu.Unlock()
			return codec.BuildDescription(s.cfg.LocalAddress,
				codec.MediaSpec{Media: "audio", Port: s.cfg.AudioPort, Codecs: []codec.Codec{audio}})
		},
		func(*sip.Response) ErrorCode {
			s.mu.Lock()
			s.hasVideo = false
			s.remoteVideoHost, s.remoteVideoPort = "", 0
			s.mu.Unlock()
			return ErrorNone
		})
}

// renegotiate выполняет исходящий re-INVITE. Отказ или таймаут
// прерывает только перезапрос: сессия возвращается в установленное
// состояние с прежними параметрами. У перезапроса собственный
// независимый путь ответа на 407 challenge.
func (s *Session) renegotiate(ctx context.Context, kind RenegotiationKind,
	buildBody func() ([]byte, error), apply func(res *sip.Response) ErrorCode) error {

	if err := s.transition(eventNegotiate); err != nil {
		return err
	}
	// Любой исход возвращает сессию в установленное состояние,
	// кроме гонки с завершением
	defer func() { _ = s.sm.Event(context.Background(), eventComplete) }()

	body, err := buildBody()
	if err != nil {
		s.abortRenegotiation(kind, ErrorProtocol)
		return err
	}

	var inviteSeq uint32
	res, err := sipcore.ChallengeRoundTrip(ctx, s.tr, s.cfg.Auth, s.log,
		func(attempt int) (*sip.Request, error) {
			inviteSeq = s.nextSeq()
			return s.buildRequest(sip.INVITE, inviteSeq, "application/sdp", body), nil
		})
	if err != nil {
		s.abortRenegotiation(kind, ErrorTransport)
		return err
	}

	switch {
	case res.Timeout:
		s.abortRenegotiation(kind, ErrorTransport)
		return sipcore.NewTimeoutError("REINVITE_TIMEOUT", "перезапрос остался без ответа")
	case res.OK():
		s.sendACK(inviteSeq)
		if code := apply(res.Response); code != ErrorNone {
			s.abortRenegotiation(kind, code)
			return sipcore.NewMediaError("REINVITE_MEDIA", "медиа перезапроса не согласовано")
		}
		s.metrics.renegotiation(kind, renegotiationOK)
		s.listener.OnRenegotiationAccepted(s, kind)
		return nil
	case res.StatusCode == sipcore.StatusNotAcceptableHere:
		s.abortRenegotiation(kind, ErrorUnsupportedVideo)
		return nil
	default:
		s.log.Debug("перезапрос отклонен",
			sipcore.F("peer", s.peer), sipcore.F("status", res.StatusCode))
		s.abortRenegotiation(kind, ErrorProtocol)
		return nil
	}
}

func (s *Session) abortRenegotiation(kind RenegotiationKind, code ErrorCode) {
	s.metrics.renegotiation(kind, renegotiationAborted)
	s.listener.OnRenegotiationAborted(s, kind, code)
}

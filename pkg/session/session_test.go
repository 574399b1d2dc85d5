package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// events собирает события слушателя в буферизованные каналы
type events struct {
	invited    chan *session.Session
	started    chan *session.Session
	rejected   chan session.ErrorCode
	terminated chan struct{}
	failed     chan session.ErrorCode
	renegIn    chan session.RenegotiationKind
	renegOK    chan session.RenegotiationKind
	renegFail  chan renegFailure

	// confirm решает судьбу входящего перезапроса; nil принимает все
	confirm func(session.RenegotiationKind) bool
}

type renegFailure struct {
	kind session.RenegotiationKind
	code session.ErrorCode
}

func newEvents() *events {
	return &events{
		invited:    make(chan *session.Session, 8),
		started:    make(chan *session.Session, 8),
		rejected:   make(chan session.ErrorCode, 8),
		terminated: make(chan struct{}, 8),
		failed:     make(chan session.ErrorCode, 8),
		renegIn:    make(chan session.RenegotiationKind, 8),
		renegOK:    make(chan session.RenegotiationKind, 8),
		renegFail:  make(chan renegFailure, 8),
	}
}

func (e *events) OnSessionInvited(s *session.Session)  { e.invited <- s }
func (e *events) OnSessionStarted(s *session.Session)  { e.started <- s }
func (e *events) OnSessionTerminated(*session.Session) { e.terminated <- struct{}{} }
func (e *events) OnSessionRejected(_ *session.Session, code session.ErrorCode) {
	e.rejected <- code
}
func (e *events) OnCallError(_ *session.Session, code session.ErrorCode) {
	e.failed <- code
}
func (e *events) ConfirmRenegotiation(_ *session.Session, kind session.RenegotiationKind) bool {
	if e.confirm == nil {
		return true
	}
	return e.confirm(kind)
}
func (e *events) OnRenegotiationReceived(_ *session.Session, kind session.RenegotiationKind) {
	e.renegIn <- kind
}
func (e *events) OnRenegotiationAccepted(_ *session.Session, kind session.RenegotiationKind) {
	e.renegOK <- kind
}
func (e *events) OnRenegotiationAborted(_ *session.Session, kind session.RenegotiationKind, code session.ErrorCode) {
	e.renegFail <- renegFailure{kind: kind, code: code}
}

func wait[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("не дождались события: %s", what)
		panic("unreachable")
	}
}

func assertNoEvent[T any](t *testing.T, ch chan T, what string) {
	t.Helper()
	select {
	case <-ch:
		t.Fatalf("неожиданное событие: %s", what)
	case <-time.After(50 * time.Millisecond):
	}
}

func testConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.LocalUser = "alice"
	cfg.LocalDomain = "example.com"
	cfg.LocalAddress = "10.0.0.1"
	cfg.SupportedAudioCodecs = []codec.Codec{
		{Encoding: "PCMA", PayloadType: 8, ClockRate: 8000},
		{Encoding: "AMR", PayloadType: 97, ClockRate: 8000},
	}
	cfg.SupportedVideoCodecs = []codec.Codec{
		{Encoding: "H264", PayloadType: 96, ClockRate: 90000},
	}
	return cfg
}

func newTestManager(t *testing.T, cfg session.Config) (*session.Manager, *sipcore.MockTransport, *events) {
	t.Helper()
	tr := sipcore.NewMockTransport()
	rec := newEvents()
	return session.NewManager(cfg, tr, sipcore.NoOpLogger{}, rec), tr, rec
}

// audioOffer строит SDP предложение удаленной стороны
func audioOffer(t *testing.T, withVideo bool, direction string) []byte {
	t.Helper()
	specs := []codec.MediaSpec{{
		Media: "audio", Port: 4000, Direction: direction,
		Codecs: []codec.Codec{{Encoding: "AMR", PayloadType: 97, ClockRate: 8000}},
	}}
	if withVideo {
		specs = append(specs, codec.MediaSpec{
			Media: "video", Port: 4002,
			Codecs: []codec.Codec{{Encoding: "H264", PayloadType: 99, ClockRate: 90000}},
		})
	}
	body, err := codec.BuildDescription("192.0.2.10", specs...)
	require.NoError(t, err)
	return body
}

func inboundRequest(method sip.RequestMethod, peer, callID string, seq uint32, body []byte) *sip.Request {
	req := sip.NewRequest(method, sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"})
	req.AppendHeader(&sip.FromHeader{
		Address: sip.Uri{Scheme: "sip", User: peer, Host: "example.com"},
		Params:  sip.NewParams().Add("tag", "remote-tag"),
	})
	req.AppendHeader(&sip.ToHeader{
		Address: sip.Uri{Scheme: "sip", User: "alice", Host: "example.com"},
		Params:  sip.NewParams(),
	})
	callIDHeader := sip.CallIDHeader(callID)
	req.AppendHeader(&callIDHeader)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: method})
	req.AppendHeader(&sip.ContactHeader{
		Address: sip.Uri{Scheme: "sip", User: peer, Host: "192.0.2.10"},
		Params:  sip.NewParams(),
	})
	if len(body) > 0 {
		req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		req.SetBody(body)
	}
	return req
}

// answer200 строит 200 OK с SDP ответом и тегом удаленной стороны
func answer200(t *testing.T, req *sip.Request, withVideo bool) sipcore.TransactionResult {
	t.Helper()
	specs := []codec.MediaSpec{{
		Media: "audio", Port: 5000,
		Codecs: []codec.Codec{{Encoding: "AMR", PayloadType: 97, ClockRate: 8000}},
	}}
	if withVideo {
		specs = append(specs, codec.MediaSpec{
			Media: "video", Port: 5002,
			Codecs: []codec.Codec{{Encoding: "H264", PayloadType: 96, ClockRate: 90000}},
		})
	}
	body, err := codec.BuildDescription("192.0.2.20", specs...)
	require.NoError(t, err)

	res := sipcore.ReplyWithBody(req, sipcore.StatusOK, "OK", "application/sdp", body)
	if to := res.Response.To(); to != nil {
		if _, ok := to.Params.Get("tag"); !ok {
			to.Params = to.Params.Add("tag", "answer-tag")
		}
	}
	return res
}

func TestOutgoingCallEstablished(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, false), nil
	}

	s, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)

	started := wait(t, rec.started, "установление сессии")
	assert.Same(t, s, started)
	assert.True(t, s.Established())
	assert.Equal(t, session.DirectionOutgoing, s.Direction())
	assert.Equal(t, "AMR", s.AudioCodec().Encoding)

	host, port := s.RemoteAudioEndpoint()
	assert.Equal(t, "192.0.2.20", host)
	assert.Equal(t, 5000, port)

	// Финальный ответ подтвержден ACK с номером приглашения
	raw := tr.SentRaw()
	require.Len(t, raw, 1)
	assert.Equal(t, sip.ACK, raw[0].Method)
	require.NotNil(t, raw[0].CSeq())
	assert.Equal(t, uint32(1), raw[0].CSeq().SeqNo)
}

func TestOutgoingCallBusy(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return sipcore.Reply(req, sipcore.StatusBusyHere, "Busy Here"), nil
	}
	refreshed := make(chan string, 1)
	mgr.SetCapabilityRefresher(func(peer string) { refreshed <- peer })

	s, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)

	code := wait(t, rec.rejected, "отклонение сессии")
	assert.Equal(t, session.ErrorPeerBusy, code)
	assert.Equal(t, session.StateTerminated, s.State())
	assert.Equal(t, 0, mgr.ActiveCount())

	// Занятость контакта ставит его запись возможностей под сомнение
	assert.Equal(t, "bob", wait(t, refreshed, "обновление возможностей"))
}

func TestOutgoingCallDeclinedRefreshesCapabilities(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return sipcore.Reply(req, sipcore.StatusDecline, "Decline"), nil
	}
	refreshed := make(chan string, 1)
	mgr.SetCapabilityRefresher(func(peer string) { refreshed <- peer })

	_, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)

	code := wait(t, rec.rejected, "отклонение сессии")
	assert.Equal(t, session.ErrorRejectedByUser, code)
	assert.Equal(t, "bob", wait(t, refreshed, "обновление возможностей"))
}

func TestOutgoingCallTimeoutRefreshesCapabilities(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(*sip.Request) (sipcore.TransactionResult, error) {
		return sipcore.ReplyTimeout(), nil
	}
	refreshed := make(chan string, 1)
	mgr.SetCapabilityRefresher(func(peer string) { refreshed <- peer })

	_, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)

	code := wait(t, rec.failed, "ошибка сессии")
	assert.Equal(t, session.ErrorTransport, code)
	assert.Equal(t, "bob", wait(t, refreshed, "обновление возможностей"))
}

func TestOutgoingCallAuthenticationChallenge(t *testing.T) {
	mgr, tr, rec := newTestManager(t, func() session.Config {
		cfg := testConfig()
		cfg.Auth = sipcore.AuthConfig{Username: "alice", Password: "secret"}
		return cfg
	}())

	attempts := 0
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		attempts++
		if attempts == 1 {
			res := sipcore.Reply(req, sipcore.StatusProxyAuthRequired, "Proxy Authentication Required")
			res.Response.AppendHeader(sip.NewHeader("Proxy-Authenticate",
				`Digest realm="example.com", nonce="abc123", algorithm=MD5`))
			return res, nil
		}
		return answer200(t, req, false), nil
	}

	_, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)
	wait(t, rec.started, "установление после challenge")

	reqs := tr.Requests()
	require.Len(t, reqs, 2)
	require.NotNil(t, reqs[1].CSeq())
	assert.Equal(t, uint32(2), reqs[1].CSeq().SeqNo, "повторная попытка увеличивает CSeq")
	assert.NotNil(t, reqs[1].GetHeader("Proxy-Authorization"))
	assert.Equal(t, reqs[0].CallID().Value(), reqs[1].CallID().Value(),
		"Call-ID сохраняется между попытками")
}

func TestOutgoingCallLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	mgr, tr, rec := newTestManager(t, cfg)
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, false), nil
	}

	_, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)
	wait(t, rec.started, "установление первой сессии")

	_, err = mgr.Initiate(context.Background(), "carol", false)
	require.Error(t, err)
	var coreErr *sipcore.Error
	require.ErrorAs(t, err, &coreErr)
	assert.Equal(t, sipcore.ErrorCategoryLimit, coreErr.Category)
	assert.Equal(t, 1, mgr.ActiveCount())
}

func TestIncomingCallAccepted(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())

	inv := inboundRequest(sip.INVITE, "bob", "call-in-1", 1, audioOffer(t, true, ""))
	require.NoError(t, mgr.OnInvitationReceived(inv))

	s := wait(t, rec.invited, "входящее приглашение")
	assert.Equal(t, session.DirectionIncoming, s.Direction())
	assert.Equal(t, "bob", s.Peer())
	assert.True(t, s.HasVideo(), "видео согласовано из предложения")

	// 180 ушел до решения приложения
	responses := tr.SentResponses()
	require.NotEmpty(t, responses)
	assert.Equal(t, sipcore.StatusRinging, int(responses[0].StatusCode))

	require.NoError(t, s.Accept(true))
	responses = tr.SentResponses()
	final := responses[len(responses)-1]
	assert.Equal(t, sipcore.StatusOK, int(final.StatusCode))
	assert.NotEmpty(t, final.Body(), "200 несет SDP ответ")
	to := final.To()
	require.NotNil(t, to)
	_, hasTag := to.Params.Get("tag")
	assert.True(t, hasTag, "200 несет локальный тег")

	// Сессия устанавливается только после ACK
	assert.False(t, s.Established())
	mgr.OnAckReceived(inboundRequest(sip.ACK, "bob", "call-in-1", 1, nil))
	wait(t, rec.started, "установление после ACK")
	assert.True(t, s.Established())
	assert.True(t, mgr.ActiveWithPeer("bob"))
}

func TestIncomingCallAudioOnlyAccept(t *testing.T) {
	mgr, _, rec := newTestManager(t, testConfig())

	inv := inboundRequest(sip.INVITE, "bob", "call-in-2", 1, audioOffer(t, true, ""))
	require.NoError(t, mgr.OnInvitationReceived(inv))
	s := wait(t, rec.invited, "входящее приглашение")

	// Принятие без видео отбрасывает согласованный видеопоток
	require.NoError(t, s.Accept(false))
	assert.False(t, s.HasVideo())
}

func TestIncomingCallRejected(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())

	inv := inboundRequest(sip.INVITE, "bob", "call-in-3", 1, audioOffer(t, false, ""))
	require.NoError(t, mgr.OnInvitationReceived(inv))
	s := wait(t, rec.invited, "входящее приглашение")

	require.NoError(t, s.Reject(true))
	wait(t, rec.terminated, "завершение сессии")
	assert.Equal(t, session.ErrorRejectedBusy, s.Failure())
	assert.Equal(t, 0, mgr.ActiveCount())

	responses := tr.SentResponses()
	final := responses[len(responses)-1]
	assert.Equal(t, sipcore.StatusBusyHere, int(final.StatusCode))

	// Повторное решение невозможно
	assert.Error(t, s.Accept(false))
}

func TestIncomingCallUnsupportedAudio(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())

	body, err := codec.BuildDescription("192.0.2.10", codec.MediaSpec{
		Media: "audio", Port: 4000,
		Codecs: []codec.Codec{{Encoding: "OPUS", PayloadType: 111, ClockRate: 48000}},
	})
	require.NoError(t, err)

	inv := inboundRequest(sip.INVITE, "bob", "call-in-4", 1, body)
	require.NoError(t, mgr.OnInvitationReceived(inv))

	// Аудио обязательно: без пересечения приглашение отвергается сразу
	assertNoEvent(t, rec.invited, "приглашение при несогласуемом аудио")
	responses := tr.SentResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, sipcore.StatusNotAcceptableHere, int(responses[0].StatusCode))
	assert.Equal(t, 0, mgr.ActiveCount())
}

func TestIncomingCallLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	mgr, tr, rec := newTestManager(t, cfg)

	require.NoError(t, mgr.OnInvitationReceived(
		inboundRequest(sip.INVITE, "bob", "call-in-5", 1, audioOffer(t, false, ""))))
	wait(t, rec.invited, "первое приглашение")

	require.NoError(t, mgr.OnInvitationReceived(
		inboundRequest(sip.INVITE, "carol", "call-in-6", 1, audioOffer(t, false, ""))))
	assertNoEvent(t, rec.invited, "приглашение сверх предела")

	responses := tr.SentResponses()
	final := responses[len(responses)-1]
	assert.Equal(t, sipcore.StatusBusyHere, int(final.StatusCode))
}

func TestIncomingCallCancelled(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())

	require.NoError(t, mgr.OnInvitationReceived(
		inboundRequest(sip.INVITE, "bob", "call-in-7", 1, audioOffer(t, false, ""))))
	s := wait(t, rec.invited, "входящее приглашение")

	require.NoError(t, mgr.OnCancelReceived(
		inboundRequest(sip.CANCEL, "bob", "call-in-7", 1, nil)))
	wait(t, rec.terminated, "завершение по CANCEL")
	assert.Equal(t, session.ErrorCancelled, s.Failure())

	var statuses []int
	for _, res := range tr.SentResponses() {
		statuses = append(statuses, int(res.StatusCode))
	}
	assert.Contains(t, statuses, sipcore.StatusOK, "CANCEL подтвержден")
	assert.Contains(t, statuses, sipcore.StatusRequestTerminated, "приглашение закрыто 487")
}

func TestIncomingCallNotAnswered(t *testing.T) {
	cfg := testConfig()
	cfg.RingTimeout = 30 * time.Millisecond
	mgr, tr, rec := newTestManager(t, cfg)

	require.NoError(t, mgr.OnInvitationReceived(
		inboundRequest(sip.INVITE, "bob", "call-in-8", 1, audioOffer(t, false, ""))))
	s := wait(t, rec.invited, "входящее приглашение")

	code := wait(t, rec.failed, "таймаут приглашения")
	assert.Equal(t, session.ErrorNotAnswered, code)
	assert.Equal(t, session.ErrorNotAnswered, s.Failure())

	responses := tr.SentResponses()
	final := responses[len(responses)-1]
	assert.Equal(t, sipcore.StatusTemporarilyUnavailable, int(final.StatusCode))
}

func TestRemoteByeTerminatesOnce(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	s := establishIncoming(t, mgr, tr, rec, "bob", "call-in-9", false)

	require.NoError(t, mgr.OnByeReceived(
		inboundRequest(sip.BYE, "bob", "call-in-9", 2, nil)))
	wait(t, rec.terminated, "завершение по BYE")
	assert.Equal(t, session.ErrorNone, s.Failure())
	assert.Equal(t, 0, mgr.ActiveCount())

	// Конкурирующие терминальные сигналы после завершения — no-op
	s.Terminate()
	require.NoError(t, mgr.OnByeReceived(
		inboundRequest(sip.BYE, "bob", "call-in-9", 3, nil)))
	assertNoEvent(t, rec.terminated, "повторное завершение")
}

func TestLocalTerminateSendsBye(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return sipcore.Reply(req, sipcore.StatusOK, "OK"), nil
	}
	s := establishIncoming(t, mgr, tr, rec, "bob", "call-in-10", false)

	s.Terminate()
	wait(t, rec.terminated, "локальное завершение")
	assert.Equal(t, 0, mgr.ActiveCount())

	reqs := tr.Requests()
	require.NotEmpty(t, reqs)
	bye := reqs[len(reqs)-1]
	assert.Equal(t, sip.BYE, bye.Method)
	assert.Equal(t, "call-in-10", bye.CallID().Value())
}

func TestUnknownDialogRequests(t *testing.T) {
	mgr, tr, _ := newTestManager(t, testConfig())

	require.NoError(t, mgr.OnByeReceived(
		inboundRequest(sip.BYE, "bob", "no-such-call", 1, nil)))
	responses := tr.SentResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, sipcore.StatusCallDoesNotExist, int(responses[0].StatusCode))
}

// establishIncoming проводит входящую сессию до установления
func establishIncoming(t *testing.T, mgr *session.Manager, tr *sipcore.MockTransport,
	rec *events, peer, callID string, withVideo bool) *session.Session {
	t.Helper()
	require.NoError(t, mgr.OnInvitationReceived(
		inboundRequest(sip.INVITE, peer, callID, 1, audioOffer(t, withVideo, ""))))
	s := wait(t, rec.invited, "входящее приглашение")
	require.NoError(t, s.Accept(withVideo))
	mgr.OnAckReceived(inboundRequest(sip.ACK, peer, callID, 1, nil))
	wait(t, rec.started, "установление сессии")
	return s
}

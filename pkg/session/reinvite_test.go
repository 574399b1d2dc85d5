package session_test

import (
	"context"
	"strings"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/codec"
	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

// reinvite строит повторный INVITE существующего диалога
func reinvite(t *testing.T, peer, callID string, seq uint32, withVideo bool, direction string) *sip.Request {
	t.Helper()
	return inboundRequest(sip.INVITE, peer, callID, seq, audioOffer(t, withVideo, direction))
}

func lastResponse(t *testing.T, tr *sipcore.MockTransport) *sip.Response {
	t.Helper()
	responses := tr.SentResponses()
	require.NotEmpty(t, responses)
	return responses[len(responses)-1]
}

func TestInboundHoldAndResume(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	s := establishIncoming(t, mgr, tr, rec, "bob", "hold-1", false)

	// sendonly от удаленной стороны: удержание, наш ответ recvonly
	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "hold-1", 2, false, codec.DirectionSendOnly)))
	kind := wait(t, rec.renegIn, "входящее удержание")
	assert.Equal(t, session.RenegotiationHold, kind)
	assert.True(t, s.OnHold())

	res := lastResponse(t, tr)
	assert.Equal(t, sipcore.StatusOK, int(res.StatusCode))
	assert.Contains(t, string(res.Body()), "a="+codec.DirectionRecvOnly)

	// Повтор того же удержания не меняет состояние и не дает события
	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "hold-1", 3, false, codec.DirectionSendOnly)))
	assertNoEvent(t, rec.renegIn, "повторное удержание")
	assert.True(t, s.OnHold())

	// sendrecv при активном удержании: возобновление
	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "hold-1", 4, false, "")))
	kind = wait(t, rec.renegIn, "возобновление")
	assert.Equal(t, session.RenegotiationResume, kind)
	assert.False(t, s.OnHold())
}

func TestInboundHoldInactive(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	s := establishIncoming(t, mgr, tr, rec, "bob", "hold-2", false)

	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "hold-2", 2, false, codec.DirectionInactive)))
	kind := wait(t, rec.renegIn, "входящее удержание inactive")
	assert.Equal(t, session.RenegotiationHold, kind)
	assert.True(t, s.OnHold())
	assert.Contains(t, string(lastResponse(t, tr).Body()), "a="+codec.DirectionInactive)
}

func TestInboundHoldRefused(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	s := establishIncoming(t, mgr, tr, rec, "bob", "hold-3", false)
	rec.confirm = func(session.RenegotiationKind) bool { return false }

	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "hold-3", 2, false, codec.DirectionSendOnly)))

	failure := wait(t, rec.renegFail, "отклонение удержания")
	assert.Equal(t, session.RenegotiationHold, failure.kind)
	assert.Equal(t, session.ErrorRejectedByUser, failure.code)
	assertNoEvent(t, rec.renegIn, "подтвержденное удержание")

	// Отклоненный перезапрос не трогает базовую сессию
	assert.Equal(t, sipcore.StatusNotAcceptableHere, int(lastResponse(t, tr).StatusCode))
	assert.True(t, s.Established())
	assert.False(t, s.OnHold())
}

func TestInboundAddRemoveVideo(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	s := establishIncoming(t, mgr, tr, rec, "bob", "video-1", false)
	require.False(t, s.HasVideo())

	// Предложение с видеопотоком внутри аудиосессии: добавление видео
	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "video-1", 2, true, "")))
	kind := wait(t, rec.renegIn, "добавление видео")
	assert.Equal(t, session.RenegotiationAddVideo, kind)
	assert.True(t, s.HasVideo())
	assert.Contains(t, string(lastResponse(t, tr).Body()), "m=video")

	// Предложение без имевшегося видеопотока: удаление видео
	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "video-1", 3, false, "")))
	kind = wait(t, rec.renegIn, "удаление видео")
	assert.Equal(t, session.RenegotiationRemoveVideo, kind)
	assert.False(t, s.HasVideo())
	assert.NotContains(t, string(lastResponse(t, tr).Body()), "m=video")
}

func TestReinviteBeforeEstablishment(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())

	require.NoError(t, mgr.OnInvitationReceived(
		inboundRequest(sip.INVITE, "bob", "early-1", 1, audioOffer(t, false, ""))))
	wait(t, rec.invited, "входящее приглашение")

	// Перезапрос до установления отвергается
	require.NoError(t, mgr.OnInvitationReceived(
		reinvite(t, "bob", "early-1", 2, false, codec.DirectionSendOnly)))
	assert.Equal(t, sipcore.StatusRequestPending, int(lastResponse(t, tr).StatusCode))
}

func TestOutboundHoldAndResume(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, false), nil
	}
	s := establishIncoming(t, mgr, tr, rec, "bob", "hold-out-1", false)

	require.NoError(t, s.SetOnHold(context.Background(), true))
	assert.True(t, s.OnHold())
	assert.Equal(t, session.RenegotiationHold, wait(t, rec.renegOK, "подтверждение удержания"))
	assert.True(t, s.Established(), "сессия остается установленной")

	reqs := tr.Requests()
	require.NotEmpty(t, reqs)
	hold := reqs[len(reqs)-1]
	assert.Equal(t, sip.INVITE, hold.Method)
	assert.True(t, strings.Contains(string(hold.Body()), "a="+codec.DirectionSendOnly))

	// Повторное удержание — no-op без обмена
	before := len(tr.Requests())
	require.NoError(t, s.SetOnHold(context.Background(), true))
	assert.Equal(t, before, len(tr.Requests()))

	require.NoError(t, s.SetOnHold(context.Background(), false))
	assert.False(t, s.OnHold())
	assert.Equal(t, session.RenegotiationResume, wait(t, rec.renegOK, "подтверждение возобновления"))
}

func TestOutboundAddVideo(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, true), nil
	}
	s := establishIncoming(t, mgr, tr, rec, "bob", "video-out-1", false)

	require.NoError(t, s.AddVideo(context.Background()))
	assert.True(t, s.HasVideo())
	assert.Equal(t, session.RenegotiationAddVideo, wait(t, rec.renegOK, "подтверждение видео"))

	host, port := s.RemoteVideoEndpoint()
	assert.Equal(t, "192.0.2.20", host)
	assert.Equal(t, 5002, port)

	// Перезапрос подтвержден ACK
	raw := tr.SentRaw()
	require.NotEmpty(t, raw)
	assert.Equal(t, sip.ACK, raw[len(raw)-1].Method)

	// Повторное добавление невозможно
	assert.Error(t, s.AddVideo(context.Background()))
}

func TestOutboundAddVideoRejected(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return sipcore.Reply(req, sipcore.StatusNotAcceptableHere, "Not Acceptable Here"), nil
	}
	s := establishIncoming(t, mgr, tr, rec, "bob", "video-out-2", false)

	require.NoError(t, s.AddVideo(context.Background()))
	failure := wait(t, rec.renegFail, "отказ в видео")
	assert.Equal(t, session.RenegotiationAddVideo, failure.kind)
	assert.Equal(t, session.ErrorUnsupportedVideo, failure.code)

	// Отказ в перезапросе не трогает базовую сессию
	assert.True(t, s.Established())
	assert.False(t, s.HasVideo())
}

func TestOutboundAddVideoAnswerWithoutVideo(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, false), nil
	}
	s := establishIncoming(t, mgr, tr, rec, "bob", "video-out-3", false)

	err := s.AddVideo(context.Background())
	require.Error(t, err)
	failure := wait(t, rec.renegFail, "ответ без видеопотока")
	assert.Equal(t, session.ErrorUnsupportedVideo, failure.code)
	assert.True(t, s.Established())
	assert.False(t, s.HasVideo())
}

func TestOutboundRemoveVideo(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, false), nil
	}
	s := establishIncoming(t, mgr, tr, rec, "bob", "video-out-4", true)
	require.True(t, s.HasVideo())

	require.NoError(t, s.RemoveVideo(context.Background()))
	assert.False(t, s.HasVideo())
	assert.Equal(t, session.RenegotiationRemoveVideo, wait(t, rec.renegOK, "подтверждение удаления видео"))

	reqs := tr.Requests()
	body := string(reqs[len(reqs)-1].Body())
	assert.NotContains(t, body, "m=video")

	// Без видеопотока удалять нечего
	assert.Error(t, s.RemoveVideo(context.Background()))
}

func TestOutboundRenegotiationTimeout(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	s := establishIncoming(t, mgr, tr, rec, "bob", "hold-out-2", false)

	// Без обработчика каждый обмен завершается таймаутом
	err := s.SetOnHold(context.Background(), true)
	require.Error(t, err)
	failure := wait(t, rec.renegFail, "таймаут перезапроса")
	assert.Equal(t, session.RenegotiationHold, failure.kind)
	assert.Equal(t, session.ErrorTransport, failure.code)
	assert.True(t, s.Established())
	assert.False(t, s.OnHold())
}

package session_test

import (
	"context"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_core/pkg/session"
	"github.com/arzzra/rcs_core/pkg/sipcore"
)

func TestSessionMetricsCollected(t *testing.T) {
	mgr, tr, rec := newTestManager(t, testConfig())
	reg := prometheus.NewRegistry()
	mgr.SetMetrics(session.NewMetrics(reg))
	tr.Handler = func(req *sip.Request) (sipcore.TransactionResult, error) {
		return answer200(t, req, false), nil
	}

	s, err := mgr.Initiate(context.Background(), "bob", false)
	require.NoError(t, err)
	wait(t, rec.started, "установление сессии")

	count, err := testutil.GatherAndCount(reg,
		"rcs_session_started_total", "rcs_session_setup_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "длительность установления наблюдается вместе со счетчиком")

	// Исходящий звонок без 180 проходит два перехода автомата:
	// приглашение и установление
	count, err = testutil.GatherAndCount(reg, "rcs_session_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	s.Terminate()
	wait(t, rec.terminated, "завершение сессии")

	count, err = testutil.GatherAndCount(reg, "rcs_session_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count, "завершение учтено отдельным переходом")
}

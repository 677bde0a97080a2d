package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle("oracle", time.Second, nil)
		m.CandidateCreated()
		m.SetWatermark(10)
		m.Notified("redis", errors.New("down"))
	})
}

func TestCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCycle("disputebot", time.Second, nil)
	m.ObserveCycle("disputebot", time.Second, errors.New("rpc"))
	m.Synced(3)
	m.PhaseChanged("commit_phase")
	m.SetWatermark(1234)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, `oraclebot_loop_cycles_total{component="disputebot",result="error"} 1`)
	assert.Contains(t, out, "oraclebot_syncer_listings_synced_total 3")
	assert.Contains(t, out, `oraclebot_coordinator_phase_transitions_total{to="commit_phase"} 1`)
	assert.Contains(t, out, "oraclebot_dispute_bot_event_watermark_block 1234")
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := New()
	m.ObserveGeneration(OutcomeOK, 2*time.Second)
	m.ObserveGeneration(OutcomeFailed, time.Second)
	m.ObserveGeneration(OutcomeInvalid, 0)
	m.LoopStarted()
	m.LoopStarted()
	m.LoopStopped()
	m.PersistFailed("chats")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeLoops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.persistFailures.WithLabelValues("chats")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveGeneration(OutcomeOK, time.Second)
	m.LoopStarted()
	m.LoopStopped()
	m.PersistFailed("characters")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.LoopStarted()
	m.ObserveGeneration(OutcomeOK, time.Second)
	m.ObserveGeneration(OutcomeInvalid, 0)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "tavern_interaction_loops_active 1")
	assert.Contains(t, string(body), "tavern_generation_duration_seconds_count 1")
}

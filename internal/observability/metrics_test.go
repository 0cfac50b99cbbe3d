package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	testMetrics     *Metrics
	testMetricsOnce sync.Once
)

// getTestMetrics returns a singleton metrics instance for all tests.
// This prevents duplicate Prometheus registration errors since metrics
// are registered globally.
func getTestMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

func TestNewMetrics(t *testing.T) {
	metrics := getTestMetrics()
	assert.NotNil(t, metrics)
	assert.NotNil(t, metrics.IngestPatchesTotal)
	assert.NotNil(t, metrics.IngestRejectedTotal)
	assert.NotNil(t, metrics.SegmentsEmittedTotal)
	assert.NotNil(t, metrics.TranslationRequestsTotal)
	assert.NotNil(t, metrics.TranslationFailedTotal)
	assert.NotNil(t, metrics.TTSBacklogSeconds)
	assert.NotNil(t, metrics.RoomListenersByRole)
	assert.NotNil(t, metrics.HTTPRequestsTotal)
	assert.NotNil(t, metrics.HTTPRequestDuration)
}

func TestMetrics_IngestPatchesTotal(t *testing.T) {
	metrics := getTestMetrics()

	metrics.IngestPatchesTotal.WithLabelValues("room-1", "ws").Inc()
	metrics.IngestPatchesTotal.WithLabelValues("room-1", "http").Inc()
}

func TestMetrics_TranslationFailedTotal(t *testing.T) {
	metrics := getTestMetrics()

	metrics.TranslationFailedTotal.WithLabelValues("de-DE").Inc()
}

func TestMetrics_TranslationLatency(t *testing.T) {
	metrics := getTestMetrics()

	metrics.TranslationLatencyMs.WithLabelValues("fr-CA").Observe(180.0)
	metrics.TranslationLatencyMs.WithLabelValues("es-MX").Observe(90.0)
}

func TestMetrics_TTSBacklogSeconds(t *testing.T) {
	metrics := getTestMetrics()

	metrics.TTSBacklogSeconds.WithLabelValues("room-1", "fr-CA").Set(3.5)
	metrics.TTSBacklogSeconds.WithLabelValues("room-1", "es-MX").Set(9.0)
}

func TestMetrics_RoomListenersByRole(t *testing.T) {
	metrics := getTestMetrics()

	metrics.RoomListenersByRole.WithLabelValues("room-1", "speaker").Set(1)
	metrics.RoomListenersByRole.WithLabelValues("room-1", "listener").Set(42)
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	metrics := getTestMetrics()

	metrics.HTTPRequestsTotal.WithLabelValues("POST", "/segments", "200").Inc()
	metrics.HTTPRequestDuration.WithLabelValues("POST", "/segments").Observe(100.0)
}

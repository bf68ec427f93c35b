package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"gosuda.org/vitalink/internal/metrics"
)

func TestRecordFrame(t *testing.T) {
	before := testutil.ToFloat64(metrics.FramesReceived.WithLabelValues("Vitals"))
	metrics.RecordFrame("Vitals", time.Now().Add(-2*time.Millisecond))
	after := testutil.ToFloat64(metrics.FramesReceived.WithLabelValues("Vitals"))
	assert.Equal(t, before+1, after)
}

func TestRecordDropped(t *testing.T) {
	before := testutil.ToFloat64(metrics.FramesDropped)
	metrics.RecordDropped(7)
	assert.Equal(t, before+7, testutil.ToFloat64(metrics.FramesDropped))
}

func TestRecordHandshake(t *testing.T) {
	ok := testutil.ToFloat64(metrics.HandshakeAttempts.WithLabelValues("ok"))
	absent := testutil.ToFloat64(metrics.HandshakeAttempts.WithLabelValues("absent"))

	metrics.RecordHandshake("ok", 3*time.Millisecond)
	metrics.RecordHandshake("absent", 0)
	metrics.RecordHandshake("absent", 0)

	assert.Equal(t, ok+1, testutil.ToFloat64(metrics.HandshakeAttempts.WithLabelValues("ok")))
	assert.Equal(t, absent+2, testutil.ToFloat64(metrics.HandshakeAttempts.WithLabelValues("absent")))
}

func TestGauges(t *testing.T) {
	metrics.RecordLag(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(metrics.RingLag))
	metrics.RecordState(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.SourceState))
}

func TestInstrumentsLint(t *testing.T) {
	problems, err := testutil.CollectAndLint(metrics.FramesDropped)
	assert.NoError(t, err)
	assert.Empty(t, problems)
}

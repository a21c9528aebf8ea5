package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	baseDiscovered := testutil.ToFloat64(messagesDiscovered.WithLabelValues("INBOX"))
	baseCompleted := testutil.ToFloat64(requestsFinished.WithLabelValues("completed"))
	baseAttempts := testutil.ToFloat64(extractionAttempts.WithLabelValues("success"))

	MessageDiscovered("INBOX")
	RequestFinished("completed", 2*time.Second)
	ExtractionAttempts("success", 2)
	ExtractionAttempts("success", 0)

	assert.Equal(t, baseDiscovered+1, testutil.ToFloat64(messagesDiscovered.WithLabelValues("INBOX")))
	assert.Equal(t, baseCompleted+1, testutil.ToFloat64(requestsFinished.WithLabelValues("completed")))
	assert.Equal(t, baseAttempts+2, testutil.ToFloat64(extractionAttempts.WithLabelValues("success")))
}

func TestInFlightGauge(t *testing.T) {
	base := testutil.ToFloat64(inFlight)
	PipelineStarted()
	assert.Equal(t, base+1, testutil.ToFloat64(inFlight))
	PipelineDone()
	assert.Equal(t, base, testutil.ToFloat64(inFlight))
}

package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/models"
)

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, text string) (*models.ExtractedRequirements, error) {
	args := m.Called(ctx, text)
	reqs, _ := args.Get(0).(*models.ExtractedRequirements)
	return reqs, args.Error(1)
}

var fastRetry = RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

func TestExtractWithRetry_RecoversFromTransientFailures(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(completionBody(`{"items":[{"description":"Pump","quantity":5}]}`)))
	}))
	defer server.Close()

	reqs, attempts, err := ExtractWithRetry(context.Background(), newTestExtractor(server.URL, time.Second), "quote 5 pumps", fastRetry)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	require.Len(t, reqs.Items, 1)
}

func TestExtractWithRetry_ExhaustionNamesTheCause(t *testing.T) {
	extractor := new(mockExtractor)
	extractor.On("Extract", mock.Anything, "text").Return(nil, &ierrors.TransientError{Reason: "timeout", Err: context.DeadlineExceeded})

	_, attempts, err := ExtractWithRetry(context.Background(), extractor, "text", fastRetry)
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Contains(t, err.Error(), "timeout")
	extractor.AssertNumberOfCalls(t, "Extract", 3)
}

func TestExtractWithRetry_StructuralErrorsAreNotRetried(t *testing.T) {
	extractor := new(mockExtractor)
	extractor.On("Extract", mock.Anything, "text").Return(nil, &ierrors.ServiceError{StatusCode: 400, Body: "bad"})

	_, attempts, err := ExtractWithRetry(context.Background(), extractor, "text", fastRetry)
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	extractor.AssertNumberOfCalls(t, "Extract", 1)
}

func TestExtractWithRetry_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	extractor := new(mockExtractor)
	extractor.On("Extract", mock.Anything, "text").Run(func(mock.Arguments) { cancel() }).
		Return(nil, &ierrors.TransientError{Reason: "network error"})

	_, attempts, err := ExtractWithRetry(ctx, extractor, "text", RetryPolicy{MaxAttempts: 5, Backoff: time.Minute})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_TransportErrorsAreRetried(t *testing.T) {
	calls := 0
	text, attempts, err := Retry(context.Background(), fastRetry, "read", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &ierrors.TransportError{Op: "download", Err: errors.New("connection reset by peer")}
		}
		return "helmet,50", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "helmet,50", text)
	assert.Equal(t, 3, attempts)

	_, attempts, err = Retry(context.Background(), fastRetry, "read", func(context.Context) (string, error) {
		return "", &ierrors.TransportError{Op: "download", Err: errors.New("connection reset by peer")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "read failed after 3 attempts")
}

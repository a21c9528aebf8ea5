package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/customeros/rfqstack/dto"
	ierrors "github.com/customeros/rfqstack/internal/errors"
	"github.com/customeros/rfqstack/internal/testutil"
)

func completionBody(content string) string {
	body, _ := json.Marshal(dto.ChatCompletionResponse{
		ID:      "cmpl-1",
		Choices: []dto.ChatChoice{{Message: dto.ChatMessage{Role: "assistant", Content: content}}},
	})
	return string(body)
}

func newTestExtractor(url string, timeout time.Duration) *requirementExtractor {
	return NewRequirementExtractor(Config{
		Url:           url,
		ApiKey:        "secret",
		Model:         "test-model",
		Timeout:       timeout,
		MaxInputChars: 1000,
	}, testutil.NewTestLogger()).(*requirementExtractor)
}

func TestExtract_ParsesItemsAndSendsRequest(t *testing.T) {
	var got dto.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = fmt.Fprint(w, completionBody(`{"items":[
			{"description":"Safety helmet","quantity":"20 pcs","unit":"pcs","unit_price":"$1,250.50","specifications":{"color":"yellow"},"category":"PPE"},
			{"description":"Gloves","quantity":40,"unit_price":null,"specifications":"","category":null},
			{"description":"","quantity":null}
		]}`))
	}))
	defer server.Close()

	reqs, err := newTestExtractor(server.URL+"/", time.Second).Extract(context.Background(), "Please quote 20 helmets and 40 gloves")
	require.NoError(t, err)

	assert.Equal(t, "test-model", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "Please quote 20 helmets and 40 gloves", got.Messages[1].Content)

	require.Len(t, reqs.Items, 2)
	helmet := reqs.Items[0]
	assert.Equal(t, "Safety helmet", helmet.Description)
	assert.Equal(t, 20.0, helmet.Quantity)
	assert.Equal(t, 1250.50, helmet.UnitPrice.OrElse(0))
	assert.JSONEq(t, `{"color":"yellow"}`, helmet.Specifications.OrElse(""))
	assert.Equal(t, "PPE", helmet.Category.OrElse(""))

	gloves := reqs.Items[1]
	assert.Equal(t, 40.0, gloves.Quantity)
	assert.False(t, gloves.HasUnitPrice())
	assert.False(t, gloves.HasSpecifications())
	assert.False(t, gloves.HasCategory())
}

func TestExtract_BlankInputSkipsService(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer server.Close()

	reqs, err := newTestExtractor(server.URL, time.Second).Extract(context.Background(), "  \n\t ")
	require.NoError(t, err)
	assert.NotNil(t, reqs)
	assert.Empty(t, reqs.Items)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestExtract_ClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer server.Close()

			_, err := newTestExtractor(server.URL, time.Second).Extract(context.Background(), "quote 5 pumps")
			require.Error(t, err)
			assert.Equal(t, tt.retryable, ierrors.IsRetryable(err))

			if tt.status == http.StatusTooManyRequests {
				var transient *ierrors.TransientError
				require.ErrorAs(t, err, &transient)
				assert.Equal(t, 3*time.Second, transient.RetryAfter)
			}
			if !tt.retryable {
				var serviceErr *ierrors.ServiceError
				require.ErrorAs(t, err, &serviceErr)
				assert.Equal(t, tt.status, serviceErr.StatusCode)
			}
		})
	}
}

func TestExtract_TimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := newTestExtractor(server.URL, 50*time.Millisecond).Extract(context.Background(), "quote 5 pumps")

	var transient *ierrors.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, "timeout", transient.Reason)
}

func TestExtract_MalformedResponses(t *testing.T) {
	bodies := map[string]string{
		"not json":        `<html>oops</html>`,
		"no choices":      `{"id":"x","choices":[]}`,
		"content garbage": completionBody("I could not find any items, sorry"),
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			_, err := newTestExtractor(server.URL, time.Second).Extract(context.Background(), "quote 5 pumps")
			assert.ErrorIs(t, err, ierrors.ErrMalformedResponse)
			assert.False(t, ierrors.IsRetryable(err))
		})
	}
}

func TestParseRequirements_FencesAndBareArrays(t *testing.T) {
	reqs, err := ParseRequirements("```json\n{\"items\":[{\"description\":\"Valve\",\"quantity\":2}]}\n```")
	require.NoError(t, err)
	require.Len(t, reqs.Items, 1)
	assert.Equal(t, "Valve", reqs.Items[0].Description)

	reqs, err = ParseRequirements(`[{"description":"Pipe","quantity":"12.5 m"}]`)
	require.NoError(t, err)
	require.Len(t, reqs.Items, 1)
	assert.Equal(t, 12.5, reqs.Items[0].Quantity)
}

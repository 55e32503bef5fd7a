// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okResponse(content string) string {
	return `{
		"id": "test-id",
		"model": "test-model",
		"choices": [{
			"message": {"role": "assistant", "content": ` + jsonString(content) + `},
			"finish_reason": "stop"
		}]
	}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestClient(serverURL string) *OpenAIClient {
	return NewOpenAIClient(serverURL, "sk-test-key", "test-model")
}

func TestChat_Success(t *testing.T) {
	var gotBody chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(okResponse("4")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	content, err := client.Chat(context.Background(), []ChatMessage{
		{Role: "user", Content: "2+2?"},
	}, DefaultOptions())

	require.NoError(t, err)
	assert.Equal(t, "4", content)

	// Request shape matches the provider contract.
	assert.Equal(t, "test-model", gotBody.Model)
	assert.Equal(t, 1.0, gotBody.Temperature)
	assert.Equal(t, 1.0, gotBody.TopP)
	assert.Equal(t, DefaultMaxTokens, gotBody.MaxTokens)
	assert.False(t, gotBody.Stream)
	assert.Equal(t, "disabled", gotBody.Thinking.Type)
	assert.True(t, gotBody.Thinking.ClearThinking)
}

func TestChat_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.Status)
	assert.Contains(t, terr.Body, "upstream exploded")
	assert.False(t, errors.Is(err, ErrCancelled))
}

func TestChat_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("this is not json"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestChat_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "x", "model": "m", "choices": []}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
}

func TestChat_NotConfigured(t *testing.T) {
	client := NewOpenAIClient("http://localhost:0", "", "test-model")
	_, err := client.Chat(context.Background(), nil, DefaultOptions())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestChat_CancelMidFlight(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Hold the request open until the test finishes.
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.Write([]byte(okResponse("too late")))
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL)

	go func() {
		time.Sleep(50 * time.Millisecond)
		client.Cancel()
	}()

	start := time.Now()
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())

	require.ErrorIs(t, err, ErrCancelled)
	// Cancellation latency is bounded by signal delivery, not the timeout.
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChat_LateSuccessDiscarded(t *testing.T) {
	// The server responds successfully, but only after cancellation has been
	// requested. The success must not be surfaced.
	cancelled := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-cancelled
		w.Write([]byte(okResponse("discard me")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Cancel()
		close(cancelled)
	}()

	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	require.ErrorIs(t, err, ErrCancelled)
}

func TestChat_CancelIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server's background read starts; otherwise it
		// never notices the client abort and r.Context() never fires.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	go func() {
		time.Sleep(20 * time.Millisecond)
		// Double-fire must not panic or deadlock.
		client.Cancel()
		client.Cancel()
		client.Cancel()
	}()

	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	require.ErrorIs(t, err, ErrCancelled)
}

func TestChat_CancelBeforeCallIsNoOp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(okResponse("fresh start")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	// A stale Cancel must not poison the next request: the signal is reset
	// when a call begins.
	client.Cancel()

	content, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "fresh start", content)
}

func TestChat_SignalClearedBetweenRequests(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			io.Copy(io.Discard, r.Body)
			<-r.Context().Done()
			return
		}
		w.Write([]byte(okResponse("second")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	go func() {
		time.Sleep(20 * time.Millisecond)
		client.Cancel()
	}()
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "first"}}, DefaultOptions())
	require.ErrorIs(t, err, ErrCancelled)

	// The cancel signal from the first request must not leak into the second.
	content, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "again"}}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, "second", content)
}

func TestChat_SecondCallWhileBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.Write([]byte(okResponse("done")))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "slow"}}, DefaultOptions())
		errCh <- err
	}()

	<-started
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "overlap"}}, DefaultOptions())
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-errCh)
}

func TestChat_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.Chat(ctx, []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	require.ErrorIs(t, err, ErrCancelled)
}

func TestTransportError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *TransportError
		want string
	}{
		{"status and body", &TransportError{Status: 500, Body: "boom"}, "chat request failed (HTTP 500): boom"},
		{"status only", &TransportError{Status: 404}, "chat request failed (HTTP 404)"},
		{"wrapped error", &TransportError{Err: errors.New("dial refused")}, "chat request failed: dial refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestSetTarget_RedirectsSubsequentRequests(t *testing.T) {
	type seen struct {
		auth  string
		model string
	}

	record := func(hits *[]seen) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			*hits = append(*hits, seen{auth: r.Header.Get("Authorization"), model: body.Model})
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(okResponse("ok")))
		}
	}

	var oldHits, newHits []seen
	oldServer := httptest.NewServer(record(&oldHits))
	defer oldServer.Close()
	newServer := httptest.NewServer(record(&newHits))
	defer newServer.Close()

	client := NewOpenAIClient(oldServer.URL, "sk-old-key", "old-model")
	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	require.NoError(t, err)

	client.SetTarget(newServer.URL+"/", "sk-new-key", "new-model")
	_, err = client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	require.NoError(t, err)

	require.Len(t, oldHits, 1)
	require.Len(t, newHits, 1)
	assert.Equal(t, "Bearer sk-old-key", oldHits[0].auth)
	assert.Equal(t, "old-model", oldHits[0].model)
	assert.Equal(t, "Bearer sk-new-key", newHits[0].auth)
	assert.Equal(t, "new-model", newHits[0].model)
	assert.Equal(t, "new-model", client.Model())
}

func TestSetTarget_EmptyKeyDeconfigures(t *testing.T) {
	client := NewOpenAIClient("http://localhost:1", "sk-key", "m")
	require.True(t, client.IsConfigured())

	client.SetTarget("http://localhost:1", "", "m")
	assert.False(t, client.IsConfigured())

	_, err := client.Chat(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, DefaultOptions())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

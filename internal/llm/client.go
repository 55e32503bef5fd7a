// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm implements the client for OpenAI-compatible chat completion
// endpoints.
//
// The client issues exactly one blocking request per Chat invocation and can
// be told to abandon it from another goroutine via Cancel. The HTTP call runs
// on its own goroutine; Chat waits on either the result or the cancel
// channel, so cancellation latency is bounded by channel delivery rather than
// the network timeout. A request that completes after cancellation is
// discarded, never surfaced.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Configuration constants for the chat completions API.
const (
	// DefaultTimeout is the hard ceiling on a single request.
	DefaultTimeout = 300 * time.Second

	// DefaultMaxTokens is the completion token ceiling sent with each request.
	DefaultMaxTokens = 4096 * 16

	// MaxResponseSize caps the response body to prevent memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

// Sentinel errors returned by Chat.
var (
	// ErrCancelled indicates the request was abandoned via Cancel.
	// Check with errors.Is; callers suppress this rather than report it.
	ErrCancelled = errors.New("request cancelled")

	// ErrBusy indicates Chat was called while another call was outstanding.
	// One outstanding call per client is the contract; this is caller misuse.
	ErrBusy = errors.New("a request is already in flight")

	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")
)

// TransportError represents a network, HTTP, or payload failure.
// It covers non-2xx responses, timeouts, and malformed bodies.
type TransportError struct {
	Status int    // HTTP status, 0 for network-level failures
	Body   string // response body, when one was received
	Err    error  // underlying error, when one exists
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("chat request failed (HTTP %d): %s", e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("chat request failed (HTTP %d)", e.Status)
	case e.Err != nil:
		return fmt.Sprintf("chat request failed: %v", e.Err)
	default:
		return "chat request failed"
	}
}

// Unwrap exposes the underlying error for errors.Is/As chains.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ChatMessage is a single message on the wire.
type ChatMessage struct {
	Role    string `json:"role"` // "user", "assistant", or "system"
	Content string `json:"content"`
}

// thinkingConfig disables provider-side reasoning traces; replies carry the
// final answer only.
type thinkingConfig struct {
	Type          string `json:"type"`
	ClearThinking bool   `json:"clear_thinking"`
}

// chatRequest is the request body for the chat completions endpoint.
type chatRequest struct {
	Model       string         `json:"model"`
	Messages    []ChatMessage  `json:"messages"`
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	TopP        float64        `json:"top_p"`
	Stream      bool           `json:"stream"`
	Thinking    thinkingConfig `json:"thinking"`
}

// chatResponse is the response body for the chat completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Options control the sampling parameters for a single request.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

// DefaultOptions returns the default sampling parameters.
func DefaultOptions() Options {
	return Options{
		Temperature: 1.0,
		MaxTokens:   DefaultMaxTokens,
		TopP:        1.0,
	}
}

// Client issues chat completion requests and supports out-of-band
// cancellation of the in-flight one.
type Client interface {
	// Chat sends the full message sequence and returns the first choice's
	// content. It fails with ErrCancelled after Cancel, with a
	// *TransportError on network/HTTP/payload problems, and with ErrBusy if
	// another call is outstanding.
	Chat(ctx context.Context, messages []ChatMessage, opts Options) (string, error)

	// Cancel abandons the in-flight request, if any. Idempotent; safe to
	// call before, during, or after a request, from any goroutine.
	Cancel()
}

// chatResult carries the outcome of the background HTTP call.
type chatResult struct {
	content string
	err     error
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	httpClient *http.Client

	mu sync.Mutex
	// Endpoint fields live behind mu so SetTarget can change them while
	// the shell is running; each request snapshots them once.
	apiBase string
	apiKey  string
	model   string

	inflight bool
	// cancelCh is re-created at the start of every request, so a stale
	// Cancel never aborts a later one. cancelOnce makes Cancel idempotent
	// within a request.
	cancelCh   chan struct{}
	cancelOnce *sync.Once
	// reqCtx/httpCancel tear down the underlying request so an abandoned
	// call does not hold a connection for the rest of its timeout.
	reqCtx     context.Context
	httpCancel context.CancelFunc
}

// Version is reported in the User-Agent header.
const Version = "1.0.0"

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for the given endpoint.
//
// apiBase is the URL prefix up to but excluding /chat/completions. The key
// may be empty; Chat then fails with ErrNotConfigured.
func NewOpenAIClient(apiBase, apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		apiBase: strings.TrimSuffix(apiBase, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient replaces the underlying HTTP client. Used by tests and by
// callers that need custom transport settings.
func (c *OpenAIClient) WithHTTPClient(hc *http.Client) *OpenAIClient {
	c.httpClient = hc
	return c
}

// SetTarget repoints the client at a new endpoint, key, and model. Safe to
// call while a request is in flight; the running request keeps the values it
// started with, subsequent requests use the new ones.
func (c *OpenAIClient) SetTarget(apiBase, apiKey, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiBase = strings.TrimSuffix(apiBase, "/")
	c.apiKey = strings.TrimSpace(apiKey)
	c.model = model
}

// Model returns the model name sent with each request.
func (c *OpenAIClient) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// IsConfigured returns true if an API key is set.
func (c *OpenAIClient) IsConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey != ""
}

// Chat implements Client.
//
// The network call runs on its own goroutine with a buffered result channel,
// so a late completion never blocks and is simply dropped. When both the
// result and the cancel signal are ready, cancellation wins: a cancelled
// request never reports success.
func (c *OpenAIClient) Chat(ctx context.Context, messages []ChatMessage, opts Options) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	cancelCh, err := c.begin(ctx)
	if err != nil {
		return "", err
	}
	defer c.end()

	resultCh := make(chan chatResult, 1)
	go func() {
		content, err := c.doRequest(messages, opts)
		resultCh <- chatResult{content: content, err: err}
	}()

	for {
		select {
		case <-cancelCh:
			return "", ErrCancelled
		case <-ctx.Done():
			c.Cancel()
			return "", ErrCancelled
		case res := <-resultCh:
			// Cancellation may have fired while the result was in transit;
			// a cancelled request must fail even if the call succeeded.
			select {
			case <-cancelCh:
				return "", ErrCancelled
			default:
			}
			if res.err != nil {
				return "", res.err
			}
			return res.content, nil
		}
	}
}

// begin marks the client busy and resets the cancel signal for this request.
func (c *OpenAIClient) begin(ctx context.Context) (chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight {
		return nil, ErrBusy
	}
	c.inflight = true
	c.cancelCh = make(chan struct{})
	c.cancelOnce = new(sync.Once)

	reqCtx, httpCancel := context.WithCancel(context.WithoutCancel(ctx))
	c.httpCancel = httpCancel
	c.reqCtx = reqCtx
	return c.cancelCh, nil
}

// end clears the in-flight marker once the request has resolved.
func (c *OpenAIClient) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = false
	if c.httpCancel != nil {
		c.httpCancel()
		c.httpCancel = nil
	}
}

// Cancel implements Client.
func (c *OpenAIClient) Cancel() {
	c.mu.Lock()
	once := c.cancelOnce
	ch := c.cancelCh
	httpCancel := c.httpCancel
	active := c.inflight
	c.mu.Unlock()

	if !active || once == nil {
		return
	}
	once.Do(func() {
		close(ch)
		if httpCancel != nil {
			httpCancel()
		}
	})
}

// doRequest performs the single HTTP round trip. It runs on the background
// goroutine; errors are converted to *TransportError here.
func (c *OpenAIClient) doRequest(messages []ChatMessage, opts Options) (string, error) {
	c.mu.Lock()
	apiBase, apiKey, model := c.apiBase, c.apiKey, c.model
	reqCtx := c.reqCtx
	c.mu.Unlock()

	reqBody := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stream:      false,
		Thinking: thinkingConfig{
			Type:          "disabled",
			ClearThinking: true,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	if reqCtx == nil {
		reqCtx = context.Background()
	}

	url := apiBase + "/chat/completions"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "troopy/"+Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("parse response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return "", &TransportError{Status: resp.StatusCode, Body: "response contained no choices"}
	}

	return chatResp.Choices[0].Message.Content, nil
}

// readResponse reads the body with a size limit to prevent memory exhaustion.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("response exceeded %d bytes", int64(MaxResponseSize))}
	}
	return body, nil
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package client implements the caller side of the AgentVault A2A
// protocol: authentication resolution against a KeyManager, the JSON-RPC
// request/response cycle, and event-stream subscriptions.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	a2a "github.com/ruFFaa/agentvault"
)

// defaultTimeout bounds non-streaming protocol calls.
const defaultTimeout = 30 * time.Second

// Client is the caller-side protocol façade. Each public operation opens
// exactly one HTTP request (or one stream); only the single 401-driven
// token refresh is retried automatically.
type Client struct {
	hc       *http.Client
	logger   *slog.Logger
	timeout  time.Duration
	resolver *AuthResolver
}

// New creates a new A2A client.
func New(opts ...Option) *Client {
	c := &Client{
		hc:      &http.Client{},
		logger:  slog.Default(),
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resolver = NewAuthResolver(c.hc, c.logger)
	return c
}

// Resolver exposes the client's auth resolver, mainly for tests and for
// callers that pre-warm the token cache.
func (c *Client) Resolver() *AuthResolver { return c.resolver }

// InitiateTask starts a new task on the remote agent with an initial
// message and returns the server-generated task id.
func (c *Client) InitiateTask(ctx context.Context, card *a2a.AgentCard, msg a2a.Message, km KeyManager, mcpContext jsontext.Value) (string, error) {
	if err := a2a.ValidateMCPContext(mcpContext); err != nil {
		return "", &MessageError{Reason: err.Error()}
	}

	params := a2a.TaskSendParams{ID: nil, Message: msg, MCPContext: mcpContext}
	result, err := c.call(ctx, card, km, a2a.MethodTasksSend, params)
	if err != nil {
		return "", err
	}

	var sent a2a.SendTaskResult
	if err := json.Unmarshal(result, &sent); err != nil {
		return "", &MessageError{Reason: "decode tasks/send result", Err: err}
	}
	if sent.ID == "" {
		return "", &MessageError{Reason: "tasks/send result missing task id"}
	}
	return sent.ID, nil
}

// SendMessage delivers a follow-up message to an existing task. It reports
// true iff the response carries a result and no error.
func (c *Client) SendMessage(ctx context.Context, card *a2a.AgentCard, taskID string, msg a2a.Message, km KeyManager, mcpContext jsontext.Value) (bool, error) {
	if err := a2a.ValidateMCPContext(mcpContext); err != nil {
		return false, &MessageError{Reason: err.Error()}
	}

	params := a2a.TaskSendParams{ID: &taskID, Message: msg, MCPContext: mcpContext}
	result, err := c.call(ctx, card, km, a2a.MethodTasksSend, params)
	if err != nil {
		return false, err
	}
	return len(result) > 0, nil
}

// GetTaskStatus fetches the full current snapshot of a task.
func (c *Client) GetTaskStatus(ctx context.Context, card *a2a.AgentCard, taskID string, km KeyManager) (*a2a.Task, error) {
	result, err := c.call(ctx, card, km, a2a.MethodTasksGet, a2a.TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	var task a2a.Task
	if err := json.Unmarshal(result, &task); err != nil {
		return nil, &MessageError{Reason: "decode tasks/get result", Err: err}
	}
	if err := task.Validate(); err != nil {
		return nil, &MessageError{Reason: "invalid task in tasks/get result", Err: err}
	}
	return &task, nil
}

// TerminateTask requests cancellation of a task. The returned bool comes
// from the server's result.success.
func (c *Client) TerminateTask(ctx context.Context, card *a2a.AgentCard, taskID string, km KeyManager) (bool, error) {
	result, err := c.call(ctx, card, km, a2a.MethodTasksCancel, a2a.TaskIDParams{ID: taskID})
	if err != nil {
		return false, err
	}

	var canceled a2a.CancelTaskResult
	if err := json.Unmarshal(result, &canceled); err != nil {
		return false, &MessageError{Reason: "decode tasks/cancel result", Err: err}
	}
	return canceled.Success, nil
}

// ReceiveMessages subscribes to a task's event stream. Handshake failures
// (network, HTTP status, a JSON-RPC error body) are returned here, before
// any event is produced; failures while iterating surface from
// [Stream.Next]. The returned stream holds exactly one open connection.
func (c *Client) ReceiveMessages(ctx context.Context, card *a2a.AgentCard, taskID string, km KeyManager) (*Stream, error) {
	body, err := encodeRequest(a2a.MethodTasksSendSubscribe, a2a.TaskIDParams{ID: taskID})
	if err != nil {
		return nil, err
	}

	resp, err := c.doWithAuthRetry(ctx, card, km, body, true)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.errorFromStatus(resp)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		// The server answered the handshake with a plain JSON-RPC body,
		// which for sendSubscribe can only be an error response.
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		var rpcResp a2a.Response
		if err := json.Unmarshal(raw, &rpcResp); err == nil && rpcResp.Error != nil {
			return nil, &RemoteAgentError{
				StatusCode: resp.StatusCode,
				Code:       rpcResp.Error.Code,
				Message:    rpcResp.Error.Message,
				Body:       truncateBody(raw),
			}
		}
		return nil, &MessageError{Reason: fmt.Sprintf("unexpected content type %q in subscribe handshake", ct)}
	}

	parser := NewSSEParser(resp.Body, card.URL, c.logger)
	c.logger.DebugContext(ctx, "subscribed to task events",
		slog.String("task_id", taskID), slog.String("agent", card.Name))
	return newStream(taskID, resp, parser), nil
}

// ResolveAgentCard fetches an agent card from its well-known path under
// baseURL.
func (c *Client) ResolveAgentCard(ctx context.Context, baseURL string, km KeyManager) (*a2a.AgentCard, error) {
	cardURL := strings.TrimRight(baseURL, "/") + a2a.AgentCardWellKnownPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, &ConnectionError{Operation: "build card request", URL: cardURL, Err: err}
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, c.classifyTransportError("fetch agent card", cardURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &RemoteAgentError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	var card a2a.AgentCard
	if err := json.UnmarshalRead(resp.Body, &card); err != nil {
		return nil, &MessageError{Reason: "decode agent card", Err: err}
	}
	if err := card.Validate(); err != nil {
		return nil, &MessageError{Reason: "invalid agent card", Err: err}
	}
	return &card, nil
}

// call performs one JSON-RPC exchange and returns the raw result payload.
func (c *Client) call(ctx context.Context, card *a2a.AgentCard, km KeyManager, method string, params any) (jsontext.Value, error) {
	body, err := encodeRequest(method, params)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.doWithAuthRetry(ctx, card, km, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.errorFromStatus(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Operation: "read response", URL: card.URL, Err: err}
	}

	var rpcResp a2a.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, &MessageError{Reason: "response is not valid JSON-RPC", Err: err}
	}
	if rpcResp.Error != nil {
		return nil, &RemoteAgentError{
			StatusCode: resp.StatusCode,
			Code:       rpcResp.Error.Code,
			Message:    rpcResp.Error.Message,
			Body:       truncateBody(raw),
		}
	}
	if len(rpcResp.Result) == 0 {
		return nil, &MessageError{Reason: "response carries neither result nor error"}
	}
	return rpcResp.Result, nil
}

// doWithAuthRetry issues the POST with resolved auth headers. A 401
// triggers exactly one forced token refresh and retry; a second 401 is
// surfaced as *AuthenticationError.
func (c *Client) doWithAuthRetry(ctx context.Context, card *a2a.AgentCard, km KeyManager, body []byte, streaming bool) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		headers, err := c.resolver.Resolve(ctx, card, km)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, card.URL, headers, body, streaming)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
		resp.Body.Close()

		if attempt > 0 {
			return nil, &AuthenticationError{
				Reason: fmt.Sprintf("agent %q rejected credentials after forced refresh: %s", card.Name, snippet),
			}
		}
		c.logger.DebugContext(ctx, "received 401, forcing token refresh",
			slog.String("agent", card.Name))
		c.resolver.Invalidate(ctx, card, km)
	}
}

// do issues one HTTP POST of an encoded JSON-RPC request.
func (c *Client) do(ctx context.Context, endpoint string, headers http.Header, body []byte, streaming bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ConnectionError{Operation: "build request", URL: endpoint, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	} else {
		req.Header.Set("Accept", "application/json")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	hc := c.hc
	if streaming && hc.Timeout != 0 {
		// A client-wide timeout would sever long-lived streams.
		hc = &http.Client{Transport: c.hc.Transport, Jar: c.hc.Jar}
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, c.classifyTransportError("request", endpoint, err)
	}
	return resp, nil
}

// errorFromStatus maps a non-2xx HTTP response to a RemoteAgentError
// carrying a truncated body snippet.
func (c *Client) errorFromStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit+1))
	return &RemoteAgentError{
		StatusCode: resp.StatusCode,
		Body:       truncateBody(body),
	}
}

// classifyTransportError maps transport failures onto the error taxonomy:
// deadline exceedance becomes *TimeoutError, everything else
// *ConnectionError.
func (c *Client) classifyTransportError(op, endpoint string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Operation: op, Duration: c.timeout, Err: err}
	}
	return &ConnectionError{Operation: op, URL: endpoint, Err: err}
}

// encodeRequest builds the serialized JSON-RPC request envelope with a
// fresh string id.
func encodeRequest(method string, params any) ([]byte, error) {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, &MessageError{Reason: "encode params", Err: err}
	}
	id, err := json.Marshal(uuid.NewString())
	if err != nil {
		return nil, &MessageError{Reason: "encode request id", Err: err}
	}

	req := a2a.NewRequest(id, method, rawParams)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &MessageError{Reason: "encode request", Err: err}
	}
	return body, nil
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	a2a "github.com/ruFFaa/agentvault"
	"github.com/ruFFaa/agentvault/client"
	"github.com/ruFFaa/agentvault/server"
)

// echoHandler drives every task to completion with an echoed reply.
type echoHandler struct{}

func (echoHandler) OnSendTask(ctx context.Context, task *server.TaskContext, msg a2a.Message, _ jsontext.Value) error {
	if err := task.SetState(ctx, a2a.TaskStateWorking); err != nil {
		return err
	}
	if err := task.AddMessage(ctx, a2a.Message{
		Role:    a2a.MessageRoleAssistant,
		Content: "Echo: " + msg.Content,
	}); err != nil {
		return err
	}
	return task.SetState(ctx, a2a.TaskStateCompleted)
}

func newTestRouter(t *testing.T, handler server.AgentHandler) (*httptest.Server, *server.TaskStore) {
	t.Helper()
	store := server.NewTaskStore()
	ts := httptest.NewServer(server.NewProtocolRouter(store, handler))
	t.Cleanup(ts.Close)
	return ts, store
}

func postRPC(t *testing.T, url, body string) *a2a.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var rpcResp a2a.Response
	require.NoError(t, json.Unmarshal(payload, &rpcResp), "body: %s", payload)
	return &rpcResp
}

func TestRouter_RejectsNonPOST(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})
	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouter_ParseError(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})
	resp := postRPC(t, ts.URL, "{not json")
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.ParseErrorCode, resp.Error.Code)
	assert.Equal(t, "null", string(resp.ID))
}

func TestRouter_InvalidRequest(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})
	resp := postRPC(t, ts.URL, `{"jsonrpc":"1.0","method":"tasks/get","id":7}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.InvalidRequestErrorCode, resp.Error.Code)
}

func TestRouter_MethodNotFound(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})
	resp := postRPC(t, ts.URL, `{"jsonrpc":"2.0","method":"tasks/purge","id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.MethodNotFoundErrorCode, resp.Error.Code)
}

func TestRouter_InvalidParams(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})

	tests := map[string]struct {
		body      string
		wantField string
	}{
		"get without id": {
			body:      `{"jsonrpc":"2.0","method":"tasks/get","params":{},"id":1}`,
			wantField: "id",
		},
		"cancel without id": {
			body:      `{"jsonrpc":"2.0","method":"tasks/cancel","params":{},"id":1}`,
			wantField: "id",
		},
		"send without message": {
			body:      `{"jsonrpc":"2.0","method":"tasks/send","params":{"id":null},"id":1}`,
			wantField: "message",
		},
		"send with non-object mcp context": {
			body:      `{"jsonrpc":"2.0","method":"tasks/send","params":{"id":null,"message":{"role":"user","content":"hi"},"mcp_context":[1]},"id":1}`,
			wantField: "mcp_context",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp := postRPC(t, ts.URL, tt.body)
			require.NotNil(t, resp.Error)
			assert.Equal(t, a2a.InvalidParamsErrorCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantField)
		})
	}
}

func TestRouter_SendTask(t *testing.T) {
	t.Parallel()

	ts, store := newTestRouter(t, echoHandler{})

	resp := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/send","params":{"id":null,"message":{"role":"user","content":"hello"}},"id":"req-1"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, `"req-1"`, string(resp.ID), "the request id must be echoed verbatim")

	var result a2a.SendTaskResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.NotEmpty(t, result.ID)

	task, err := store.GetTask(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, task.State)
	require.Len(t, task.Messages, 2)
	assert.Equal(t, a2a.MessageRoleUser, task.Messages[0].Role)
	assert.Equal(t, "Echo: hello", task.Messages[1].Content)

	resp2 := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/send","params":{"id":null,"message":{"role":"user","content":"again"}},"id":"req-2"}`)
	require.Nil(t, resp2.Error)

	var result2 a2a.SendTaskResult
	require.NoError(t, json.Unmarshal(resp2.Result, &result2))
	require.NotEmpty(t, result2.ID)
	assert.NotEqual(t, result.ID, result2.ID, "each send with a null id must mint a fresh task id")
}

func TestRouter_SendTaskUnknownID(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})
	resp := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/send","params":{"id":"ghost","message":{"role":"user","content":"hi"}},"id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.TaskNotFoundErrorCode, resp.Error.Code)
}

func TestRouter_SendTaskHandlerError(t *testing.T) {
	t.Parallel()

	failing := server.AgentHandlerFunc(func(ctx context.Context, task *server.TaskContext, _ a2a.Message, _ jsontext.Value) error {
		return errors.New("model backend unreachable")
	})
	ts, _ := newTestRouter(t, failing)

	resp := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/send","params":{"id":null,"message":{"role":"user","content":"hi"}},"id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.AppErrorCode, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "model backend unreachable")
}

func TestRouter_GetTask(t *testing.T) {
	t.Parallel()

	ts, store := newTestRouter(t, echoHandler{})
	tc, err := store.CreateTask(context.Background(), "t-42")
	require.NoError(t, err)
	require.NoError(t, tc.AddMessage(context.Background(), a2a.Message{
		Role: a2a.MessageRoleUser, Content: "ping",
	}))

	resp := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/get","params":{"id":"t-42"},"id":2}`)
	require.Nil(t, resp.Error)

	var task a2a.Task
	require.NoError(t, json.Unmarshal(resp.Result, &task))
	assert.Equal(t, "t-42", task.ID)
	assert.Equal(t, a2a.TaskStateSubmitted, task.State)
	require.Len(t, task.Messages, 1)

	resp = postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/get","params":{"id":"ghost"},"id":3}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.TaskNotFoundErrorCode, resp.Error.Code)
}

func TestRouter_CancelTask(t *testing.T) {
	t.Parallel()

	ts, store := newTestRouter(t, echoHandler{})
	ctx := context.Background()

	_, err := store.CreateTask(ctx, "active")
	require.NoError(t, err)

	resp := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/cancel","params":{"id":"active"},"id":1}`)
	require.Nil(t, resp.Error)
	var result a2a.CancelTaskResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.True(t, result.Success)

	task, err := store.GetTask(ctx, "active")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, task.State)

	// Canceling an already-finished task reports no effect, not an error.
	resp = postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/cancel","params":{"id":"active"},"id":2}`)
	require.Nil(t, resp.Error)
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.False(t, result.Success)
}

func sendSubscribe(t *testing.T, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// streamingHandler drives a subscribed task through the store once the
// subscription is live, and optionally fails mid-generation.
type streamingHandler struct {
	echoHandler
	failAfterStart bool
}

func (h *streamingHandler) ProduceEvents(ctx context.Context, task *server.TaskContext, _ chan<- a2a.Event) error {
	if err := task.SetState(ctx, a2a.TaskStateWorking); err != nil {
		return err
	}
	if h.failAfterStart {
		return fmt.Errorf("tool invocation failed")
	}
	if err := task.AddMessage(ctx, a2a.Message{
		Role:    a2a.MessageRoleAssistant,
		Content: "Echo: hi",
	}); err != nil {
		return err
	}
	return task.SetState(ctx, a2a.TaskStateCompleted)
}

func TestRouter_SendSubscribe(t *testing.T) {
	t.Parallel()

	ts, store := newTestRouter(t, &streamingHandler{})
	_, err := store.CreateTask(context.Background(), "t1")
	require.NoError(t, err)

	resp := sendSubscribe(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/sendSubscribe","params":{"id":"t1"},"id":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	parser := client.NewSSEParser(resp.Body, ts.URL, nil)

	ev, err := parser.Next()
	require.NoError(t, err)
	status, ok := ev.(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, "t1", status.TaskID)
	assert.Equal(t, a2a.TaskStateWorking, status.State)

	ev, err = parser.Next()
	require.NoError(t, err)
	msg, ok := ev.(*a2a.TaskMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "Echo: hi", msg.Message.Content)

	ev, err = parser.Next()
	require.NoError(t, err)
	status, ok = ev.(*a2a.TaskStatusUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, a2a.TaskStateCompleted, status.State)

	_, err = parser.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRouter_SendSubscribeHandlerError(t *testing.T) {
	t.Parallel()

	ts, store := newTestRouter(t, &streamingHandler{failAfterStart: true})
	_, err := store.CreateTask(context.Background(), "t1")
	require.NoError(t, err)

	resp := sendSubscribe(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/sendSubscribe","params":{"id":"t1"},"id":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	parser := client.NewSSEParser(resp.Body, ts.URL, nil)

	ev, err := parser.Next()
	require.NoError(t, err)
	require.Equal(t, a2a.StatusUpdateEventKind, ev.Kind())

	_, err = parser.Next()
	var streamErr *a2a.StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "RemoteAgentError", streamErr.Kind)
	assert.Contains(t, streamErr.Message, "tool invocation failed")
}

func TestRouter_SendSubscribeRejectsBeforeStreaming(t *testing.T) {
	t.Parallel()

	ts, _ := newTestRouter(t, echoHandler{})

	// Errors detected before the stream starts come back as a plain
	// JSON-RPC response, not as an SSE frame.
	resp := postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/sendSubscribe","params":{"id":"ghost"},"id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.TaskNotFoundErrorCode, resp.Error.Code)

	resp = postRPC(t, ts.URL,
		`{"jsonrpc":"2.0","method":"tasks/sendSubscribe","params":{},"id":2}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, a2a.InvalidParamsErrorCode, resp.Error.Code)
}

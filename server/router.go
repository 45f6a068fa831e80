// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	a2a "github.com/ruFFaa/agentvault"
)

// defaultHeartbeatInterval is how often an idle event stream emits a
// comment frame to keep intermediaries from severing the connection.
const defaultHeartbeatInterval = 15 * time.Second

// ProtocolRouter is the http.Handler for the A2A JSON-RPC endpoint. It
// owns envelope parsing, method dispatch, error mapping, and the SSE
// bridge for subscriptions; agent behavior lives behind the AgentHandler.
type ProtocolRouter struct {
	store     *TaskStore
	handler   AgentHandler
	logger    *slog.Logger
	metrics   *Metrics
	heartbeat time.Duration
}

// RouterOption configures a [ProtocolRouter].
type RouterOption func(*ProtocolRouter)

// WithRouterLogger sets the [*slog.Logger] for the router.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *ProtocolRouter) {
		r.logger = logger
	}
}

// WithRouterMetrics attaches task and stream instruments to the router.
func WithRouterMetrics(m *Metrics) RouterOption {
	return func(r *ProtocolRouter) {
		r.metrics = m
	}
}

// WithHeartbeatInterval sets the idle heartbeat period for event streams.
func WithHeartbeatInterval(d time.Duration) RouterOption {
	return func(r *ProtocolRouter) {
		if d > 0 {
			r.heartbeat = d
		}
	}
}

// NewProtocolRouter creates a router serving the given store and handler.
func NewProtocolRouter(store *TaskStore, handler AgentHandler, opts ...RouterOption) *ProtocolRouter {
	r := &ProtocolRouter{
		store:     store,
		handler:   handler,
		logger:    slog.Default(),
		heartbeat: defaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (rt *ProtocolRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rt.writeError(w, nil, a2a.NewParseError(err.Error()))
		return
	}

	var req a2a.Request
	if err := json.Unmarshal(body, &req); err != nil {
		rt.writeError(w, nil, a2a.NewParseError(err.Error()))
		return
	}
	if req.JSONRPC != a2a.Version {
		rt.writeError(w, req.ID, a2a.NewInvalidRequestError(
			fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC)))
		return
	}
	if req.Method == "" {
		rt.writeError(w, req.ID, a2a.NewInvalidRequestError("method cannot be empty"))
		return
	}

	switch req.Method {
	case a2a.MethodTasksSend:
		rt.handleSendTask(w, r, &req)
	case a2a.MethodTasksGet:
		rt.handleGetTask(w, r, &req)
	case a2a.MethodTasksCancel:
		rt.handleCancelTask(w, r, &req)
	case a2a.MethodTasksSendSubscribe:
		rt.handleSendSubscribe(w, r, &req)
	default:
		rt.writeError(w, req.ID, a2a.NewMethodNotFoundError(req.Method))
	}
}

// resolveSendParams decodes and validates tasks/send parameters, then
// locates or creates the target task. A non-nil *a2a.Error means the
// request must be rejected before any agent code runs.
func (rt *ProtocolRouter) resolveSendParams(r *http.Request, req *a2a.Request) (*TaskContext, *a2a.TaskSendParams, *a2a.Error) {
	var params a2a.TaskSendParams
	if len(req.Params) == 0 {
		return nil, nil, a2a.NewInvalidParamsError("params")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, nil, a2a.NewInvalidParamsError("params")
	}
	if err := params.Message.Validate(); err != nil {
		return nil, nil, a2a.NewInvalidParamsError("message")
	}
	if err := a2a.ValidateMCPContext(params.MCPContext); err != nil {
		return nil, nil, a2a.NewInvalidParamsError("mcp_context")
	}

	var (
		tc  *TaskContext
		err error
	)
	if params.ID == nil || *params.ID == "" {
		tc, err = rt.store.CreateTask(r.Context(), "")
		if err != nil {
			return nil, nil, a2a.NewInternalError(err.Error())
		}
		if rt.metrics != nil {
			rt.metrics.TaskCreated()
		}
	} else {
		tc, err = rt.store.Context(*params.ID)
		if err != nil {
			return nil, nil, a2a.NewTaskNotFoundError(*params.ID)
		}
		snapshot, err := tc.Snapshot(r.Context())
		if err != nil {
			return nil, nil, a2a.NewInternalError(err.Error())
		}
		if snapshot.State.IsTerminal() {
			return nil, nil, a2a.NewAppError(
				fmt.Sprintf("task %q is in terminal state %s", snapshot.ID, snapshot.State))
		}
	}

	if err := tc.AddMessage(r.Context(), params.Message); err != nil {
		return nil, nil, a2a.NewInternalError(err.Error())
	}
	return tc, &params, nil
}

func (rt *ProtocolRouter) handleSendTask(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	tc, params, rpcErr := rt.resolveSendParams(r, req)
	if rpcErr != nil {
		rt.writeError(w, req.ID, rpcErr)
		return
	}

	if err := rt.handler.OnSendTask(r.Context(), tc, params.Message, params.MCPContext); err != nil {
		rt.logger.ErrorContext(r.Context(), "agent handler failed",
			slog.String("task_id", tc.ID()), slog.Any("error", err))
		rt.writeError(w, req.ID, a2a.NewAppError(err.Error()))
		return
	}

	rt.writeResult(w, req.ID, a2a.SendTaskResult{ID: tc.ID()})
}

func (rt *ProtocolRouter) handleGetTask(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	var params a2a.TaskIDParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.ID == "" {
		rt.writeError(w, req.ID, a2a.NewInvalidParamsError("id"))
		return
	}

	task, err := rt.store.GetTask(r.Context(), params.ID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			rt.writeError(w, req.ID, a2a.NewTaskNotFoundError(params.ID))
			return
		}
		rt.writeError(w, req.ID, a2a.NewInternalError(err.Error()))
		return
	}

	rt.writeResult(w, req.ID, task)
}

func (rt *ProtocolRouter) handleCancelTask(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	var params a2a.TaskIDParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.ID == "" {
		rt.writeError(w, req.ID, a2a.NewInvalidParamsError("id"))
		return
	}

	task, err := rt.store.GetTask(r.Context(), params.ID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			rt.writeError(w, req.ID, a2a.NewTaskNotFoundError(params.ID))
			return
		}
		rt.writeError(w, req.ID, a2a.NewInternalError(err.Error()))
		return
	}

	// Canceling a finished task is not an error; it reports that the
	// cancellation had no effect.
	if task.State.IsTerminal() {
		rt.writeResult(w, req.ID, a2a.CancelTaskResult{Success: false})
		return
	}

	if canceler, ok := rt.handler.(TaskCanceler); ok {
		tc, err := rt.store.Context(params.ID)
		if err == nil {
			if err := canceler.OnCancelTask(r.Context(), tc); err != nil {
				rt.logger.WarnContext(r.Context(), "cancel hook failed",
					slog.String("task_id", params.ID), slog.Any("error", err))
			}
		}
	}

	if _, err := rt.store.UpdateTaskState(r.Context(), params.ID, a2a.TaskStateCanceled); err != nil {
		// The handler's cancel hook may have already driven the task to a
		// terminal state; that still counts as not canceled by us.
		if errors.Is(err, ErrTaskTerminal) {
			rt.writeResult(w, req.ID, a2a.CancelTaskResult{Success: false})
			return
		}
		rt.writeError(w, req.ID, a2a.NewInternalError(err.Error()))
		return
	}

	rt.writeResult(w, req.ID, a2a.CancelTaskResult{Success: true})
}

// handleSendSubscribe turns the response into an SSE stream over the
// task's events. Every failure detected before the task is located comes
// back as a plain JSON-RPC error; once the stream headers are out, the
// HTTP status is already committed and errors can only travel in-band.
func (rt *ProtocolRouter) handleSendSubscribe(w http.ResponseWriter, r *http.Request, req *a2a.Request) {
	var params a2a.TaskIDParams
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.ID == "" {
		rt.writeError(w, req.ID, a2a.NewInvalidParamsError("id"))
		return
	}

	tc, err := rt.store.Context(params.ID)
	if err != nil {
		rt.writeError(w, req.ID, a2a.NewTaskNotFoundError(params.ID))
		return
	}

	sub, err := tc.Subscribe()
	if err != nil {
		rt.writeError(w, req.ID, a2a.NewInternalError(err.Error()))
		return
	}
	defer sub.Unsubscribe()

	// An optional pull-based producer runs alongside the push-based store
	// subscription; its events go out on the same stream. It must be
	// started before headers so a refusal still maps to a JSON-RPC error.
	var producerEvents <-chan a2a.Event
	producerDone := make(chan error, 1)
	if producer, ok := rt.handler.(EventProducer); ok {
		events := make(chan a2a.Event)
		producerEvents = events
		go func() {
			defer close(events)
			producerDone <- producer.ProduceEvents(r.Context(), tc, events)
		}()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		rt.writeError(w, req.ID, a2a.NewInternalError("streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if rt.metrics != nil {
		rt.metrics.StreamOpened()
		defer rt.metrics.StreamClosed()
	}

	ticker := time.NewTicker(rt.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				if errors.Is(sub.Err(), ErrSlowSubscriber) {
					rt.writeSSEError(w, flusher, &a2a.StreamError{
						Code:    a2a.AppErrorCode,
						Kind:    "ConnectionError",
						Message: "event stream fell behind and was dropped",
					})
				}
				return
			}
			if err := rt.writeSSEEvent(w, flusher, ev); err != nil {
				rt.logger.DebugContext(r.Context(), "event stream write failed",
					slog.String("task_id", tc.ID()), slog.Any("error", err))
				return
			}

		case ev, open := <-producerEvents:
			if !open {
				producerEvents = nil
				continue
			}
			if err := rt.writeSSEEvent(w, flusher, ev); err != nil {
				rt.logger.DebugContext(r.Context(), "event stream write failed",
					slog.String("task_id", tc.ID()), slog.Any("error", err))
				return
			}

		case err := <-producerDone:
			if err != nil {
				rt.logger.ErrorContext(r.Context(), "event producer failed",
					slog.String("task_id", tc.ID()), slog.Any("error", err))
				// Events already queued ahead of the failure still belong
				// before the error frame.
				rt.drainSSE(w, flusher, sub, producerEvents)
				rt.writeSSEError(w, flusher, &a2a.StreamError{
					Code:    a2a.AppErrorCode,
					Kind:    "RemoteAgentError",
					Message: err.Error(),
				})
				return
			}
			producerDone = nil

		case <-ticker.C:
			rt.writeSSEComment(w, flusher, "heartbeat")

		case <-r.Context().Done():
			return
		}
	}
}

// drainSSE forwards events already buffered on either source. The
// producer has returned at this point, so nothing new can appear.
func (rt *ProtocolRouter) drainSSE(w http.ResponseWriter, flusher http.Flusher, sub *Subscription, producerEvents <-chan a2a.Event) {
	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if rt.writeSSEEvent(w, flusher, ev) != nil {
				return
			}
		case ev, open := <-producerEvents:
			if !open {
				producerEvents = nil
				continue
			}
			if rt.writeSSEEvent(w, flusher, ev) != nil {
				return
			}
		default:
			return
		}
	}
}

// writeSSEEvent emits one event frame: an event name line, a data line,
// and the blank terminator.
func (rt *ProtocolRouter) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev a2a.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Kind(), err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind(), payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// writeSSEError emits an in-band error frame. The stream is unusable for
// further events afterwards.
func (rt *ProtocolRouter) writeSSEError(w http.ResponseWriter, flusher http.Flusher, streamErr *a2a.StreamError) {
	payload, err := json.Marshal(streamErr)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", a2a.ErrorEventKind, payload)
	flusher.Flush()
}

// writeSSEComment emits a comment frame. Receivers ignore it.
func (rt *ProtocolRouter) writeSSEComment(w http.ResponseWriter, flusher http.Flusher, text string) {
	fmt.Fprintf(w, ": %s\n\n", text)
	flusher.Flush()
}

// writeResult writes a JSON-RPC success response, echoing the request id
// verbatim.
func (rt *ProtocolRouter) writeResult(w http.ResponseWriter, id jsontext.Value, result any) {
	encoded, err := json.Marshal(result)
	if err != nil {
		rt.writeError(w, id, a2a.NewInternalError(err.Error()))
		return
	}
	rt.writeResponse(w, &a2a.Response{
		JSONRPC: a2a.Version,
		Result:  jsontext.Value(encoded),
		ID:      normalizeID(id),
	})
}

// writeError writes a JSON-RPC error response, echoing the request id
// verbatim. A nil id (unparsable request) is reported as null.
func (rt *ProtocolRouter) writeError(w http.ResponseWriter, id jsontext.Value, rpcErr *a2a.Error) {
	rt.writeResponse(w, &a2a.Response{
		JSONRPC: a2a.Version,
		Error:   rpcErr,
		ID:      normalizeID(id),
	})
}

func (rt *ProtocolRouter) writeResponse(w http.ResponseWriter, resp *a2a.Response) {
	w.Header().Set("Content-Type", "application/json")
	payload, err := json.Marshal(resp)
	if err != nil {
		rt.logger.Error("encoding response failed", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if _, err := w.Write(payload); err != nil {
		rt.logger.Debug("writing response failed", slog.Any("error", err))
	}
}

// normalizeID maps an absent request id to the JSON null literal so the
// response envelope always carries an id member.
func normalizeID(id jsontext.Value) jsontext.Value {
	if len(id) == 0 {
		return jsontext.Value("null")
	}
	return id
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"io"
	"net/http"
	"sync"

	a2a "github.com/ruFFaa/agentvault"
)

// Stream is a lazy, non-restartable sequence of task events delivered over
// one open SSE connection. Events are pulled with Next; closing the stream
// (or abandoning it via context cancellation) closes the underlying
// connection and releases the server-side subscription.
type Stream struct {
	taskID string
	resp   *http.Response
	parser *SSEParser

	items chan streamItem
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// streamItem carries either an event or the error that ended the stream.
type streamItem struct {
	event a2a.Event
	err   error
}

// newStream starts the read loop over an established SSE response.
func newStream(taskID string, resp *http.Response, parser *SSEParser) *Stream {
	s := &Stream{
		taskID: taskID,
		resp:   resp,
		parser: parser,
		items:  make(chan streamItem),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// TaskID returns the id of the subscribed task.
func (s *Stream) TaskID() string { return s.taskID }

// Next returns the next event. It blocks until an event arrives, the
// stream ends, or ctx is done. A clean stream end (connection closed after
// a terminal status) returns ErrStreamClosed; failures return the typed
// error that interrupted the stream — mid-stream failures surface here, at
// the iteration boundary, never silently.
func (s *Stream) Next(ctx context.Context) (a2a.Event, error) {
	select {
	case item, ok := <-s.items:
		if !ok {
			return nil, ErrStreamClosed
		}
		if item.err != nil {
			return nil, item.err
		}
		return item.event, nil
	case <-ctx.Done():
		s.Close()
		return nil, ctx.Err()
	}
}

// Close terminates the subscription and closes the underlying connection.
// It is safe to call multiple times.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.resp != nil && s.resp.Body != nil {
			s.closeErr = s.resp.Body.Close()
		}
	})
	return s.closeErr
}

// readLoop pulls frames off the parser and hands them to Next. The loop
// ends after a terminal status event, a clean EOF, or any stream error.
func (s *Stream) readLoop() {
	defer close(s.items)
	defer s.Close()

	for {
		ev, err := s.parser.Next()
		if err != nil {
			if err == io.EOF {
				return
			}
			s.deliver(streamItem{err: err})
			return
		}

		if !s.deliver(streamItem{event: ev}) {
			return
		}

		if status, ok := ev.(*a2a.TaskStatusUpdateEvent); ok && status.State.IsTerminal() {
			return
		}
	}
}

// deliver hands one item to a waiting Next call; it reports false when the
// stream was closed before the item could be consumed.
func (s *Stream) deliver(item streamItem) bool {
	select {
	case s.items <- item:
		return true
	case <-s.done:
		return false
	}
}

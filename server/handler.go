// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	"github.com/go-json-experiment/json/jsontext"

	a2a "github.com/ruFFaa/agentvault"
)

// AgentHandler is the application-side contract of the protocol router.
// The router owns the wire; the handler owns the agent behavior.
type AgentHandler interface {
	// OnSendTask is invoked for every tasks/send and tasks/sendSubscribe
	// request after the incoming message has been recorded on the task.
	// The handler drives the task through the TaskContext: state
	// transitions, response messages, artifacts. A returned error surfaces
	// to the caller as an application-level failure.
	//
	// mcpContext is the optional contextual payload attached by the
	// caller, already validated to be a JSON object when present.
	OnSendTask(ctx context.Context, task *TaskContext, msg a2a.Message, mcpContext jsontext.Value) error
}

// TaskCanceler is an optional interface an AgentHandler can implement to
// take part in cancellation, for example to stop in-flight work. The
// router transitions the task to CANCELED regardless of whether the
// handler implements it.
type TaskCanceler interface {
	OnCancelTask(ctx context.Context, task *TaskContext) error
}

// EventProducer is an optional interface an AgentHandler can implement to
// feed a subscription stream directly instead of (or in addition to)
// publishing through the TaskStore. The router forwards everything sent
// on events to the subscriber; a non-nil return surfaces as an in-band
// error frame. The producer must stop sending once ctx is canceled, or it
// will block forever after the subscriber disconnects.
type EventProducer interface {
	ProduceEvents(ctx context.Context, task *TaskContext, events chan<- a2a.Event) error
}

// AgentHandlerFunc adapts a plain function to the AgentHandler interface.
type AgentHandlerFunc func(ctx context.Context, task *TaskContext, msg a2a.Message, mcpContext jsontext.Value) error

// OnSendTask implements [AgentHandler].
func (f AgentHandlerFunc) OnSendTask(ctx context.Context, task *TaskContext, msg a2a.Message, mcpContext jsontext.Value) error {
	return f(ctx, task, msg, mcpContext)
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
)

// EventKind discriminates the members of the Event union. The kind doubles
// as the SSE event name on the wire.
type EventKind string

const (
	// StatusUpdateEventKind tags TaskStatusUpdateEvent frames.
	StatusUpdateEventKind EventKind = "task_status"

	// MessageEventKind tags TaskMessageEvent frames.
	MessageEventKind EventKind = "task_message"

	// ArtifactUpdateEventKind tags TaskArtifactUpdateEvent frames.
	ArtifactUpdateEventKind EventKind = "task_artifact"

	// ErrorEventKind tags in-band stream error frames. Error frames are
	// not part of the Event union; they terminate the stream instead.
	ErrorEventKind EventKind = "error"
)

// Event is the closed union of task events delivered over a subscription
// stream. Every member carries the id of the subscribed task.
type Event interface {
	// Kind returns the discriminant used for wire dispatch.
	Kind() EventKind

	// EventTaskID returns the id of the task the event belongs to.
	EventTaskID() string
}

// TaskStatusUpdateEvent reports a task state transition.
type TaskStatusUpdateEvent struct {
	TaskID    string    `json:"task_id"`
	State     TaskState `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Message   *Message  `json:"message,omitzero"`
}

var _ Event = (*TaskStatusUpdateEvent)(nil)

// Kind implements [Event].
func (*TaskStatusUpdateEvent) Kind() EventKind { return StatusUpdateEventKind }

// EventTaskID implements [Event].
func (e *TaskStatusUpdateEvent) EventTaskID() string { return e.TaskID }

// TaskMessageEvent delivers a message appended to the task conversation.
type TaskMessageEvent struct {
	TaskID    string    `json:"task_id"`
	Message   Message   `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

var _ Event = (*TaskMessageEvent)(nil)

// Kind implements [Event].
func (*TaskMessageEvent) Kind() EventKind { return MessageEventKind }

// EventTaskID implements [Event].
func (e *TaskMessageEvent) EventTaskID() string { return e.TaskID }

// TaskArtifactUpdateEvent delivers a new or updated task artifact.
type TaskArtifactUpdateEvent struct {
	TaskID    string    `json:"task_id"`
	Artifact  Artifact  `json:"artifact"`
	Timestamp time.Time `json:"timestamp"`
}

var _ Event = (*TaskArtifactUpdateEvent)(nil)

// Kind implements [Event].
func (*TaskArtifactUpdateEvent) Kind() EventKind { return ArtifactUpdateEventKind }

// EventTaskID implements [Event].
func (e *TaskArtifactUpdateEvent) EventTaskID() string { return e.TaskID }

// StreamError is the payload of an in-band `event: error` frame. It names
// the error kind so the receiving side can re-raise the matching typed
// error instead of reporting a bare stream closure.
type StreamError struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind,omitzero"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("stream error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("stream error %d: %s", e.Code, e.Message)
}

// UnknownEventKindError is returned by DecodeEvent for event names outside
// the union. Receivers log and skip these frames rather than failing.
type UnknownEventKindError struct {
	Name string
}

// Error implements the error interface.
func (e *UnknownEventKindError) Error() string {
	return fmt.Sprintf("unknown event kind: %q", e.Name)
}

// DecodeEvent decodes an event payload by dispatching on its kind. The
// payload shape is never guessed structurally; an unrecognized kind yields
// *UnknownEventKindError.
func DecodeEvent(kind EventKind, data []byte) (Event, error) {
	switch kind {
	case StatusUpdateEventKind:
		var ev TaskStatusUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", kind, err)
		}
		return &ev, nil

	case MessageEventKind:
		var ev TaskMessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", kind, err)
		}
		return &ev, nil

	case ArtifactUpdateEventKind:
		var ev TaskArtifactUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s event: %w", kind, err)
		}
		return &ev, nil

	default:
		return nil, &UnknownEventKindError{Name: string(kind)}
	}
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

// Package a2a provides the wire types for the AgentVault agent-to-agent
// (A2A) task protocol: tasks, messages, artifacts, streaming events, and
// the JSON-RPC 2.0 envelope they travel in.
package a2a

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json/jsontext"
)

// TaskState represents the lifecycle state of a Task.
type TaskState string

const (
	// TaskStateSubmitted indicates the task has been submitted and not yet
	// picked up by the agent.
	TaskStateSubmitted TaskState = "SUBMITTED"

	// TaskStateWorking indicates the agent is actively working on the task.
	TaskStateWorking TaskState = "WORKING"

	// TaskStateInputRequired indicates the agent is waiting for additional
	// input from the caller before it can continue.
	TaskStateInputRequired TaskState = "INPUT_REQUIRED"

	// TaskStateCompleted indicates the task finished successfully.
	TaskStateCompleted TaskState = "COMPLETED"

	// TaskStateFailed indicates the task finished with an error.
	TaskStateFailed TaskState = "FAILED"

	// TaskStateCanceled indicates the task was canceled before completion.
	TaskStateCanceled TaskState = "CANCELED"
)

// IsTerminal reports whether the state is final. Once a task reaches a
// terminal state no further transition is valid.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known task state.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired,
		TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a task in state s may move to next.
// Terminal states accept no transitions.
func (s TaskState) CanTransition(next TaskState) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	switch s {
	case TaskStateSubmitted:
		return next != TaskStateSubmitted
	case TaskStateWorking:
		return next != TaskStateSubmitted
	case TaskStateInputRequired:
		return next == TaskStateWorking || next.IsTerminal()
	default:
		return false
	}
}

// MessageRole identifies the author of a message.
type MessageRole string

const (
	// MessageRoleUser marks a message authored by the calling side.
	MessageRoleUser MessageRole = "user"

	// MessageRoleAssistant marks a message authored by the remote agent.
	MessageRoleAssistant MessageRole = "assistant"

	// MessageRoleSystem marks an out-of-band protocol message.
	MessageRoleSystem MessageRole = "system"
)

// Message is a single conversational turn exchanged over a task.
type Message struct {
	Role     MessageRole    `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitzero"`
}

// Validate ensures the message is structurally sound.
func (m Message) Validate() error {
	if m.Role == "" {
		return fmt.Errorf("message role cannot be empty")
	}
	if m.Content == "" {
		return fmt.Errorf("message content cannot be empty")
	}
	return nil
}

// Artifact is a typed output produced by an agent while working on a task.
type Artifact struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Content   jsontext.Value `json:"content"`
	MediaType string         `json:"media_type,omitzero"`
	Metadata  map[string]any `json:"metadata,omitzero"`
}

// Validate ensures the artifact is structurally sound.
func (a Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact ID cannot be empty")
	}
	if a.Type == "" {
		return fmt.Errorf("artifact type cannot be empty")
	}
	return nil
}

// Task is a unit of work tracked from submission to a terminal outcome.
// A Task is owned exclusively by the side that created it; readers must
// treat it as immutable.
type Task struct {
	ID        string     `json:"id"`
	State     TaskState  `json:"state"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Messages  []Message  `json:"messages"`
	Artifacts []Artifact `json:"artifacts,omitzero"`
}

// Validate ensures the task is structurally sound.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if !t.State.Valid() {
		return fmt.Errorf("unknown task state: %q", t.State)
	}
	return nil
}

// ValidateMCPContext performs the gross shape check on an embedded MCP
// context payload: when present it must be a JSON object. The contents are
// opaque to the protocol core and never interpreted.
func ValidateMCPContext(v jsontext.Value) error {
	if len(v) == 0 {
		return nil
	}
	if v.Kind() != '{' {
		return fmt.Errorf("mcp_context must be a JSON object")
	}
	return nil
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"

	a2a "github.com/ruFFaa/agentvault"
)

// TaskContext is the handle an agent handler uses to drive one task. All
// mutations go through the owning TaskStore, so history updates and
// subscriber fan-out stay consistent.
type TaskContext struct {
	store *TaskStore
	id    string
}

// ID returns the task id.
func (tc *TaskContext) ID() string { return tc.id }

// Snapshot returns the task's current state as a defensive copy.
func (tc *TaskContext) Snapshot(ctx context.Context) (*a2a.Task, error) {
	return tc.store.GetTask(ctx, tc.id)
}

// SetState transitions the task. Transitions out of a terminal state are
// rejected with ErrTaskTerminal and moves the lifecycle does not allow
// with ErrInvalidTransition; handlers must check the error instead of
// assuming the transition took effect.
func (tc *TaskContext) SetState(ctx context.Context, state a2a.TaskState) error {
	_, err := tc.store.UpdateTaskState(ctx, tc.id, state)
	return err
}

// AddMessage appends a message to the task history and notifies
// subscribers.
func (tc *TaskContext) AddMessage(ctx context.Context, msg a2a.Message) error {
	return tc.store.NotifyMessage(ctx, tc.id, msg)
}

// AddArtifact appends an artifact to the task and notifies subscribers.
func (tc *TaskContext) AddArtifact(ctx context.Context, artifact a2a.Artifact) error {
	return tc.store.NotifyArtifact(ctx, tc.id, artifact)
}

// Subscribe opens an event subscription on the task.
func (tc *TaskContext) Subscribe() (*Subscription, error) {
	return tc.store.Subscribe(tc.id)
}

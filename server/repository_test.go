// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	a2a "github.com/ruFFaa/agentvault"
)

func TestMemoryRepository(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	ctx := context.Background()

	task := &a2a.Task{
		ID:        "t1",
		State:     a2a.TaskStateWorking,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
		Messages: []a2a.Message{
			{Role: a2a.MessageRoleUser, Content: "hi"},
		},
	}
	require.NoError(t, repo.Save(ctx, task))

	// Mutating the original after Save must not leak into the stored copy.
	task.State = a2a.TaskStateFailed
	task.Messages[0].Content = "changed"

	loaded, err := repo.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, loaded.State)
	assert.Equal(t, "hi", loaded.Messages[0].Content)

	_, err = repo.Load(ctx, "ghost")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	require.NoError(t, repo.Delete(ctx, "t1"))
	assert.ErrorIs(t, repo.Delete(ctx, "t1"), ErrTaskNotFound)
}

func TestTaskStore_MemoryRepositoryIntegration(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepository()
	store := NewTaskStore(WithRepository(repo))
	ctx := context.Background()

	tc, err := store.CreateTask(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, tc.SetState(ctx, a2a.TaskStateWorking))
	require.NoError(t, tc.AddArtifact(ctx, a2a.Artifact{
		ID:      "a1",
		Type:    "text",
		Content: []byte(`"out"`),
	}))

	snapshot, err := repo.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, snapshot.State)
	require.Len(t, snapshot.Artifacts, 1)
	assert.Equal(t, "a1", snapshot.Artifacts[0].ID)
}

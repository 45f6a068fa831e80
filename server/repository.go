// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-json-experiment/json"
	"gorm.io/gorm"

	a2a "github.com/ruFFaa/agentvault"
)

// Repository persists task snapshots. The TaskStore remains the
// authoritative in-process state; a repository is a write-through sink
// that survives what the process does not. Durability beyond the current
// process lifetime is best-effort, not guaranteed.
type Repository interface {
	// Save writes the current task snapshot.
	Save(ctx context.Context, task *a2a.Task) error

	// Load reads a previously saved snapshot, or ErrTaskNotFound.
	Load(ctx context.Context, id string) (*a2a.Task, error)

	// Delete removes a snapshot, or ErrTaskNotFound.
	Delete(ctx context.Context, id string) error
}

// MemoryRepository is a Repository held entirely in process memory. It
// exists for tests and single-process deployments that still want the
// snapshot indirection.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*a2a.Task
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tasks: make(map[string]*a2a.Task)}
}

// Save implements [Repository].
func (r *MemoryRepository) Save(_ context.Context, task *a2a.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %q: %w", task.ID, err)
	}
	var dup a2a.Task
	if err := json.Unmarshal(payload, &dup); err != nil {
		return fmt.Errorf("copy task %q: %w", task.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[task.ID] = &dup
	return nil
}

// Load implements [Repository].
func (r *MemoryRepository) Load(_ context.Context, id string) (*a2a.Task, error) {
	r.mu.RLock()
	task, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	dup := *task
	return &dup, nil
}

// Delete implements [Repository].
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	delete(r.tasks, id)
	return nil
}

// taskRecord is the GORM row shape for persisted tasks. The full task is
// kept as a JSON payload; id, state, and timestamps are lifted into
// columns for querying.
type taskRecord struct {
	ID        string `gorm:"primaryKey"`
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Payload   []byte
}

// TableName implements the GORM table-name convention.
func (taskRecord) TableName() string { return "tasks" }

// GormRepository is a Repository backed by a GORM database handle.
type GormRepository struct {
	db *gorm.DB
}

var _ Repository = (*GormRepository)(nil)

// NewGormRepository creates a GormRepository and migrates the tasks table.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle cannot be nil")
	}
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("migrate tasks table: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// Save implements [Repository].
func (r *GormRepository) Save(ctx context.Context, task *a2a.Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %q: %w", task.ID, err)
	}

	record := &taskRecord{
		ID:        task.ID,
		State:     string(task.State),
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
		Payload:   payload,
	}
	if err := r.db.WithContext(ctx).Save(record).Error; err != nil {
		return fmt.Errorf("save task %q: %w", task.ID, err)
	}
	return nil
}

// Load implements [Repository].
func (r *GormRepository) Load(ctx context.Context, id string) (*a2a.Task, error) {
	var record taskRecord
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
		}
		return nil, fmt.Errorf("load task %q: %w", id, err)
	}

	var task a2a.Task
	if err := json.Unmarshal(record.Payload, &task); err != nil {
		return nil, fmt.Errorf("decode task %q: %w", id, err)
	}
	return &task, nil
}

// Delete implements [Repository].
func (r *GormRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&taskRecord{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete task %q: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	return nil
}

// Copyright 2025 The AgentVault Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	a2a "github.com/ruFFaa/agentvault"
)

// Store errors.
var (
	// ErrTaskExists is returned when creating a task with an id already
	// in use.
	ErrTaskExists = errors.New("task id already exists")

	// ErrTaskNotFound is returned when the referenced task id is unknown.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskTerminal is returned when a state update targets a task
	// already in a terminal state. The task is left unchanged; callers
	// must check this rather than assume the transition took effect.
	ErrTaskTerminal = errors.New("task is in a terminal state")

	// ErrInvalidTransition is returned when a state update names a
	// transition the task lifecycle does not allow. The task is left
	// unchanged.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrSlowSubscriber marks a subscription that was dropped because its
	// buffer overflowed. A slow consumer is removed rather than ever
	// stalling the task's writers or its sibling subscribers.
	ErrSlowSubscriber = errors.New("subscriber dropped: event buffer overflow")
)

// defaultSubscriberBuffer is the per-subscriber event buffer size.
const defaultSubscriberBuffer = 64

// TaskStore holds the authoritative task records on the server side and
// fans mutations out to per-task subscribers. Operations on the same task
// id are serialized in arrival order under a per-id lock; unrelated tasks
// are never serialized against each other.
type TaskStore struct {
	logger  *slog.Logger
	repo    Repository
	bufSize int
	now     func() time.Time

	mu    sync.RWMutex
	tasks map[string]*taskEntry
}

// taskEntry pairs one task with its per-id lock and subscriber set.
type taskEntry struct {
	mu   sync.Mutex
	task *a2a.Task
	subs map[*Subscription]struct{}
}

// StoreOption configures a [TaskStore].
type StoreOption func(*TaskStore)

// WithStoreLogger sets the [*slog.Logger] for the store.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *TaskStore) {
		s.logger = logger
	}
}

// WithRepository attaches a snapshot repository; every task mutation is
// written through to it.
func WithRepository(repo Repository) StoreOption {
	return func(s *TaskStore) {
		s.repo = repo
	}
}

// WithSubscriberBuffer sets the per-subscriber event buffer size.
func WithSubscriberBuffer(n int) StoreOption {
	return func(s *TaskStore) {
		if n > 0 {
			s.bufSize = n
		}
	}
}

// NewTaskStore creates an empty TaskStore.
func NewTaskStore(opts ...StoreOption) *TaskStore {
	s := &TaskStore{
		logger:  slog.Default(),
		bufSize: defaultSubscriberBuffer,
		now:     time.Now,
		tasks:   make(map[string]*taskEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTask registers a new task in state SUBMITTED. An empty id requests
// a generated one; a duplicate id fails with ErrTaskExists.
func (s *TaskStore) CreateTask(ctx context.Context, id string) (*TaskContext, error) {
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	task := &a2a.Task{
		ID:        id,
		State:     a2a.TaskStateSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []a2a.Message{},
	}

	entry := &taskEntry{
		task: task,
		subs: make(map[*Subscription]struct{}),
	}

	// The entry lock is taken before the entry becomes visible in the map,
	// so the initial snapshot reaches the repository before any concurrent
	// update on the same id can persist a later one.
	entry.mu.Lock()
	s.mu.Lock()
	if _, exists := s.tasks[id]; exists {
		s.mu.Unlock()
		entry.mu.Unlock()
		return nil, fmt.Errorf("create task %q: %w", id, ErrTaskExists)
	}
	s.tasks[id] = entry
	s.mu.Unlock()

	if err := s.persist(ctx, task); err != nil {
		entry.mu.Unlock()
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
		return nil, err
	}
	entry.mu.Unlock()

	s.logger.InfoContext(ctx, "task created", slog.String("task_id", id))
	return &TaskContext{store: s, id: id}, nil
}

// GetTask returns a snapshot of the task, or ErrTaskNotFound.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*a2a.Task, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copyTask(entry.task), nil
}

// Context returns a TaskContext handle for an existing task.
func (s *TaskStore) Context(id string) (*TaskContext, error) {
	if _, err := s.entry(id); err != nil {
		return nil, err
	}
	return &TaskContext{store: s, id: id}, nil
}

// UpdateTaskState moves the task to state and returns the updated
// snapshot. If the task is already terminal the update is rejected with
// ErrTaskTerminal; a move the lifecycle does not allow is rejected with
// ErrInvalidTransition. Either way the state is left unchanged.
func (s *TaskStore) UpdateTaskState(ctx context.Context, id string, state a2a.TaskState) (*a2a.Task, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.task.State.IsTerminal() {
		return nil, fmt.Errorf("update task %q to %s: %w", id, state, ErrTaskTerminal)
	}
	if !entry.task.State.CanTransition(state) {
		return nil, fmt.Errorf("update task %q from %s to %s: %w",
			id, entry.task.State, state, ErrInvalidTransition)
	}

	entry.task.State = state
	entry.task.UpdatedAt = s.now()

	if err := s.persist(ctx, entry.task); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "task state updated",
		slog.String("task_id", id), slog.String("state", string(state)))

	s.publishLocked(entry, &a2a.TaskStatusUpdateEvent{
		TaskID:    id,
		State:     state,
		Timestamp: entry.task.UpdatedAt,
	})

	if state.IsTerminal() {
		s.closeSubscribersLocked(entry)
	}

	return copyTask(entry.task), nil
}

// NotifyMessage appends a message to the task history and fans it out to
// every active subscriber in submission order.
func (s *TaskStore) NotifyMessage(ctx context.Context, id string, msg a2a.Message) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.task.Messages = append(entry.task.Messages, msg)
	entry.task.UpdatedAt = s.now()

	if err := s.persist(ctx, entry.task); err != nil {
		return err
	}

	s.publishLocked(entry, &a2a.TaskMessageEvent{
		TaskID:    id,
		Message:   msg,
		Timestamp: entry.task.UpdatedAt,
	})
	return nil
}

// NotifyArtifact appends an artifact to the task and fans it out to every
// active subscriber in submission order.
func (s *TaskStore) NotifyArtifact(ctx context.Context, id string, artifact a2a.Artifact) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.task.Artifacts = append(entry.task.Artifacts, artifact)
	entry.task.UpdatedAt = s.now()

	if err := s.persist(ctx, entry.task); err != nil {
		return err
	}

	s.publishLocked(entry, &a2a.TaskArtifactUpdateEvent{
		TaskID:    id,
		Artifact:  artifact,
		Timestamp: entry.task.UpdatedAt,
	})
	return nil
}

// Subscribe registers a new subscriber for the task's events. The caller
// must Unsubscribe when done; dropping the peer only removes this
// subscriber, never its siblings.
func (s *TaskStore) Subscribe(id string) (*Subscription, error) {
	entry, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	sub := &Subscription{
		store:  s,
		entry:  entry,
		taskID: id,
		ch:     make(chan a2a.Event, s.bufSize),
	}
	entry.subs[sub] = struct{}{}
	return sub, nil
}

// entry looks up the per-task entry.
func (s *TaskStore) entry(id string) (*taskEntry, error) {
	s.mu.RLock()
	entry, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %q: %w", id, ErrTaskNotFound)
	}
	return entry, nil
}

// persist writes the task snapshot through to the repository, if any.
func (s *TaskStore) persist(ctx context.Context, task *a2a.Task) error {
	if s.repo == nil {
		return nil
	}
	if err := s.repo.Save(ctx, task); err != nil {
		return fmt.Errorf("persist task %q: %w", task.ID, err)
	}
	return nil
}

// publishLocked delivers an event to every subscriber of the entry.
// Callers hold entry.mu, which guarantees per-task submission order.
// Delivery is buffered and never blocks: a subscriber whose buffer is
// full is dropped with ErrSlowSubscriber.
func (s *TaskStore) publishLocked(entry *taskEntry, ev a2a.Event) {
	for sub := range entry.subs {
		select {
		case sub.ch <- ev:
		default:
			s.logger.Warn("dropping slow subscriber",
				slog.String("task_id", ev.EventTaskID()))
			sub.err = ErrSlowSubscriber
			close(sub.ch)
			delete(entry.subs, sub)
		}
	}
}

// closeSubscribersLocked ends every subscription cleanly after a terminal
// event has been delivered. Callers hold entry.mu.
func (s *TaskStore) closeSubscribersLocked(entry *taskEntry) {
	for sub := range entry.subs {
		close(sub.ch)
		delete(entry.subs, sub)
	}
}

// Subscription is one subscriber's view of a task's event feed.
type Subscription struct {
	store  *TaskStore
	entry  *taskEntry
	taskID string
	ch     chan a2a.Event
	err    error
	once   sync.Once
}

// Events returns the subscriber's event channel. The channel is closed
// when the task reaches a terminal state, the subscriber is dropped, or
// Unsubscribe is called; check Err afterwards.
func (sub *Subscription) Events() <-chan a2a.Event {
	return sub.ch
}

// Err reports why the channel closed: nil for a clean end,
// ErrSlowSubscriber when the subscriber was dropped.
func (sub *Subscription) Err() error {
	return sub.err
}

// TaskID returns the subscribed task id.
func (sub *Subscription) TaskID() string {
	return sub.taskID
}

// Unsubscribe removes the subscription promptly. Safe to call multiple
// times and concurrently with delivery.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.entry.mu.Lock()
		defer sub.entry.mu.Unlock()
		if _, ok := sub.entry.subs[sub]; ok {
			delete(sub.entry.subs, sub)
			close(sub.ch)
		}
	})
}

// copyTask returns a defensive copy so callers never alias store-owned
// state.
func copyTask(task *a2a.Task) *a2a.Task {
	dup := &a2a.Task{
		ID:        task.ID,
		State:     task.State,
		CreatedAt: task.CreatedAt,
		UpdatedAt: task.UpdatedAt,
		Messages:  make([]a2a.Message, len(task.Messages)),
		Artifacts: make([]a2a.Artifact, len(task.Artifacts)),
	}
	copy(dup.Messages, task.Messages)
	copy(dup.Artifacts, task.Artifacts)
	return dup
}

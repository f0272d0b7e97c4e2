package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is a non-durable domain.SyncStore for tests of code built on the store
// interfaces. Every method holds one mutex, so each outcome step is atomic the same way a
// sqlite transaction is.
type MemoryStore struct {
	mu          sync.Mutex
	tasks       map[string]*models.Task
	entries     []*models.SyncEntry
	deadLetters []*models.DeadLetter
	seq         int64
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*models.Task),
		now:   time.Now,
	}
}

// SetClock replaces the time source.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutTask stores a task as-is without queueing anything.
func (s *MemoryStore) PutTask(task models.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := task
	s.tasks[t.ID] = &t
}

func (s *MemoryStore) CreateLocal(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task == nil {
		return nil, errors.New("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := *task
	now := s.now()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	if _, exists := s.tasks[created.ID]; exists {
		return nil, fmt.Errorf("task %s already exists", created.ID)
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	if created.UpdatedAt.IsZero() {
		created.UpdatedAt = created.CreatedAt
	}
	created.IsDeleted = false
	created.SyncStatus = models.SyncStatusPending
	created.ServerID = nil
	created.LastSyncedAt = nil

	if _, err := s.enqueueSnapshot(&created, models.OpCreate, now); err != nil {
		return nil, err
	}
	stored := created
	s.tasks[created.ID] = &stored
	return &created, nil
}

func (s *MemoryStore) UpdateLocal(ctx context.Context, id string, patch models.TaskPatch) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[id]
	if !ok || stored.IsDeleted {
		return nil, nil
	}
	task := *stored
	if !patch.Apply(&task) {
		return &task, nil
	}
	now := s.now()
	task.UpdatedAt = now
	task.SyncStatus = models.SyncStatusPending
	if _, err := s.enqueueSnapshot(&task, models.OpUpdate, now); err != nil {
		return nil, err
	}
	*stored = task
	return &task, nil
}

func (s *MemoryStore) SoftDeleteLocal(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[id]
	if !ok || stored.IsDeleted {
		return false, nil
	}
	task := *stored
	now := s.now()
	task.IsDeleted = true
	task.UpdatedAt = now
	task.SyncStatus = models.SyncStatusPending
	if _, err := s.enqueueSnapshot(&task, models.OpDelete, now); err != nil {
		return false, err
	}
	*stored = task
	return true, nil
}

func (s *MemoryStore) GetPendingSyncTasks(ctx context.Context) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.tasks {
		switch t.SyncStatus {
		case models.SyncStatusPending, models.SyncStatusInProgress, models.SyncStatusError:
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) MarkSynced(ctx context.Context, id string, serverID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return domain.ErrTaskNotFound
	}
	now := s.now()
	t.SyncStatus = models.SyncStatusSynced
	t.LastSyncedAt = &now
	if serverID != nil {
		v := *serverID
		t.ServerID = &v
	}
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(ctx context.Context) ([]models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Task
	for _, t := range s.tasks {
		if !t.IsDeleted {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var last *time.Time
	for _, t := range s.tasks {
		if t.LastSyncedAt != nil && (last == nil || t.LastSyncedAt.After(*last)) {
			v := *t.LastSyncedAt
			last = &v
		}
	}
	return last, nil
}

func (s *MemoryStore) Enqueue(ctx context.Context, taskID string, op models.Operation, payload json.RawMessage) (string, error) {
	if taskID == "" {
		return "", errors.New("task id is required")
	}
	if !op.Valid() {
		return "", fmt.Errorf("invalid operation %s", op)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEntry(taskID, op, payload, s.now()), nil
}

func (s *MemoryStore) DequeueEligible(ctx context.Context, limit, maxAttempts int) ([]models.SyncEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.orderedEntries()
	blocked := make(map[string]bool)
	var out []models.SyncEntry
	for _, e := range ordered {
		if blocked[e.TaskID] {
			continue
		}
		if e.Attempts >= maxAttempts {
			blocked[e.TaskID] = true
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, copyEntry(e))
	}
	return out, nil
}

func (s *MemoryStore) RecordSuccess(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntry(entryID)
}

func (s *MemoryStore) RecordFailure(ctx context.Context, entryID, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bumpAttempts(entryID, errMsg)
}

func (s *MemoryStore) GetEntry(ctx context.Context, entryID string) (*models.SyncEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, e := s.findEntry(entryID)
	if e == nil {
		return nil, domain.ErrEntryNotFound
	}
	cp := copyEntry(e)
	return &cp, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, taskID string) ([]models.SyncEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SyncEntry
	for _, e := range s.orderedEntries() {
		if e.TaskID == taskID {
			out = append(out, copyEntry(e))
		}
	}
	return out, nil
}

func (s *MemoryStore) CountPending(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) ListDeadLetters(ctx context.Context, limit int) ([]models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.DeadLetter, 0, len(s.deadLetters))
	for i := len(s.deadLetters) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *s.deadLetters[i])
	}
	return out, nil
}

func (s *MemoryStore) GetDeadLetter(ctx context.Context, id string) (*models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dl := range s.deadLetters {
		if dl.ID == id {
			cp := *dl
			return &cp, nil
		}
	}
	return nil, domain.ErrDeadLetterNotFound
}

func (s *MemoryStore) CountDeadLetters(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deadLetters), nil
}

func (s *MemoryStore) PurgeDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, dl := range s.deadLetters {
		if dl.ID == id {
			s.deadLetters = append(s.deadLetters[:i], s.deadLetters[i+1:]...)
			return nil
		}
	}
	return domain.ErrDeadLetterNotFound
}

func (s *MemoryStore) Requeue(ctx context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, dl := range s.deadLetters {
		if dl.ID != id {
			continue
		}
		entryID := s.insertEntry(dl.TaskID, dl.Operation, dl.Payload, s.now())
		s.deadLetters = append(s.deadLetters[:i], s.deadLetters[i+1:]...)
		if t, ok := s.tasks[dl.TaskID]; ok {
			t.SyncStatus = models.SyncStatusPending
		}
		return entryID, nil
	}
	return "", domain.ErrDeadLetterNotFound
}

func (s *MemoryStore) ConfirmEntry(ctx context.Context, entry models.SyncEntry, c models.Confirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteEntry(entry.ID); err != nil {
		return err
	}
	remaining := s.countTaskEntries(entry.TaskID)

	t, ok := s.tasks[entry.TaskID]
	if !ok {
		return nil
	}
	if entry.Operation == models.OpDelete && remaining == 0 && t.IsDeleted {
		delete(s.tasks, entry.TaskID)
		return nil
	}

	if c.Remote != nil {
		t.Title = c.Remote.Title
		t.Description = c.Remote.Description
		t.Completed = c.Remote.Completed
		t.IsDeleted = c.Remote.IsDeleted
		t.UpdatedAt = c.Remote.UpdatedAt
	}
	syncedAt := c.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = s.now()
	}
	t.LastSyncedAt = &syncedAt
	if c.ServerID != "" {
		v := c.ServerID
		t.ServerID = &v
	}
	if remaining > 0 {
		t.SyncStatus = models.SyncStatusPending
	} else {
		t.SyncStatus = models.SyncStatusSynced
	}
	return nil
}

func (s *MemoryStore) RetryEntry(ctx context.Context, entry models.SyncEntry, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts, err := s.bumpAttempts(entry.ID, errMsg)
	if err != nil {
		return 0, err
	}
	if t, ok := s.tasks[entry.TaskID]; ok {
		t.SyncStatus = models.SyncStatusError
	}
	return attempts, nil
}

func (s *MemoryStore) DeadLetterEntry(ctx context.Context, entry models.SyncEntry, errMsg string, attempts int) (*models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteEntry(entry.ID); err != nil {
		return nil, err
	}
	dl := &models.DeadLetter{
		ID:           uuid.NewString(),
		EntryID:      entry.ID,
		TaskID:       entry.TaskID,
		Operation:    entry.Operation,
		Payload:      append(json.RawMessage(nil), entry.Payload...),
		Attempts:     attempts,
		ErrorMessage: errMsg,
		FailedAt:     s.now(),
	}
	s.deadLetters = append(s.deadLetters, dl)
	if t, ok := s.tasks[entry.TaskID]; ok {
		t.SyncStatus = models.SyncStatusFailed
	}
	cp := *dl
	return &cp, nil
}

func (s *MemoryStore) DropEntry(ctx context.Context, entry models.SyncEntry, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteEntry(entry.ID)
}

func (s *MemoryStore) enqueueSnapshot(task *models.Task, op models.Operation, now time.Time) (string, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task snapshot: %w", err)
	}
	return s.insertEntry(task.ID, op, payload, now), nil
}

func (s *MemoryStore) insertEntry(taskID string, op models.Operation, payload []byte, now time.Time) string {
	if len(payload) == 0 {
		payload = []byte("null")
	}
	s.seq++
	e := &models.SyncEntry{
		ID:        uuid.NewString(),
		Seq:       s.seq,
		TaskID:    taskID,
		Operation: op,
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    models.SyncStatusPending,
		CreatedAt: now,
	}
	s.entries = append(s.entries, e)
	return e.ID
}

func (s *MemoryStore) orderedEntries() []*models.SyncEntry {
	out := append([]*models.SyncEntry(nil), s.entries...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func (s *MemoryStore) findEntry(id string) (int, *models.SyncEntry) {
	for i, e := range s.entries {
		if e.ID == id {
			return i, e
		}
	}
	return -1, nil
}

func (s *MemoryStore) deleteEntry(id string) error {
	i, e := s.findEntry(id)
	if e == nil {
		return domain.ErrEntryNotFound
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	return nil
}

func (s *MemoryStore) bumpAttempts(id, errMsg string) (int, error) {
	_, e := s.findEntry(id)
	if e == nil {
		return 0, domain.ErrEntryNotFound
	}
	e.Attempts++
	msg := errMsg
	e.LastError = &msg
	e.Status = models.SyncStatusError
	return e.Attempts, nil
}

func (s *MemoryStore) countTaskEntries(taskID string) int {
	n := 0
	for _, e := range s.entries {
		if e.TaskID == taskID {
			n++
		}
	}
	return n
}

func copyEntry(e *models.SyncEntry) models.SyncEntry {
	cp := *e
	cp.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.LastError != nil {
		msg := *e.LastError
		cp.LastError = &msg
	}
	return cp
}

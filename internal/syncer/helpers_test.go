package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/models"
	"tasksync/internal/repository"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

type batchFunc func(ctx context.Context, items []domain.BatchItem, checksum string) (*domain.BatchResult, error)

// fakeRemote records every batch and answers with handle, or confirms everything when handle is nil.
type fakeRemote struct {
	mu      sync.Mutex
	handle  batchFunc
	batches [][]domain.BatchItem
	sums    []string
}

func (f *fakeRemote) SendBatch(ctx context.Context, items []domain.BatchItem, checksum string) (*domain.BatchResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]domain.BatchItem(nil), items...))
	f.sums = append(f.sums, checksum)
	handle := f.handle
	f.mu.Unlock()

	if handle != nil {
		return handle(ctx, items, checksum)
	}
	return confirmAll(items), nil
}

func (f *fakeRemote) CreateTask(context.Context, *models.Task) (*models.Task, error) {
	panic("not used")
}

func (f *fakeRemote) UpdateTask(context.Context, *models.Task) (*models.Task, error) {
	panic("not used")
}

func (f *fakeRemote) DeleteTask(context.Context, *models.Task) error { panic("not used") }

func (f *fakeRemote) CheckHealth(context.Context) bool { return true }

func (f *fakeRemote) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func (f *fakeRemote) sent() [][]domain.BatchItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.BatchItem(nil), f.batches...)
}

func confirmAll(items []domain.BatchItem) *domain.BatchResult {
	res := &domain.BatchResult{Success: true}
	for _, item := range items {
		res.Results = append(res.Results, domain.ItemResult{
			TaskID:    item.TaskID,
			Operation: item.Operation,
			Success:   true,
			Data:      json.RawMessage(`{"id":"srv-` + item.TaskID + `"}`),
		})
		res.SyncedItems++
	}
	return res
}

func failAll(code, msg string) batchFunc {
	return func(_ context.Context, items []domain.BatchItem, _ string) (*domain.BatchResult, error) {
		res := &domain.BatchResult{}
		for _, item := range items {
			res.Results = append(res.Results, domain.ItemResult{
				TaskID: item.TaskID, Operation: item.Operation, Error: msg, Code: code,
			})
			res.FailedItems++
		}
		return res, nil
	}
}

type fakeProbe struct {
	online atomic.Bool
	checks atomic.Int32
}

func newProbe(online bool) *fakeProbe {
	p := &fakeProbe{}
	p.online.Store(online)
	return p
}

func (p *fakeProbe) Check(context.Context) bool {
	p.checks.Add(1)
	return p.online.Load()
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) TryLock(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockLocker) Unlock(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type memorySink struct {
	mu   sync.Mutex
	dead []*models.DeadLetter
}

func (s *memorySink) Push(_ context.Context, dl *models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dead = append(s.dead, dl)
	return nil
}

// recorder captures events of the given types in publish order.
type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func record(bus *events.EventBus, types ...string) *recorder {
	r := &recorder{}
	for _, typ := range types {
		bus.Subscribe(typ, func(e *events.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
			return nil
		})
	}
	return r
}

func (r *recorder) ofType(typ string) []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// faultyStore fails the wrapped calls with a set error until it is cleared.
type faultyStore struct {
	*repository.MemoryStore

	mu     sync.Mutex
	faults map[string]error
}

func (s *faultyStore) InjectFault(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, method)
		return
	}
	s.faults[method] = err
}

func (s *faultyStore) fault(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faults[method]
}

func (s *faultyStore) DequeueEligible(ctx context.Context, limit, maxAttempts int) ([]models.SyncEntry, error) {
	if err := s.fault("DequeueEligible"); err != nil {
		return nil, err
	}
	return s.MemoryStore.DequeueEligible(ctx, limit, maxAttempts)
}

func (s *faultyStore) ConfirmEntry(ctx context.Context, entry models.SyncEntry, c models.Confirmation) error {
	if err := s.fault("ConfirmEntry"); err != nil {
		return err
	}
	return s.MemoryStore.ConfirmEntry(ctx, entry, c)
}

type harness struct {
	store  *faultyStore
	remote *fakeRemote
	probe  *fakeProbe
	bus    *events.EventBus
	sink   *memorySink
	orch   *Orchestrator
}

func newHarness(t *testing.T, opts Options, extra ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  &faultyStore{MemoryStore: repository.NewMemoryStore(), faults: map[string]error{}},
		remote: &fakeRemote{},
		probe:  newProbe(true),
		bus:    events.NewEventBus(),
		sink:   &memorySink{},
	}
	clock := stepClock(baseTime)
	h.store.SetClock(clock)

	options := append([]Option{
		WithEvents(h.bus),
		WithDeadLetterSink(h.sink),
		WithClock(clock),
	}, extra...)
	h.orch = New(h.store, h.remote, h.probe, opts, nil, options...)
	return h
}

func (h *harness) create(t *testing.T, id, title string) *models.Task {
	t.Helper()
	task, err := h.store.CreateLocal(context.Background(), &models.Task{ID: id, Title: title})
	require.NoError(t, err)
	return task
}

func (h *harness) entries(t *testing.T, taskID string) []models.SyncEntry {
	t.Helper()
	entries, err := h.store.ListEntries(context.Background(), taskID)
	require.NoError(t, err)
	return entries
}

func (h *harness) task(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func strPtr(s string) *string { return &s }

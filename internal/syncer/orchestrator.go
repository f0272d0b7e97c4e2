package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/domain"
	"tasksync/internal/events"
	"tasksync/internal/models"
	"tasksync/internal/remote"

	"github.com/rs/zerolog"
)

// State is the orchestrator's position in a sync cycle.
type State int32

const (
	StateIdle State = iota
	StateCheckingConnectivity
	StateDraining
	StateAborted
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingConnectivity:
		return "checking_connectivity"
	case StateDraining:
		return "draining"
	case StateAborted:
		return "aborted"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateCompleted; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown sync state %q", text)
}

// Drop reasons passed to DropEntry.
const (
	ReasonStaleReference = "stale_reference"
	ReasonSuperseded     = "superseded"
)

const misalignedResult = "misaligned result"

type Options struct {
	BatchSize          int
	MaxAttempts        int
	MaxEntriesPerCycle int
	Interval           time.Duration
	OfflineBackoffMax  time.Duration
	CollapseSuperseded bool
}

func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		BatchSize:          cfg.BatchSize,
		MaxAttempts:        cfg.MaxAttempts,
		MaxEntriesPerCycle: cfg.MaxEntriesPerCycle,
		Interval:           cfg.Interval,
		OfflineBackoffMax:  cfg.OfflineBackoffMax,
		CollapseSuperseded: cfg.CollapseSuperseded,
	}
}

func (o Options) withDefaults() Options {
	if o.BatchSize < 1 {
		o.BatchSize = models.DefaultBatchSize
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = models.DefaultMaxAttempts
	}
	if o.MaxEntriesPerCycle < 1 {
		o.MaxEntriesPerCycle = models.DefaultMaxEntriesPerCycle
	}
	if o.Interval <= 0 {
		o.Interval = models.DefaultSyncInterval
	}
	if o.OfflineBackoffMax < o.Interval {
		o.OfflineBackoffMax = o.Interval
	}
	return o
}

type Option func(*Orchestrator)

// WithRunLocker adds a cross-process guard on top of the in-process one.
func WithRunLocker(l domain.RunLocker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

// WithDeadLetterSink mirrors every dead letter to s.
func WithDeadLetterSink(s domain.DeadLetterSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

func WithEvents(p domain.EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator drains the local sync queue to the remote peer.
type Orchestrator struct {
	store  domain.SyncStore
	remote domain.RemoteSyncClient
	probe  domain.ConnectivityProbe
	opts   Options

	locker domain.RunLocker
	sink   domain.DeadLetterSink
	events domain.EventPublisher
	logger *zerolog.Logger
	now    func() time.Time

	runMu   sync.Mutex
	state   atomic.Int32
	outcome atomic.Int32
	trigger chan struct{}

	mu        sync.RWMutex
	last      *models.SyncResult
	lastRunAt time.Time
}

func New(store domain.SyncStore, client domain.RemoteSyncClient, probe domain.ConnectivityProbe, opts Options, logger *zerolog.Logger, options ...Option) *Orchestrator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "syncer").Logger()

	o := &Orchestrator{
		store:   store,
		remote:  client,
		probe:   probe,
		opts:    opts.withDefaults(),
		logger:  &l,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// State is the position of the running cycle, or StateIdle between cycles.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastOutcome is the terminal state of the most recent cycle: StateCompleted,
// StateAborted, or StateIdle before the first one.
func (o *Orchestrator) LastOutcome() State {
	return State(o.outcome.Load())
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// Sync runs one cycle. It always returns a complete result; item and cycle failures are
// reported in Errors rather than as an error value.
func (o *Orchestrator) Sync(ctx context.Context) models.SyncResult {
	if !o.runMu.TryLock() {
		return o.inProgress(domain.ErrSyncInProgress.Error())
	}
	defer o.runMu.Unlock()

	if o.locker != nil {
		ok, err := o.locker.TryLock(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Msg("run lock unavailable")
			return o.inProgress(fmt.Sprintf("acquire run lock: %v", err))
		}
		if !ok {
			return o.inProgress(domain.ErrSyncInProgress.Error())
		}
		defer func() {
			if err := o.locker.Unlock(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn().Err(err).Msg("failed to release run lock")
			}
		}()
	}

	start := o.now()
	c := &cycle{
		o:       o,
		ctx:     ctx,
		apply:   context.WithoutCancel(ctx),
		blocked: make(map[string]bool),
		res:     models.SyncResult{Errors: []models.SyncError{}},
	}
	c.run()
	res := o.finish(c, start)
	o.outcome.Store(o.state.Load())
	o.setState(StateIdle)
	return res
}

func (o *Orchestrator) inProgress(msg string) models.SyncResult {
	return models.SyncResult{
		Success: false,
		Errors: []models.SyncError{{
			Operation: models.CycleOperationInProgress,
			Error:     msg,
			Timestamp: o.now(),
		}},
	}
}

func (o *Orchestrator) finish(c *cycle, start time.Time) models.SyncResult {
	res := c.res
	res.Success = len(res.Errors) == 0

	bg := c.apply
	pending, err := o.store.CountPending(bg)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to count pending entries")
	}
	deadLetters, err := o.store.CountDeadLetters(bg)
	if err != nil {
		o.logger.Warn().Err(err).Msg("failed to count dead letters")
	}

	elapsed := o.now().Sub(start)
	o.publish(events.EventCycleCompleted, events.CycleEventPayload{
		Success:     res.Success,
		Aborted:     c.aborted,
		SyncedItems: res.SyncedItems,
		FailedItems: res.FailedItems,
		Deferred:    c.deferred,
		Errors:      len(res.Errors),
		Pending:     pending,
		DeadLetters: deadLetters,
		StartedAt:   start,
		DurationMS:  elapsed.Milliseconds(),
	})

	o.logger.Info().
		Bool("success", res.Success).
		Int("synced", res.SyncedItems).
		Int("failed", res.FailedItems).
		Int("deferred", c.deferred).
		Int("errors", len(res.Errors)).
		Int("pending", pending).
		Dur("duration", elapsed).
		Msg("sync cycle finished")

	stored := res
	stored.Errors = append([]models.SyncError(nil), res.Errors...)
	o.mu.Lock()
	o.last = &stored
	o.lastRunAt = start
	o.mu.Unlock()

	return res
}

func (o *Orchestrator) publish(eventType string, payload any) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishJSON(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

// Trigger asks a running Run loop for an immediate cycle. It reports false when one is already queued.
func (o *Orchestrator) Trigger() bool {
	select {
	case o.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run executes a cycle immediately and then every Interval, or sooner on Trigger,
// until ctx is done. While the peer is unreachable the pause grows exponentially up
// to OfflineBackoffMax.
func (o *Orchestrator) Run(ctx context.Context) {
	backoff := RetryPolicy{
		InitialDelay:  o.opts.Interval,
		MaxDelay:      o.opts.OfflineBackoffMax,
		BackoffFactor: 2,
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	offline := 0
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Msg("sync loop stopped")
			return
		case <-timer.C:
		case <-o.trigger:
		}

		res := o.Sync(ctx)

		delay := o.opts.Interval
		switch {
		case Offline(res):
			offline++
			delay = backoff.NextDelay(offline)
			o.logger.Debug().Int("offline_cycles", offline).Dur("next", delay).Msg("peer offline, backing off")
		case !InProgress(res):
			offline = 0
		}
		timer.Reset(delay)
	}
}

// Status is a point-in-time view for operators.
type Status struct {
	State        State              `json:"state"`
	LastOutcome  State              `json:"last_outcome,omitempty"`
	Pending      int                `json:"pending"`
	DeadLetters  int                `json:"dead_letters"`
	LastSyncedAt *time.Time         `json:"last_synced_at,omitempty"`
	LastRunAt    *time.Time         `json:"last_run_at,omitempty"`
	LastResult   *models.SyncResult `json:"last_result,omitempty"`
}

func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	pending, err := o.store.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	deadLetters, err := o.store.CountDeadLetters(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	lastSynced, err := o.store.LastSyncedAt(ctx)
	if err != nil {
		return nil, fmt.Errorf("last synced at: %w", err)
	}

	st := &Status{
		State:        o.State(),
		LastOutcome:  o.LastOutcome(),
		Pending:      pending,
		DeadLetters:  deadLetters,
		LastSyncedAt: lastSynced,
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last != nil {
		last := *o.last
		st.LastResult = &last
		runAt := o.lastRunAt
		st.LastRunAt = &runAt
	}
	return st, nil
}

// InProgress reports whether res was refused because another cycle held the run lock.
func InProgress(res models.SyncResult) bool {
	return hasCycleError(res, models.CycleOperationInProgress)
}

// Offline reports whether res was aborted because the peer was unreachable.
func Offline(res models.SyncResult) bool {
	return hasCycleError(res, models.CycleOperationConnectivity)
}

func hasCycleError(res models.SyncResult, op string) bool {
	for _, e := range res.Errors {
		if e.Operation == op {
			return true
		}
	}
	return false
}

// cycle holds the bookkeeping of a single Sync call.
type cycle struct {
	o *Orchestrator
	// ctx is the caller's context; apply outlives cancellation so that outcomes of a
	// definitive response are never lost.
	ctx   context.Context
	apply context.Context

	res       models.SyncResult
	blocked   map[string]bool
	deferred  int
	aborted   bool
	cancelled bool
}

func (c *cycle) run() {
	o := c.o

	o.setState(StateCheckingConnectivity)
	if c.ctx.Err() != nil {
		c.cancel()
		o.setState(StateAborted)
		return
	}
	if !o.probe.Check(c.ctx) {
		if c.ctx.Err() != nil {
			c.cancel()
		} else {
			o.logger.Info().Msg("remote peer unreachable, skipping cycle")
			c.addError("", models.CycleOperationConnectivity, domain.ErrOffline.Error())
		}
		c.aborted = true
		o.setState(StateAborted)
		return
	}

	o.setState(StateDraining)
	defer func() {
		if c.aborted {
			o.setState(StateAborted)
		} else {
			o.setState(StateCompleted)
		}
	}()

	entries, err := o.store.DequeueEligible(c.ctx, o.opts.MaxEntriesPerCycle, o.opts.MaxAttempts)
	if err != nil {
		if c.ctx.Err() != nil {
			c.cancel()
			return
		}
		c.addError("", models.CycleOperationStorage, fmt.Sprintf("dequeue: %v", err))
		return
	}

	entries = c.dropStale(entries)
	if o.opts.CollapseSuperseded {
		var superseded []models.SyncEntry
		entries, superseded = collapseSuperseded(entries)
		for _, e := range superseded {
			c.drop(e, ReasonSuperseded)
		}
	}

	for _, batch := range planBatches(entries, o.opts.BatchSize) {
		if c.ctx.Err() != nil {
			c.cancel()
			return
		}

		ready := batch[:0:0]
		for _, e := range batch {
			if c.blocked[e.TaskID] {
				c.deferred++
				continue
			}
			ready = append(ready, e)
		}
		if len(ready) == 0 {
			continue
		}
		if !c.dispatch(ready) {
			return
		}
	}
}

// dropStale removes entries whose task no longer exists locally.
func (c *cycle) dropStale(entries []models.SyncEntry) []models.SyncEntry {
	kept := entries[:0:0]
	for _, e := range entries {
		_, err := c.o.store.GetTask(c.apply, e.TaskID)
		switch {
		case err == nil:
			kept = append(kept, e)
		case errors.Is(err, domain.ErrTaskNotFound):
			c.o.logger.Warn().Str("entry_id", e.ID).Str("task_id", e.TaskID).Msg("dropping entry for missing task")
			c.drop(e, ReasonStaleReference)
		default:
			c.blocked[e.TaskID] = true
			c.addError(e.TaskID, models.CycleOperationStorage, fmt.Sprintf("load task: %v", err))
		}
	}
	return kept
}

func (c *cycle) drop(e models.SyncEntry, reason string) {
	if err := c.o.store.DropEntry(c.apply, e, reason); err != nil {
		c.blocked[e.TaskID] = true
		c.addError(e.TaskID, models.CycleOperationStorage, fmt.Sprintf("drop entry: %v", err))
		return
	}
	c.o.publish(events.EventEntryDropped, events.EntryEventPayload{
		EntryID:   e.ID,
		TaskID:    e.TaskID,
		Operation: e.Operation.String(),
		Reason:    reason,
	})
}

// dispatch sends one batch and applies its outcome. It returns false when the caller's
// context ended the call, in which case nothing was changed.
func (c *cycle) dispatch(batch []models.SyncEntry) bool {
	o := c.o
	items := toBatchItems(batch)
	c.attachServerIDs(items)
	sum := Checksum(items)

	resp, err := o.remote.SendBatch(c.ctx, items, sum)
	if err != nil {
		if c.ctx.Err() != nil {
			c.cancel()
			return false
		}

		kind, ok := remote.KindOf(err)
		if !ok {
			kind = remote.KindTransient
		}
		if kind == remote.KindChecksumMismatch {
			c.reject(batch, sum, err)
			return true
		}

		// A whole-batch 4xx does not say which item is at fault, so no item is archived
		// on it alone. Each one spends an attempt and escalates only at the cap.
		if kind == remote.KindValidation {
			kind = remote.KindTransient
		}

		o.logger.Warn().Err(err).Int("items", len(batch)).Str("kind", kind.String()).Msg("batch call failed")
		for _, e := range batch {
			c.fail(e, kind, err.Error())
		}
		return true
	}

	for i, e := range batch {
		if i >= len(resp.Results) || resp.Results[i].TaskID != e.TaskID {
			c.fail(e, remote.KindTransient, misalignedResult)
			continue
		}
		r := resp.Results[i]
		if !r.Success {
			msg := r.Error
			if msg == "" {
				msg = "rejected by remote"
			}
			c.fail(e, remote.ClassifyItemCode(r.Code), msg)
			continue
		}
		c.confirm(e, r)
	}
	return true
}

// reject handles a batch refused for integrity. No attempt is consumed.
func (c *cycle) reject(batch []models.SyncEntry, sum string, err error) {
	ids := make([]string, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
		c.blocked[e.TaskID] = true
		c.addError(e.TaskID, e.Operation.String(), err.Error())
	}
	c.o.logger.Warn().Err(err).Str("checksum", sum).Int("items", len(batch)).Msg("batch rejected by checksum verification")
	c.o.publish(events.EventBatchRejected, events.BatchEventPayload{
		Checksum: sum,
		EntryIDs: ids,
		Error:    err.Error(),
	})
}

func (c *cycle) fail(e models.SyncEntry, kind remote.ErrorKind, msg string) {
	o := c.o
	c.blocked[e.TaskID] = true
	c.res.FailedItems++
	c.addError(e.TaskID, e.Operation.String(), msg)

	next, verdict := Transition(kind, e.Attempts, o.opts.MaxAttempts)
	switch verdict {
	case VerdictRetry:
		attempts, err := o.store.RetryEntry(c.apply, e, msg)
		if err != nil {
			c.addError(e.TaskID, models.CycleOperationStorage, fmt.Sprintf("record failure: %v", err))
			return
		}
		o.logger.Debug().Str("entry_id", e.ID).Int("attempts", attempts).Str("error", msg).Msg("entry will be retried")
		o.publish(events.EventEntryRetried, events.EntryEventPayload{
			EntryID:   e.ID,
			TaskID:    e.TaskID,
			Operation: e.Operation.String(),
			Attempts:  attempts,
			Error:     msg,
		})

	case VerdictDeadLetter:
		dl, err := o.store.DeadLetterEntry(c.apply, e, msg, next)
		if err != nil {
			c.addError(e.TaskID, models.CycleOperationStorage, fmt.Sprintf("dead-letter: %v", err))
			return
		}
		o.logger.Warn().
			Str("entry_id", e.ID).
			Str("task_id", e.TaskID).
			Str("operation", e.Operation.String()).
			Int("attempts", next).
			Str("error", msg).
			Msg("entry moved to dead letters")
		if o.sink != nil {
			if err := o.sink.Push(c.apply, dl); err != nil {
				o.logger.Warn().Err(err).Str("dead_letter_id", dl.ID).Msg("failed to mirror dead letter")
			}
		}
		o.publish(events.EventEntryDeadLettered, events.EntryEventPayload{
			EntryID:      e.ID,
			TaskID:       e.TaskID,
			Operation:    e.Operation.String(),
			Attempts:     next,
			Error:        msg,
			DeadLetterID: dl.ID,
		})
	}
}

func (c *cycle) confirm(e models.SyncEntry, r domain.ItemResult) {
	o := c.o
	conf := models.Confirmation{SyncedAt: o.now()}

	var echoed models.Task
	if len(r.Data) > 0 && json.Unmarshal(r.Data, &echoed) == nil {
		conf.ServerID = echoed.ServerIDOrEmpty()
		if conf.ServerID == "" {
			conf.ServerID = echoed.ID
		}
		if e.Operation != models.OpDelete && !echoed.UpdatedAt.IsZero() {
			local, err := o.store.GetTask(c.apply, e.TaskID)
			if err == nil && Resolve(*local, echoed) == RemoteWins {
				o.logger.Info().
					Str("task_id", e.TaskID).
					Time("local_updated_at", local.UpdatedAt).
					Time("remote_updated_at", echoed.UpdatedAt).
					Msg("remote version wins conflict")
				remoteTask := echoed
				conf.Remote = &remoteTask
			}
		}
	}

	if err := o.store.ConfirmEntry(c.apply, e, conf); err != nil {
		c.blocked[e.TaskID] = true
		c.addError(e.TaskID, models.CycleOperationStorage, fmt.Sprintf("confirm entry: %v", err))
		return
	}
	c.res.SyncedItems++
	o.publish(events.EventEntrySynced, events.EntryEventPayload{
		EntryID:   e.ID,
		TaskID:    e.TaskID,
		Operation: e.Operation.String(),
		Attempts:  e.Attempts,
		ServerID:  conf.ServerID,
	})
}

// attachServerIDs sets each item's current remote id. A create confirmed earlier in this
// cycle or a previous one is visible here even though later snapshots predate it.
func (c *cycle) attachServerIDs(items []domain.BatchItem) {
	for i := range items {
		task, err := c.o.store.GetTask(c.apply, items[i].TaskID)
		if err != nil {
			continue
		}
		items[i].ServerID = task.ServerIDOrEmpty()
	}
}

func (c *cycle) cancel() {
	if c.cancelled {
		return
	}
	c.cancelled = true
	c.aborted = true
	c.addError("", models.CycleOperationCancelled, c.ctx.Err().Error())
}

func (c *cycle) addError(taskID, op, msg string) {
	c.res.Errors = append(c.res.Errors, models.SyncError{
		TaskID:    taskID,
		Operation: op,
		Error:     msg,
		Timestamp: c.o.now(),
	})
}

package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tasksync/internal/domain"

	"github.com/rs/zerolog"
)

// LocalLocker is an in-process run-lock.
type LocalLocker struct {
	mu sync.Mutex
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{}
}

func (l *LocalLocker) TryLock(context.Context) (bool, error) {
	return l.mu.TryLock(), nil
}

func (l *LocalLocker) Unlock(context.Context) error {
	l.mu.Unlock()
	return nil
}

// FailoverLocker prefers the primary lock and falls back to the secondary while the
// primary is erroring. The primary is retried once recoverAfter has passed.
type FailoverLocker struct {
	primary      domain.RunLocker
	fallback     domain.RunLocker
	logger       *zerolog.Logger
	recoverAfter time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	held      domain.RunLocker
}

func NewFailoverLocker(primary, fallback domain.RunLocker, logger *zerolog.Logger) *FailoverLocker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLocker{
		primary:      primary,
		fallback:     fallback,
		logger:       logger,
		recoverAfter: time.Minute,
	}
}

func (l *FailoverLocker) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.isDown.Load() && time.Since(l.lastCheck) > l.recoverAfter {
		l.isDown.Store(false)
	}

	if !l.isDown.Load() {
		ok, err := l.primary.TryLock(ctx)
		if err == nil {
			if ok {
				l.held = l.primary
			}
			return ok, nil
		}
		l.logger.Error().Err(err).Msg("primary run lock failed, falling back to in-process lock")
		l.isDown.Store(true)
		l.lastCheck = time.Now()
	}

	ok, err := l.fallback.TryLock(ctx)
	if err == nil && ok {
		l.held = l.fallback
	}
	return ok, err
}

func (l *FailoverLocker) Unlock(ctx context.Context) error {
	l.mu.Lock()
	held := l.held
	l.held = nil
	l.mu.Unlock()

	if held == nil {
		return nil
	}
	return held.Unlock(ctx)
}

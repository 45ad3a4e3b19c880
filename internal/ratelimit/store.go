package ratelimit

import (
	"context"
	"sync/atomic"
	"time"
)

// StampStore is a persistence layer able to do a conditional stamp in one
// statement (see storage.Store.TryAcquire).
type StampStore interface {
	TryAcquire(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error)
}

// Shared keeps window state in the relational store so several pipeline
// processes pointed at the same database share one gate.
type Shared struct {
	store  StampStore
	window atomic.Int64
}

func NewShared(store StampStore, window time.Duration) *Shared {
	s := &Shared{store: store}
	if window <= 0 {
		window = DefaultWindow
	}
	s.window.Store(int64(window))
	return s
}

func (s *Shared) TryAcquire(ctx context.Context, key string, now time.Time) (bool, error) {
	return s.store.TryAcquire(ctx, key, now, time.Duration(s.window.Load()))
}

func (s *Shared) SetWindow(window time.Duration) {
	if window > 0 {
		s.window.Store(int64(window))
	}
}

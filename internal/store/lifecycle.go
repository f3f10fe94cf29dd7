package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

type State int32

const (
	StateLoading State = iota
	StateReady
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// lifecycle gates reads until hydration finishes. A failed hydration still
// reaches Ready so waiters never hang; reads then report the failure.
type lifecycle struct {
	ready chan struct{}
	once  sync.Once
	state atomic.Int32
	err   error
}

func newLifecycle() *lifecycle {
	return &lifecycle{ready: make(chan struct{})}
}

func (l *lifecycle) markReady(err error) {
	l.once.Do(func() {
		l.err = err
		l.state.Store(int32(StateReady))
		close(l.ready)
	})
}

func (l *lifecycle) Ready() <-chan struct{} {
	return l.ready
}

func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// Err reports the hydration failure, if any, once the store is Ready.
func (l *lifecycle) Err() error {
	select {
	case <-l.ready:
		return l.err
	default:
		return nil
	}
}

func (l *lifecycle) wait(ctx context.Context) error {
	select {
	case <-l.ready:
		if l.err != nil {
			return fmt.Errorf("store failed to load: %w", l.err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

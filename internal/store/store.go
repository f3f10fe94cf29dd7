package store

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

type Area string

const (
	AreaLocal Area = "local"
	AreaSync  Area = "sync"
)

// Change is published after a key is written or removed.
type Change struct {
	Key  string
	Area Area
}

var ErrClosed = errors.New("store closed")

// Store is a key-value document store with a change feed. Reads block until
// the store has finished loading.
type Store interface {
	// Get returns nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Subscribe() (<-chan Change, func())
	Ready() <-chan struct{}
	State() State
	Err() error
	Close() error
}

type Options struct {
	Area         Area
	PollInterval time.Duration
	Logger       zerolog.Logger
}

const defaultPollInterval = time.Second

func (o Options) withDefaults() Options {
	if o.Area == "" {
		o.Area = AreaLocal
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	return o
}

// WaitReady blocks until s has loaded or ctx is done.
func WaitReady(ctx context.Context, s Store) error {
	select {
	case <-s.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

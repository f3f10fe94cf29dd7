package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/umredir/umredir/internal/engine"
	"github.com/umredir/umredir/internal/mapping"
	"github.com/umredir/umredir/internal/observability"
	"github.com/umredir/umredir/internal/rules"
	"github.com/umredir/umredir/internal/store"
)

type Trigger string

const (
	TriggerInstalled Trigger = "installed"
	TriggerStartup   Trigger = "startup"
	TriggerStorage   Trigger = "storage"
	TriggerManual    Trigger = "manual"
)

var ErrStorageUnavailable = errors.New("mapping storage unavailable")

type Config struct {
	Store  store.Store
	Engine engine.Engine
	// Key and Area select the persisted document. Key defaults to
	// mapping.DocumentKey and Area to store.AreaLocal.
	Key     string
	Area    store.Area
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// Result describes one completed pass.
type Result struct {
	ID      string
	Trigger Trigger
	Removed []int
	Added   []rules.Rule
	Elapsed time.Duration
}

// Synchronizer keeps the engine's rule set equal to the compiled form of the
// persisted mapping list.
type Synchronizer struct {
	store   store.Store
	engine  engine.Engine
	key     string
	area    store.Area
	log     zerolog.Logger
	metrics *observability.Metrics

	passMu sync.Mutex
	kick   chan Trigger
}

func New(cfg Config) (*Synchronizer, error) {
	if cfg.Store == nil {
		return nil, errors.New("syncer: store is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("syncer: engine is required")
	}
	if cfg.Key == "" {
		cfg.Key = mapping.DocumentKey
	}
	if cfg.Area == "" {
		cfg.Area = store.AreaLocal
	}
	return &Synchronizer{
		store:   cfg.Store,
		engine:  cfg.Engine,
		key:     cfg.Key,
		area:    cfg.Area,
		log:     cfg.Logger.With().Str("component", "syncer").Logger(),
		metrics: cfg.Metrics,
		kick:    make(chan Trigger, 1),
	}, nil
}

// Sync runs one pass: read the mapping list, then replace every installed
// rule with its compiled form. Passes never overlap.
func (s *Synchronizer) Sync(ctx context.Context, trigger Trigger) (Result, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	res := Result{ID: uuid.NewString(), Trigger: trigger}
	start := time.Now()
	log := s.log.With().Str("pass", res.ID).Str("trigger", string(trigger)).Logger()

	outcome, err := s.pass(ctx, log, &res)
	res.Elapsed = time.Since(start)

	installed := -1
	switch {
	case err == nil:
		installed = len(res.Added)
	case outcome == observability.ResultRejected:
		installed = 0
	}
	s.metrics.ObservePass(string(trigger), outcome, installed, res.Elapsed)

	if err != nil {
		log.Error().Err(err).Str("result", outcome).Dur("elapsed", res.Elapsed).Msg("sync pass failed")
		return res, err
	}
	log.Info().
		Str("result", outcome).
		Int("removed", len(res.Removed)).
		Int("added", len(res.Added)).
		Dur("elapsed", res.Elapsed).
		Msg("sync pass complete")
	return res, nil
}

func (s *Synchronizer) pass(ctx context.Context, log zerolog.Logger, res *Result) (string, error) {
	if err := store.WaitReady(ctx, s.store); err != nil {
		return observability.ResultUnavailable, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	raw, err := s.store.Get(ctx, s.key)
	if err != nil {
		return observability.ResultUnavailable, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	pages, err := mapping.Pages(raw)
	if err != nil {
		log.Warn().Err(err).Msg("treating mapping document as empty")
		pages = nil
	}

	ids, err := s.engine.RuleIDs(ctx)
	if err != nil {
		return observability.ResultFailed, fmt.Errorf("list installed rules: %w", err)
	}
	if err := s.engine.RemoveRules(ctx, ids); err != nil {
		return observability.ResultFailed, fmt.Errorf("remove rules: %w", err)
	}
	res.Removed = ids

	// Once rules are gone the pass must finish, or the engine is left empty.
	ctx = context.WithoutCancel(ctx)

	if len(pages) == 0 {
		return observability.ResultCleared, nil
	}

	compiled := rules.Compile(pages)
	for _, r := range compiled {
		log.Debug().
			Int("rule_id", r.ID).
			Str("regex", r.Condition.RegexFilter).
			Str("substitution", r.Substitution()).
			Msg("submitting rule")
	}
	if err := s.engine.AddRules(ctx, compiled); err != nil {
		if errors.Is(err, engine.ErrRejected) {
			return observability.ResultRejected, err
		}
		return observability.ResultFailed, fmt.Errorf("add rules: %w", err)
	}
	res.Added = compiled
	return observability.ResultApplied, nil
}

// Trigger schedules a pass. While one is pending, further triggers are
// absorbed into it.
func (s *Synchronizer) Trigger(trigger Trigger) bool {
	select {
	case s.kick <- trigger:
		return true
	default:
		s.log.Debug().Str("trigger", string(trigger)).Msg("pass already pending")
		return false
	}
}

// Run executes queued passes until ctx is done. Failed passes are logged and
// do not stop the loop.
func (s *Synchronizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trigger := <-s.kick:
			_, _ = s.Sync(ctx, trigger)
		}
	}
}

func (s *Synchronizer) Installed() { s.Trigger(TriggerInstalled) }

func (s *Synchronizer) Startup() { s.Trigger(TriggerStartup) }

// StorageChanged schedules a pass when change touches the mapping document.
func (s *Synchronizer) StorageChanged(change store.Change) {
	if change.Key != s.key || change.Area != s.area {
		return
	}
	s.Trigger(TriggerStorage)
}

// Watch subscribes to the store's change feed and forwards it until ctx is
// done. The returned channel closes when forwarding stops.
func (s *Synchronizer) Watch(ctx context.Context) <-chan struct{} {
	changes, cancel := s.store.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				s.StorageChanged(change)
			}
		}
	}()
	return done
}

// LogMatches attaches a debug listener to t.
func (s *Synchronizer) LogMatches(t *engine.Table) {
	t.OnRuleMatched(func(info engine.MatchInfo) {
		s.log.Debug().
			Int("rule_id", info.RuleID).
			Str("url", info.URL).
			Str("redirect", info.RedirectURL).
			Str("surface", info.Surface).
			Msg("rule matched")
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/umredir/umredir/internal/config"
	"github.com/umredir/umredir/internal/logging"
	"github.com/umredir/umredir/internal/store"
)

func newLogger(cfg *config.Config, console io.Writer) (zerolog.Logger, io.Closer, error) {
	file := ""
	if cfg.Logging.File != "" {
		file = cfg.ResolvePath(cfg.Logging.File)
	}
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   file,
	}, console)
}

// openStore opens the configured backend. fresh reports whether the backing
// file did not exist yet, which the daemon treats as a first install.
func openStore(cfg *config.Config, log zerolog.Logger) (st store.Store, fresh bool, err error) {
	opts := store.Options{Area: store.Area(cfg.Store.Area), Logger: log}

	if cfg.Store.Driver == config.DriverMemory {
		return store.NewMemory(opts.Area), true, nil
	}

	path := cfg.ResolvePath(cfg.Store.Path)
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		fresh = true
	}

	switch cfg.Store.Driver {
	case config.DriverSQLite:
		st, err = store.OpenSQLite(path, opts)
	case config.DriverFile:
		st, err = store.OpenFile(path, opts)
	default:
		return nil, false, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return st, fresh, nil
}

// withStore opens the configured store for a one-shot command.
func withStore(cmd *cobra.Command, configPath string, fn func(ctx context.Context, cfg *config.Config, st store.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log, closer, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	st, _, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	return fn(cmd.Context(), cfg, st)
}

func readDocument(ctx context.Context, st store.Store, key string) ([]byte, error) {
	if err := store.WaitReady(ctx, st); err != nil {
		return nil, err
	}
	return st.Get(ctx, key)
}

// editDocument applies edit to the mapping document and persists the result.
func editDocument(ctx context.Context, st store.Store, key string, edit func([]byte) ([]byte, error)) error {
	raw, err := readDocument(ctx, st, key)
	if err != nil {
		return err
	}
	updated, err := edit(raw)
	if err != nil {
		return err
	}
	return st.Set(ctx, key, updated)
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// File stores documents as one JSON object per file, keyed by document
// name. Edits made by other processes are picked up with fsnotify.
type File struct {
	*lifecycle
	*notifier

	path string
	area Area
	log  zerolog.Logger

	mu       sync.Mutex
	snapshot map[string]json.RawMessage

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

var _ Store = (*File)(nil)

func OpenFile(path string, opts Options) (*File, error) {
	opts = opts.withDefaults()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	f := &File{
		lifecycle: newLifecycle(),
		notifier:  newNotifier(),
		path:      abs,
		area:      opts.Area,
		log:       opts.Logger.With().Str("component", "store").Str("driver", "file").Logger(),
		snapshot:  map[string]json.RawMessage{},
		watcher:   watcher,
		done:      make(chan struct{}),
	}
	go f.hydrate()
	return f, nil
}

func (f *File) hydrate() {
	defer close(f.done)

	// Watch the directory so atomic renames over the file are seen.
	if err := f.watcher.Add(filepath.Dir(f.path)); err != nil {
		f.log.Error().Err(err).Msg("watch store dir failed")
		f.markReady(err)
		return
	}

	values, err := f.load()
	if err != nil {
		f.log.Error().Err(err).Str("path", f.path).Msg("load store failed")
		f.markReady(err)
		return
	}
	f.mu.Lock()
	f.snapshot = values
	f.mu.Unlock()
	f.markReady(nil)

	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (f *File) reload() {
	values, err := f.load()
	if err != nil {
		// Partial writes by other editors show up as parse errors; the
		// next event carries the finished file.
		f.log.Debug().Err(err).Msg("reload skipped")
		return
	}

	f.mu.Lock()
	changed := diffKeys(f.snapshot, values)
	f.snapshot = values
	f.mu.Unlock()

	for _, key := range changed {
		f.log.Debug().Str("key", key).Msg("external change detected")
		f.publish(Change{Key: key, Area: f.area})
	}
}

func (f *File) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]json.RawMessage{}, nil
	}

	values := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return values, nil
}

func (f *File) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	values, err := f.load()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	value, ok := values[key]
	if !ok {
		return nil, nil
	}
	return []byte(value), nil
}

func (f *File) Set(ctx context.Context, key string, value []byte) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("set %s: value is not JSON", key)
	}
	return f.update(key, func(values map[string]json.RawMessage) bool {
		values[key] = json.RawMessage(append([]byte(nil), value...))
		return true
	})
}

func (f *File) Remove(ctx context.Context, key string) error {
	if err := f.wait(ctx); err != nil {
		return err
	}
	return f.update(key, func(values map[string]json.RawMessage) bool {
		if _, ok := values[key]; !ok {
			return false
		}
		delete(values, key)
		return true
	})
}

func (f *File) update(key string, mutate func(map[string]json.RawMessage) bool) error {
	f.mu.Lock()
	values, err := f.load()
	if err != nil {
		f.mu.Unlock()
		return err
	}
	if !mutate(values) {
		f.mu.Unlock()
		return nil
	}
	if err := f.write(values); err != nil {
		f.mu.Unlock()
		return err
	}
	// Snapshot the bytes as written so our own event does not look like an
	// external edit.
	if written, err := f.load(); err == nil {
		f.snapshot = written
	} else {
		f.snapshot = values
	}
	f.mu.Unlock()

	f.publish(Change{Key: key, Area: f.area})
	return nil
}

func (f *File) write(values map[string]json.RawMessage) error {
	data, err := encodeValues(values)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".umredir-store-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, f.path)
}

// encodeValues writes the object with sorted keys and each document's bytes
// untouched, so Get returns exactly what Set stored.
func encodeValues(values map[string]json.RawMessage) ([]byte, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, key := range keys {
		if i > 0 {
			buf.WriteString(",")
		}
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.WriteString("\n  ")
		buf.Write(name)
		buf.WriteString(": ")
		buf.Write(values[key])
	}
	if len(keys) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func (f *File) Close() error {
	var err error
	f.once.Do(func() {
		err = f.watcher.Close()
		<-f.done
		f.notifier.close()
	})
	return err
}

func diffKeys(before, after map[string]json.RawMessage) []string {
	var changed []string
	for key, value := range after {
		prev, ok := before[key]
		if !ok || !bytes.Equal(prev, value) {
			changed = append(changed, key)
		}
	}
	for key := range before {
		if _, ok := after[key]; !ok {
			changed = append(changed, key)
		}
	}
	return changed
}

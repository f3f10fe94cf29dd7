package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entry struct {
	Key       string `gorm:"column:doc_key;primaryKey;size:255"`
	Area      string `gorm:"column:area;primaryKey;size:32"`
	Value     []byte `gorm:"column:value"`
	Revision  int64  `gorm:"column:revision;index"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "kv_entries" }

// SQLite stores documents in a SQLite database. Writes from other processes
// are detected by polling entry revisions.
type SQLite struct {
	*lifecycle
	*notifier

	db   *gorm.DB
	area Area
	log  zerolog.Logger

	mu   sync.Mutex
	seen map[string]int64

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens the database and loads it in the background; the store
// is Ready once the schema is migrated and the first snapshot is taken.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	opts = opts.withDefaults()

	db, err := gorm.Open(sqlite.Open(dsn(path)), &gorm.Config{Logger: newGormLogger(opts.Logger)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	s := &SQLite{
		lifecycle: newLifecycle(),
		notifier:  newNotifier(),
		db:        db,
		area:      opts.Area,
		log:       opts.Logger.With().Str("component", "store").Str("driver", "sqlite").Logger(),
		seen:      make(map[string]int64),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.hydrate(opts.PollInterval)
	return s, nil
}

// dsn lets the daemon and editing commands share one database file.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (s *SQLite) hydrate(interval time.Duration) {
	defer close(s.done)

	if err := s.db.AutoMigrate(&entry{}); err != nil {
		s.log.Error().Err(err).Msg("schema migration failed")
		s.markReady(err)
		return
	}
	revisions, err := s.revisions(context.Background())
	if err != nil {
		s.log.Error().Err(err).Msg("initial snapshot failed")
		s.markReady(err)
		return
	}
	s.mu.Lock()
	s.seen = revisions
	s.mu.Unlock()

	s.log.Debug().Int("keys", len(revisions)).Msg("store ready")
	s.markReady(nil)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *SQLite) poll() {
	current, err := s.revisions(context.Background())
	if err != nil {
		s.log.Warn().Err(err).Msg("poll revisions failed")
		return
	}

	var changed []string
	s.mu.Lock()
	for key, rev := range current {
		if s.seen[key] != rev {
			changed = append(changed, key)
		}
	}
	for key := range s.seen {
		if _, ok := current[key]; !ok {
			changed = append(changed, key)
		}
	}
	s.seen = current
	s.mu.Unlock()

	for _, key := range changed {
		s.log.Debug().Str("key", key).Msg("external change detected")
		s.publish(Change{Key: key, Area: s.area})
	}
}

func (s *SQLite) revisions(ctx context.Context) (map[string]int64, error) {
	var rows []entry
	err := s.db.WithContext(ctx).
		Select("doc_key", "revision").
		Where("area = ?", string(s.area)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Revision
	}
	return out, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	var row entry
	err := s.db.WithContext(ctx).
		Where("doc_key = ? AND area = ?", key, string(s.area)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return row.Value, nil
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	row := entry{
		Key:       key,
		Area:      string(s.area),
		Value:     value,
		Revision:  time.Now().UnixNano(),
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	s.mu.Lock()
	s.seen[key] = row.Revision
	s.mu.Unlock()

	s.publish(Change{Key: key, Area: s.area})
	return nil
}

func (s *SQLite) Remove(ctx context.Context, key string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Where("doc_key = ? AND area = ?", key, string(s.area)).
		Delete(&entry{})
	if res.Error != nil {
		return fmt.Errorf("remove %s: %w", key, res.Error)
	}

	s.mu.Lock()
	delete(s.seen, key)
	s.mu.Unlock()

	if res.RowsAffected > 0 {
		s.publish(Change{Key: key, Area: s.area})
	}
	return nil
}

func (s *SQLite) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		<-s.done
		s.notifier.close()

		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			err = dbErr
			return
		}
		err = sqlDB.Close()
	})
	return err
}

package toggle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS toggle_flags (
	key     TEXT PRIMARY KEY,
	value   INTEGER NOT NULL,
	version INTEGER NOT NULL,
	source  TEXT NOT NULL
);`

// SQLiteConfig holds the SQLite backend settings.
type SQLiteConfig struct {
	Path string
	Key  string
	// Change detection polling period
	WatchPeriod time.Duration
}

// SQLiteStore keeps the flag in a SQLite file shared by every process of the origin.
// Writes bump a version counter which watchers poll.
type SQLiteStore struct {
	db          *sql.DB
	key         string
	source      string
	watchPeriod time.Duration
	logger      *zap.Logger
	//
	mu     sync.Mutex
	closed bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

var _ Store = (*SQLiteStore)(nil)

type sqliteRow struct {
	value   bool
	version int64
	source  string
}

func (s *SQLiteStore) read(ctx context.Context) (sqliteRow, bool, error) {
	row := sqliteRow{}
	err := s.db.QueryRowContext(ctx, `SELECT value, version, source FROM toggle_flags WHERE key = ?`, s.key).
		Scan(&row.value, &row.version, &row.source)
	if errors.Is(err, sql.ErrNoRows) {
		return sqliteRow{}, false, nil
	}
	if err != nil {
		return sqliteRow{}, false, fmt.Errorf("sqlite select: %w", err)
	}

	return row, true, nil
}

// Get implements the Store interface.
func (s *SQLiteStore) Get(ctx context.Context) (bool, bool, error) {
	row, found, err := s.read(ctx)
	if err != nil {
		return false, false, err
	}

	return row.value, found, nil
}

// Set implements the Store interface.
func (s *SQLiteStore) Set(ctx context.Context, value bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO toggle_flags (key, value, version, source) VALUES (?, ?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			version = toggle_flags.version + 1,
			source = excluded.source`,
		s.key, value, s.source,
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert: %w", err)
	}

	return nil
}

// Watch implements the Store interface.
func (s *SQLiteStore) Watch(fn func(value bool)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	last, _, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	unsubCh := make(chan struct{})
	s.wg.Add(1)
	go s.watcher(last.version, fn, unsubCh)

	var once sync.Once
	return func() {
		once.Do(func() { close(unsubCh) })
	}, nil
}

// watcher polls the version counter.
func (s *SQLiteStore) watcher(version int64, fn func(bool), unsubCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.watchPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-unsubCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.watchPeriod)
			row, found, err := s.read(ctx)
			cancel()
			if err != nil {
				s.logger.Debug("poll failed", zap.Error(err))
				continue
			}
			if !found || row.version == version {
				continue
			}
			version = row.version

			if row.source != s.source {
				fn(row.value)
			}
		}
	}
}

// Close implements the Store interface.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()

	return s.db.Close()
}

// NewSQLiteStore opens (creating if needed) the flag file and creates a new context handle.
func NewSQLiteStore(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("%s: empty", "path")
	}
	if cfg.WatchPeriod <= 0 {
		return nil, fmt.Errorf("%s: must be GT 0", "watchPeriod")
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := SQLiteStore{
		db:          db,
		key:         cfg.Key,
		source:      uuid.NewString(),
		watchPeriod: cfg.WatchPeriod,
		logger:      logger.Named("toggle-sqlite"),
		stopCh:      make(chan struct{}),
	}

	return &s, nil
}

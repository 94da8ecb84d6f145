package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/async-api-caller/pkg/logging"
	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// record is the persisted row: key, JSON value and optional expiry in Unix milliseconds.
type record struct {
	Key       string `gorm:"primaryKey;column:key;size:64"`
	Value     string `gorm:"column:value;not null"`
	ExpiresAt *int64 `gorm:"column:expires_at;index"`
}

func (record) TableName() string { return "api_cache" }

// SQLConfig tunes a SQL-backed store.
type SQLConfig struct {
	// Clock overrides time.Now for expiry decisions.
	Clock Clock

	// BusyTimeout is how long SQLite waits on a locked database (default 5s).
	BusyTimeout time.Duration
}

// SQLStore persists entries in a single api_cache table through GORM.
// It runs on the embedded SQLite driver by default and on PostgreSQL when
// opened with OpenPostgres.
type SQLStore struct {
	db     *gorm.DB
	now    Clock
	codec  Codec
	ownsDB bool
	logger zerolog.Logger
	closed atomic.Bool
}

// OpenSQLite opens (creating if needed) the SQLite file at path and
// migrates the schema. An empty path uses DefaultPath.
func OpenSQLite(path string, cfg SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, busy.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite allows one writer; a single connection serializes access
	// instead of surfacing SQLITE_BUSY to concurrent fetches.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sqlite connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	store, err := newSQLStore(db, cfg, true)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects to PostgreSQL, verifies connectivity and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string, cfg SQLConfig) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap postgres connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store, err := newSQLStore(db, cfg, true)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an existing GORM handle. Caller owns the DB lifecycle;
// Close does not close db.
func NewSQLStore(db *gorm.DB, cfg SQLConfig) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	return newSQLStore(db, cfg, false)
}

func newSQLStore(db *gorm.DB, cfg SQLConfig, owns bool) (*SQLStore, error) {
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrate api_cache: %w", err)
	}
	return &SQLStore{
		db:     db,
		now:    clockOrDefault(cfg.Clock),
		codec:  JSONCodec{},
		ownsDB: owns,
		logger: logging.NewLogger(logging.ComponentCache),
	}, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) (*Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var rec record
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("sql get: %w", err)
	}

	entry := &Entry{Key: rec.Key, ExpiresAt: fromMillis(rec.ExpiresAt)}
	if entry.IsExpired(s.now()) {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	value, err := s.codec.Decode([]byte(rec.Value))
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	entry.Value = value

	CacheHits.WithLabelValues("sql").Inc()
	return entry, nil
}

// Set implements Store.
func (s *SQLStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}

	data, err := s.codec.Encode(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}

	rec := record{
		Key:       key,
		Value:     string(data),
		ExpiresAt: toMillis(expiresAt(s.now(), ttl)),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("sql upsert: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *SQLStore) Clear(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UnixMilli()).
		Delete(&record{})
	if res.Error != nil {
		CacheErrors.WithLabelValues("clear").Inc()
		return 0, fmt.Errorf("sql purge expired: %w", res.Error)
	}
	CachePurged.Add(float64(res.RowsAffected))
	s.logger.Debug().
		Int64("purged", res.RowsAffected).
		Msg("Purged expired entries")
	return res.RowsAffected, nil
}

// Delete removes key regardless of expiry.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Delete(&record{}).Error; err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("sql delete: %w", err)
	}
	return nil
}

// Count returns the number of physical rows, expired ones included.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&record{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("sql count: %w", err)
	}
	return n, nil
}

// Close implements Store. It closes the connection only when the store opened it.
func (s *SQLStore) Close() error {
	if s.closed.Swap(true) || !s.ownsDB {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ Store = (*SQLStore)(nil)

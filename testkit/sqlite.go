package testkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SQLiteOptions controls the in-process SQLite database. An empty Path
// creates a private shared-cache in-memory database.
type SQLiteOptions struct {
	Path       string     `mapstructure:"path"`
	Prefix     string     `mapstructure:"prefix"`
	Migrations Migrations `mapstructure:",squash"`
}

// SQLite is an in-process database resource whose handle is a *gorm.DB.
type SQLite struct {
	opts SQLiteOptions
	dsn  string

	mu sync.RWMutex
	db *gorm.DB
}

func NewSQLite(opts SQLiteOptions) *SQLite {
	dsn := opts.Path
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}
	return &SQLite{opts: opts, dsn: dsn}
}

func (s *SQLite) Start(ctx context.Context) error {
	db, err := openGorm("sqlite", s.dsn)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	s.mu.Lock()
	s.db = db
	s.mu.Unlock()

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return migrate(ctx, sqlDB, "sqlite3", s.opts.Migrations)
}

func (s *SQLite) Stop(context.Context) error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	return closeGorm(db)
}

func (s *SQLite) Handle() any { return s.DB() }

func (s *SQLite) DB() *gorm.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// DSN returns the data source name the database was opened with.
func (s *SQLite) DSN() string { return s.dsn }

func (s *SQLite) Properties() map[string]string {
	if s.DB() == nil {
		return nil
	}
	return map[string]string{prop(s.opts.Prefix, "dsn"): s.dsn}
}

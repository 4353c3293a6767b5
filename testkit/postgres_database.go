package testkit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const defaultDatabasePrefix = "it"

// DatabaseOptions controls an isolated database created inside a running
// Postgres server.
type DatabaseOptions struct {
	// Name is used verbatim when set. Otherwise a unique name is derived from
	// NamePrefix.
	Name       string     `mapstructure:"name"`
	NamePrefix string     `mapstructure:"name_prefix"`
	Prefix     string     `mapstructure:"prefix"`
	Migrations Migrations `mapstructure:",squash"`
}

// PostgresDatabase is a database created on Start and dropped on Stop. It is
// meant to be class-scoped on top of a suite-scoped Postgres.
type PostgresDatabase struct {
	server *Postgres
	opts   DatabaseOptions

	mu      sync.RWMutex
	name    string
	db      *sql.DB
	created bool
}

// Database returns a factory for isolated databases on p.
func (p *Postgres) Database(opts DatabaseOptions) resource.Factory {
	return func(resource.Options) (resource.Resource, error) {
		return newPostgresDatabase(p, opts), nil
	}
}

func newPostgresDatabase(server *Postgres, opts DatabaseOptions) *PostgresDatabase {
	if opts.NamePrefix == "" {
		opts.NamePrefix = defaultDatabasePrefix
	}
	name := opts.Name
	if name == "" {
		name = makePostgresDatabaseName(opts.NamePrefix, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
	}
	return &PostgresDatabase{server: server, opts: opts, name: name}
}

func (d *PostgresDatabase) Start(ctx context.Context) error {
	admin := d.server.DB()
	if admin == nil {
		return fmt.Errorf("create database %q: server %w", d.name, ErrNotStarted)
	}
	if _, err := admin.ExecContext(ctx, `CREATE DATABASE `+quoteIdentifier(d.name)); err != nil {
		return fmt.Errorf("create database %q: %w", d.name, err)
	}
	d.mu.Lock()
	d.created = true
	d.mu.Unlock()

	db, err := sql.Open("postgres", d.URL())
	if err != nil {
		return fmt.Errorf("open database %q: %w", d.name, err)
	}
	d.mu.Lock()
	d.db = db
	d.mu.Unlock()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database %q: %w", d.name, err)
	}
	return migrate(ctx, db, "postgres", d.opts.Migrations)
}

// Stop closes the pool, terminates leftover sessions and drops the database.
func (d *PostgresDatabase) Stop(ctx context.Context) error {
	d.mu.Lock()
	db, created := d.db, d.created
	d.db, d.created = nil, false
	d.mu.Unlock()

	var err error
	if db != nil {
		err = multierr.Append(err, db.Close())
	}
	if !created {
		return err
	}
	admin := d.server.DB()
	if admin == nil {
		return multierr.Append(err, fmt.Errorf("drop database %q: server %w", d.name, ErrNotStarted))
	}
	if _, termErr := admin.ExecContext(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		d.name); termErr != nil {
		err = multierr.Append(err, termErr)
	}
	if _, dropErr := admin.ExecContext(ctx, `DROP DATABASE IF EXISTS `+quoteIdentifier(d.name)); dropErr != nil {
		err = multierr.Append(err, fmt.Errorf("drop database %q: %w", d.name, dropErr))
	}
	return err
}

func (d *PostgresDatabase) Handle() any { return d }

// Name returns the database name.
func (d *PostgresDatabase) Name() string { return d.name }

// DB returns the pool opened on Start, or nil.
func (d *PostgresDatabase) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Gorm opens a gorm handle on the database. The caller closes it.
func (d *PostgresDatabase) Gorm() (*gorm.DB, error) {
	return openGorm("postgres", d.URL())
}

func (d *PostgresDatabase) URL() string {
	return d.server.URLForDatabase(d.name)
}

func (d *PostgresDatabase) Properties() map[string]string {
	if d.DB() == nil {
		return nil
	}
	return map[string]string{
		prop(d.opts.Prefix, "url"):      d.URL(),
		prop(d.opts.Prefix, "database"): d.name,
	}
}

func makePostgresDatabaseName(prefix, fragment string) string {
	base := cleanIDFragment(prefix + "_" + fragment)
	if base == "" {
		base = "it_case"
	}
	if base[0] >= '0' && base[0] <= '9' {
		base = "db_" + base
	}
	if len(base) > 63 {
		base = base[:63]
	}
	return base
}

package testkit

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultPostgresImage          = "postgres:17-alpine"
	defaultPostgresPort           = "5432/tcp"
	defaultPostgresUser           = "postgres"
	defaultPostgresPassword       = "postgres"
	defaultPostgresDB             = "postgres"
	defaultPostgresStartupTimeout = 2 * time.Minute
)

// PostgresOptions controls how the PostgreSQL container is started.
type PostgresOptions struct {
	Image          string        `mapstructure:"image"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prefix         string        `mapstructure:"prefix"`
	Migrations     Migrations    `mapstructure:",squash"`
}

// Postgres is a PostgreSQL container resource. Its handle is the *Postgres
// itself; use DB, Gorm or URL to reach the database.
type Postgres struct {
	opts      PostgresOptions
	container *Container

	mu   sync.RWMutex
	host string
	port string
	db   *sql.DB
}

// NewPostgres builds a PostgreSQL resource. Nothing runs until Start.
func NewPostgres(opts PostgresOptions) *Postgres {
	opts = withPostgresDefaults(opts)
	return &Postgres{
		opts: opts,
		container: NewContainerFromRequest(testcontainers.ContainerRequest{
			Image:        opts.Image,
			ExposedPorts: []string{defaultPostgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     opts.Username,
				"POSTGRES_PASSWORD": opts.Password,
				"POSTGRES_DB":       opts.Database,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(defaultPostgresPort),
				wait.ForSQL(defaultPostgresPort, "postgres", func(host string, port nat.Port) string {
					return postgresURL(opts.Username, opts.Password, host, port.Port(), opts.Database)
				}),
			).WithStartupTimeout(opts.StartupTimeout),
		}, ""),
	}
}

// Start runs the container, opens a pool and applies migrations.
func (p *Postgres) Start(ctx context.Context) error {
	if err := p.container.Start(ctx); err != nil {
		return err
	}
	port, err := p.container.MappedPort(defaultPostgresPort)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.host = p.container.Host()
	p.port = port
	p.mu.Unlock()

	db, err := sql.Open("postgres", p.URL())
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	p.mu.Lock()
	p.db = db
	p.mu.Unlock()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return migrate(ctx, db, "postgres", p.opts.Migrations)
}

// Stop closes the pool and terminates the container.
func (p *Postgres) Stop(ctx context.Context) error {
	p.mu.Lock()
	db := p.db
	p.db = nil
	p.mu.Unlock()

	var err error
	if db != nil {
		err = multierr.Append(err, db.Close())
	}
	return multierr.Append(err, p.container.Stop(ctx))
}

// Handle returns p.
func (p *Postgres) Handle() any { return p }

// DB returns the shared connection pool, or nil before Start.
func (p *Postgres) DB() *sql.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db
}

// Gorm opens a gorm handle on the default database. The caller closes it.
func (p *Postgres) Gorm() (*gorm.DB, error) {
	return openGorm("postgres", p.URL())
}

// URL returns a postgres:// URL with sslmode disabled, suitable for local integration tests.
func (p *Postgres) URL() string {
	return p.URLForDatabase(p.opts.Database)
}

// URLForDatabase returns a URL for another database on the same server.
func (p *Postgres) URLForDatabase(database string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return postgresURL(p.opts.Username, p.opts.Password, p.host, p.port, database)
}

// Properties publishes <prefix>.url, host, port, username, password and database.
func (p *Postgres) Properties() map[string]string {
	p.mu.RLock()
	host, port := p.host, p.port
	p.mu.RUnlock()
	if port == "" {
		return nil
	}
	pre := p.opts.Prefix
	return map[string]string{
		prop(pre, "url"):      p.URL(),
		prop(pre, "host"):     host,
		prop(pre, "port"):     port,
		prop(pre, "username"): p.opts.Username,
		prop(pre, "password"): p.opts.Password,
		prop(pre, "database"): p.opts.Database,
	}
}

func postgresURL(user, password, host, port, database string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		url.QueryEscape(user),
		url.QueryEscape(password),
		host,
		port,
		url.PathEscape(database),
	)
}

func withPostgresDefaults(opts PostgresOptions) PostgresOptions {
	if opts.Image == "" {
		opts.Image = defaultPostgresImage
	}
	if opts.Username == "" {
		opts.Username = defaultPostgresUser
	}
	if opts.Password == "" {
		opts.Password = defaultPostgresPassword
	}
	if opts.Database == "" {
		opts.Database = defaultPostgresDB
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultPostgresStartupTimeout
	}
	return opts
}

package testkit

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultMySQLImage          = "mysql:8.4"
	defaultMySQLPort           = "3306/tcp"
	defaultMySQLPassword       = "mysql"
	defaultMySQLDB             = "test"
	defaultMySQLStartupTimeout = 3 * time.Minute
)

// MySQLOptions controls how the MySQL container is started. The root account is used.
type MySQLOptions struct {
	Image          string        `mapstructure:"image"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"database"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prefix         string        `mapstructure:"prefix"`
	Migrations     Migrations    `mapstructure:",squash"`
}

// MySQL is a MySQL container resource whose handle is a *gorm.DB.
type MySQL struct {
	opts      MySQLOptions
	container *Container

	mu   sync.RWMutex
	addr string
	db   *gorm.DB
}

func NewMySQL(opts MySQLOptions) *MySQL {
	opts = withMySQLDefaults(opts)
	return &MySQL{
		opts: opts,
		container: NewContainerFromRequest(testcontainers.ContainerRequest{
			Image:        opts.Image,
			ExposedPorts: []string{defaultMySQLPort},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": opts.Password,
				"MYSQL_DATABASE":      opts.Database,
			},
			WaitingFor: wait.ForSQL(defaultMySQLPort, "mysql", func(host string, port nat.Port) string {
				return mysqlDSN(opts.Password, net.JoinHostPort(host, port.Port()), opts.Database)
			}).WithStartupTimeout(opts.StartupTimeout),
		}, ""),
	}
}

func (m *MySQL) Start(ctx context.Context) error {
	if err := m.container.Start(ctx); err != nil {
		return err
	}
	port, err := m.container.MappedPort(defaultMySQLPort)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(m.container.Host(), port)

	db, err := openGorm("mysql", mysqlDSN(m.opts.Password, addr, m.opts.Database))
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	m.mu.Lock()
	m.addr = addr
	m.db = db
	m.mu.Unlock()

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	return migrate(ctx, sqlDB, "mysql", m.opts.Migrations)
}

func (m *MySQL) Stop(ctx context.Context) error {
	m.mu.Lock()
	db := m.db
	m.db = nil
	m.mu.Unlock()
	return multierr.Append(closeGorm(db), m.container.Stop(ctx))
}

func (m *MySQL) Handle() any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db
}

// DSN returns a go-sql-driver DSN for the configured database.
func (m *MySQL) DSN() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return mysqlDSN(m.opts.Password, m.addr, m.opts.Database)
}

func (m *MySQL) Properties() map[string]string {
	m.mu.RLock()
	addr := m.addr
	m.mu.RUnlock()
	if addr == "" {
		return nil
	}
	return map[string]string{
		prop(m.opts.Prefix, "dsn"):      m.DSN(),
		prop(m.opts.Prefix, "addr"):     addr,
		prop(m.opts.Prefix, "username"): "root",
		prop(m.opts.Prefix, "password"): m.opts.Password,
		prop(m.opts.Prefix, "database"): m.opts.Database,
	}
}

func mysqlDSN(password, addr, database string) string {
	return fmt.Sprintf("root:%s@tcp(%s)/%s?parseTime=true&multiStatements=true", password, addr, database)
}

func withMySQLDefaults(opts MySQLOptions) MySQLOptions {
	if opts.Image == "" {
		opts.Image = defaultMySQLImage
	}
	if opts.Password == "" {
		opts.Password = defaultMySQLPassword
	}
	if opts.Database == "" {
		opts.Database = defaultMySQLDB
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultMySQLStartupTimeout
	}
	return opts
}

package testkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// Migrations points at a directory of goose migrations. When FS is nil, Dir
// is read from the local filesystem.
type Migrations struct {
	FS  fs.FS  `mapstructure:"-"`
	Dir string `mapstructure:"migrations"`
}

func (m Migrations) empty() bool {
	return m.FS == nil && m.Dir == ""
}

func (m Migrations) source() (fs.FS, error) {
	if m.FS == nil {
		return os.DirFS(m.Dir), nil
	}
	if m.Dir == "" || m.Dir == "." {
		return m.FS, nil
	}
	return fs.Sub(m.FS, m.Dir)
}

// goose keeps its dialect and base FS in package globals.
var migrationsMu sync.Mutex

// migrate applies every pending goose migration to db.
func migrate(ctx context.Context, db *sql.DB, dialect string, m Migrations) error {
	if m.empty() {
		return nil
	}
	base, err := m.source()
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	migrationsMu.Lock()
	defer migrationsMu.Unlock()

	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(parseDialect(dialect)); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	goose.SetBaseFS(base)
	defer goose.SetBaseFS(nil)

	if err := goose.UpContext(ctx, db, "."); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}

func parseDialect(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "sqlite", "sqlite3":
		return "sqlite3"
	case "", "postgresql":
		return "postgres"
	default:
		return strings.ToLower(strings.TrimSpace(d))
	}
}

func newDialector(dialect, dsn string) (gorm.Dialector, error) {
	switch parseDialect(dialect) {
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "sqlite3":
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func openGorm(dialect, dsn string) (*gorm.DB, error) {
	d, err := newDialector(dialect, dsn)
	if err != nil {
		return nil, err
	}
	return gorm.Open(d, &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
		NamingStrategy:       schema.NamingStrategy{SingularTable: false},
	})
}

// closeGorm closes the pool behind a gorm handle.
func closeGorm(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func quoteIdentifier(v string) string {
	return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
}

func cleanIDFragment(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range raw {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

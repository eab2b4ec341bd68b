// Package store persists the task queue snapshot, task history, device
// descriptors, the outbound message outbox, the audit log and admin users.
package store

import (
	"database/sql"
	"fmt"

	"robonav/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// DB is the robonav database. SQLite is the default for a single robot;
// PostgreSQL lets several robots share one history and audit trail.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open connects to the configured database and applies the schema.
func Open(cfg *config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", cfg.SQLite.Path)
		// One writer: the queue snapshot and the outbox drainer share the file.
		return open("sqlite", dsn, sqliteDialect{}, 1)
	case "postgres":
		p := cfg.Postgres
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
		return open("pgx", dsn, postgresDialect{}, 0)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func open(driver, dsn string, d Dialect, maxConns int) (*DB, error) {
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
	}
	db := &DB{DB: sqlDB, dialect: d}
	if _, err := db.Exec(d.Schema()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate %s: %w", driver, err)
	}
	return db, nil
}

// Q rebinds ? placeholders for the active dialect.
func (db *DB) Q(query string) string {
	if _, ok := db.dialect.(sqliteDialect); ok {
		return query
	}
	return rebind(query, db.dialect)
}

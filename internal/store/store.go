// Package store is the Target-Store Access Layer: a registry of per-tenant
// MySQL connection pools, keyed by physical database name, plus the
// handful of low-level primitives (exec, query, transaction, schema
// introspection, bulk load) every other component builds on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/logger"
)

// Config is the credential/host pair shared by every tenant database. Only
// the database name varies per tenant; host, port and credentials are
// common to the whole target-store cluster.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Manager lazily opens and caches one *sql.DB per physical database name.
// Pools are never closed except by Evict or Close: database/sql already
// pools connections internally, so this cache exists to avoid re-resolving
// DSNs and re-probing liveness on every row operation.
type Manager struct {
	cfg    Config
	logger *logger.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewManager constructs a Manager. It opens no connections itself —
// connections are opened lazily on first use of a given database name.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: log,
		pools:  make(map[string]*sql.DB),
	}
}

// Pool returns the cached *sql.DB for database, opening and probing a new
// one if this is the first request for it, and rebuilding it if the
// cached pool has gone stale (the underlying TCP connection was reset,
// the server restarted, etc).
func (m *Manager) Pool(ctx context.Context, database string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.pools[database]; ok {
		if err := db.PingContext(ctx); err == nil {
			return db, nil
		}
		m.logger.Warnf("target pool for %s failed liveness check, rebuilding: evicting", database)
		db.Close()
		delete(m.pools, database)
	}

	db, err := m.open(ctx, database)
	if err != nil {
		return nil, err
	}
	m.pools[database] = db
	return db, nil
}

func (m *Manager) open(ctx context.Context, database string) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		m.cfg.User, m.cfg.Password, m.cfg.Host, m.cfg.Port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, apperr.NewTransientStoreError(database, "open", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperr.NewTransientStoreError(database, "ping", err)
	}

	m.logger.Infof("opened target pool for database %s", database)
	return db, nil
}

// Evict closes and forgets the pool for database, if one exists. The next
// Pool call for that name opens a fresh one.
func (m *Manager) Evict(database string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if db, ok := m.pools[database]; ok {
		db.Close()
		delete(m.pools, database)
	}
}

// Close closes every cached pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for name, db := range m.pools {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.pools, name)
	}
	return firstErr
}

// Exec runs a parameterized statement against database and returns the
// rows-affected count.
func (m *Manager) Exec(ctx context.Context, database, query string, args ...interface{}) (int64, error) {
	db, err := m.Pool(ctx, database)
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apperr.NewTransientStoreError(database, "exec", err)
	}
	return result.RowsAffected()
}

// Query runs a parameterized SELECT against database and returns the rows
// as ordered maps, keyed by column name.
func (m *Manager) Query(ctx context.Context, database, query string, args ...interface{}) ([]map[string]interface{}, error) {
	db, err := m.Pool(ctx, database)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.NewTransientStoreError(database, "query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, apperr.NewTransientStoreError(database, "query", err)
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperr.NewTransientStoreError(database, "query", err)
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewTransientStoreError(database, "query", err)
	}

	return results, nil
}

// WithTx runs fn inside a transaction against database, committing on
// success and rolling back if fn returns an error or panics.
func (m *Manager) WithTx(ctx context.Context, database string, fn func(tx *sql.Tx) error) error {
	db, err := m.Pool(ctx, database)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.NewTransientStoreError(database, "begin_tx", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperr.NewTransientStoreError(database, "commit", err)
	}
	return nil
}

// TableExists reports whether table exists in database.
func (m *Manager) TableExists(ctx context.Context, database, table string) (bool, error) {
	const query = `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`

	db, err := m.Pool(ctx, database)
	if err != nil {
		return false, err
	}

	var count int
	if err := db.QueryRowContext(ctx, query, database, table).Scan(&count); err != nil {
		return false, apperr.NewTransientStoreError(database, "table_exists", err)
	}
	return count > 0, nil
}

// ColumnInfo describes one column as reported by SHOW COLUMNS.
type ColumnInfo struct {
	Name       string
	Type       string
	Nullable   bool
	Key        string
	Default    sql.NullString
	Extra      string
}

// Columns introspects table's columns in database using SHOW COLUMNS, in
// ordinal position order.
func (m *Manager) Columns(ctx context.Context, database, table string) ([]ColumnInfo, error) {
	db, err := m.Pool(ctx, database)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SHOW COLUMNS FROM %s", QuoteIdentifier(table))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.NewTransientStoreError(database, "show_columns", err)
	}
	defer rows.Close()

	var columns []ColumnInfo
	for rows.Next() {
		var (
			field, colType, null, key, extra string
			def                              sql.NullString
		)
		if err := rows.Scan(&field, &colType, &null, &key, &def, &extra); err != nil {
			return nil, apperr.NewTransientStoreError(database, "show_columns", err)
		}
		columns = append(columns, ColumnInfo{
			Name:     field,
			Type:     colType,
			Nullable: strings.EqualFold(null, "YES"),
			Key:      key,
			Default:  def,
			Extra:    extra,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.NewTransientStoreError(database, "show_columns", err)
	}

	return columns, nil
}

// QuoteIdentifier quotes a MySQL identifier using backticks, escaping any
// embedded backtick.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteIdentifiers quotes a slice of identifiers.
func QuoteIdentifiers(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdentifier(n)
	}
	return quoted
}

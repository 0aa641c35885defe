package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"github.com/SamYueHW/advancedReport-server/internal/logger"
)

var errForceRollback = errors.New("forced rollback for test")

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name", "Sales", "`Sales`"},
		{"embedded backtick", "weird`name", "`weird``name`"},
		{"empty string", "", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuoteIdentifier(tt.input); got != tt.expected {
				t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestQuoteIdentifiers(t *testing.T) {
	got := QuoteIdentifiers([]string{"StoreId", "AppId"})
	want := []string{"`StoreId`", "`AppId`"}
	if len(got) != len(want) {
		t.Fatalf("expected %d identifiers, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func setupTestManager(t *testing.T) *Manager {
	cfg := Config{Host: "localhost", Port: 3306, User: "root", Password: "password"}
	m := NewManager(cfg, logger.New("store-test", "test"))

	db, err := sql.Open("mysql", "root:password@tcp(localhost:3306)/testdb?parseTime=true")
	if err != nil {
		t.Skipf("skipping test - could not connect to MySQL: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping test - could not ping MySQL: %v", err)
	}
	db.Close()

	return m
}

func TestManagerPool_ReusesConnection(t *testing.T) {
	m := setupTestManager(t)
	defer m.Close()

	ctx := context.Background()
	db1, err := m.Pool(ctx, "testdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	db2, err := m.Pool(ctx, "testdb")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db1 != db2 {
		t.Errorf("expected Pool to return the same cached *sql.DB on repeat calls")
	}
}

func TestManagerExecAndQuery(t *testing.T) {
	m := setupTestManager(t)
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Exec(ctx, "testdb", "CREATE TABLE IF NOT EXISTS store_probe (id INT PRIMARY KEY, name VARCHAR(64))"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer m.Exec(ctx, "testdb", "DROP TABLE store_probe")

	if _, err := m.Exec(ctx, "testdb", "DELETE FROM store_probe"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Exec(ctx, "testdb", "INSERT INTO store_probe (id, name) VALUES (?, ?)", 1, "hello"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := m.Query(ctx, "testdb", "SELECT id, name FROM store_probe WHERE id = ?", 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0]["name"] != "hello" {
		t.Errorf("expected name=hello, got %v", rows[0]["name"])
	}
}

func TestManagerWithTx_RollsBackOnError(t *testing.T) {
	m := setupTestManager(t)
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Exec(ctx, "testdb", "CREATE TABLE IF NOT EXISTS store_probe (id INT PRIMARY KEY, name VARCHAR(64))"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer m.Exec(ctx, "testdb", "DROP TABLE store_probe")
	m.Exec(ctx, "testdb", "DELETE FROM store_probe")

	err := m.WithTx(ctx, "testdb", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO store_probe (id, name) VALUES (?, ?)", 2, "rolled-back"); err != nil {
			return err
		}
		return errForceRollback
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}

	rows, err := m.Query(ctx, "testdb", "SELECT id FROM store_probe WHERE id = ?", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected rollback to prevent the row from existing, found %d rows", len(rows))
	}
}

func TestManagerColumns(t *testing.T) {
	m := setupTestManager(t)
	defer m.Close()

	ctx := context.Background()
	if _, err := m.Exec(ctx, "testdb", "CREATE TABLE IF NOT EXISTS store_probe_cols (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(64) NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	defer m.Exec(ctx, "testdb", "DROP TABLE store_probe_cols")

	cols, err := m.Columns(ctx, "testdb", "store_probe_cols")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(cols))
	}
	if cols[0].Name != "id" || cols[0].Key != "PRI" {
		t.Errorf("expected id to be the primary key column, got %+v", cols[0])
	}
	if cols[1].Nullable {
		t.Errorf("expected name to be NOT NULL")
	}
}

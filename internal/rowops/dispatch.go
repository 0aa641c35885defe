// Package rowops implements the Row-Op Dispatcher: given a table, an
// operation, a decoded payload, and a business type, it builds and
// executes the correct parameterised statement against the target store,
// using the static per-table primary-key policy to know which columns
// belong in a WHERE clause.
package rowops

import (
	"context"
	"fmt"
	"strings"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/store"
)

// Operation is the kind of row change to apply.
type Operation string

const (
	Insert Operation = "INSERT"
	Update Operation = "UPDATE"
	Delete Operation = "DELETE"
)

// RowOp is one decoded, routed row-level change.
type RowOp struct {
	Database     string
	Table        string
	Operation    Operation
	Payload      map[string]interface{}
	BusinessType BusinessType
}

// Dispatcher applies RowOps to the target store.
type Dispatcher struct {
	store *store.Manager
}

// NewDispatcher constructs a Dispatcher backed by mgr.
func NewDispatcher(mgr *store.Manager) *Dispatcher {
	return &Dispatcher{store: mgr}
}

// Apply builds and executes the statement for op, returning the number of
// rows affected.
func (d *Dispatcher) Apply(ctx context.Context, op RowOp) (int64, error) {
	switch op.Operation {
	case Insert:
		return d.applyInsert(ctx, op)
	case Update:
		return d.applyUpdate(ctx, op)
	case Delete:
		return d.applyDelete(ctx, op)
	default:
		return 0, apperr.NewValidationError("operation", fmt.Sprintf("unsupported row operation: %s", op.Operation))
	}
}

// applyInsert builds INSERT INTO table(cols) VALUES(...) ON DUPLICATE KEY
// UPDATE col=VALUES(col), using every key in the payload in payload order.
// This makes replay of the same INSERT idempotent.
func (d *Dispatcher) applyInsert(ctx context.Context, op RowOp) (int64, error) {
	columns, values := payloadColumns(op.Payload, nil)
	if len(columns) == 0 {
		return 0, apperr.NewValidationError("payload", "no data columns to insert")
	}

	placeholders := make([]string, len(columns))
	updateSet := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = "?"
		updateSet[i] = fmt.Sprintf("%s = VALUES(%s)", store.QuoteIdentifier(col), store.QuoteIdentifier(col))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		store.QuoteIdentifier(op.Table),
		strings.Join(store.QuoteIdentifiers(columns), ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updateSet, ", "),
	)

	return d.store.Exec(ctx, op.Database, query, values...)
}

// applyUpdate builds UPDATE table SET ... WHERE ..., with the SET list
// drawn from every payload key not prefixed "old_", and the WHERE values
// taken from "old_<PKcol>" when present, else "<PKcol>".
func (d *Dispatcher) applyUpdate(ctx context.Context, op RowOp) (int64, error) {
	setColumns, setValues := payloadColumns(op.Payload, func(col string) bool {
		return strings.HasPrefix(col, "old_")
	})
	if len(setColumns) == 0 {
		return 0, apperr.NewValidationError("payload", "no data columns to update")
	}

	pkColumns := PrimaryKeyFor(op.Table, op.BusinessType)
	whereClauses, whereValues, err := buildWhere(op.Payload, pkColumns, true)
	if err != nil {
		return 0, err
	}

	setClauses := make([]string, len(setColumns))
	for i, col := range setColumns {
		setClauses[i] = fmt.Sprintf("%s = ?", store.QuoteIdentifier(col))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s",
		store.QuoteIdentifier(op.Table),
		strings.Join(setClauses, ", "),
		strings.Join(whereClauses, " AND "),
	)

	args := append(setValues, whereValues...)
	return d.store.Exec(ctx, op.Database, query, args...)
}

// applyDelete builds DELETE FROM table WHERE ..., with WHERE values taken
// directly from the payload (no pre-image lookup).
func (d *Dispatcher) applyDelete(ctx context.Context, op RowOp) (int64, error) {
	pkColumns := PrimaryKeyFor(op.Table, op.BusinessType)
	whereClauses, whereValues, err := buildWhere(op.Payload, pkColumns, false)
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s",
		store.QuoteIdentifier(op.Table),
		strings.Join(whereClauses, " AND "),
	)

	return d.store.Exec(ctx, op.Database, query, whereValues...)
}

// buildWhere resolves each required primary-key column from the payload.
// When preferPreImage is true (UPDATE) it looks for the pre-image key
// "old_<col>" first and falls back to the current value "<col>"; when
// false (DELETE) it reads "<col>" directly and never consults "old_<col>".
// A column that can't be resolved is a non-retryable validation error.
func buildWhere(payload map[string]interface{}, pkColumns []string, preferPreImage bool) ([]string, []interface{}, error) {
	if len(pkColumns) == 0 {
		return nil, nil, apperr.NewValidationError("primaryKey", "no primary key columns configured")
	}

	clauses := make([]string, 0, len(pkColumns))
	values := make([]interface{}, 0, len(pkColumns))

	for _, col := range pkColumns {
		var val interface{}
		var ok bool
		if preferPreImage {
			val, ok = payload["old_"+col]
			if !ok {
				val, ok = payload[col]
			}
		} else {
			val, ok = payload[col]
		}
		if !ok {
			return nil, nil, apperr.NewValidationError(col, "required primary key column missing from payload")
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", store.QuoteIdentifier(col)))
		values = append(values, val)
	}

	return clauses, values, nil
}

// payloadColumns collects payload's keys (and matching values) into
// deterministic slices, skipping any key for which skip returns true.
// Go's map iteration order is randomised, so this intentionally does not
// promise the same column order across calls with the same payload — the
// INSERT/UPDATE statements it feeds are order-independent by construction.
func payloadColumns(payload map[string]interface{}, skip func(string) bool) ([]string, []interface{}) {
	columns := make([]string, 0, len(payload))
	values := make([]interface{}, 0, len(payload))
	for col, val := range payload {
		if skip != nil && skip(col) {
			continue
		}
		columns = append(columns, col)
		values = append(values, val)
	}
	return columns, values
}

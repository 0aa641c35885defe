// Package schema implements the Schema Materialiser: it turns a client-
// supplied column/index descriptor into a CREATE TABLE statement and a set
// of supporting index statements, then layers on a business-type secondary-
// index bundle keyed by table name. Grounded on the teacher's
// CreateTableFromUnified/AddTableConstraintsFromUnified column-rendering
// loop, simplified from its cross-dialect UnifiedModel input down to the
// flat descriptor this server's wire protocol actually carries.
package schema

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/rowops"
	"github.com/SamYueHW/advancedReport-server/internal/store"
)

// ColumnDescriptor is one column in a client-supplied table schema, using
// the same field names the wire protocol sends (an information_schema-like
// shape rather than a target-dialect one).
type ColumnDescriptor struct {
	ColumnName            string
	DataType              string
	CharacterMaximumLen   *int64
	NumericPrecision      *int64
	NumericScale          *int64
	IsNullable            bool
	ColumnDefault         *string
	IsIdentity            bool
	ColumnKey             string // "PRI" marks primary key membership
}

// IndexDescriptor is one supplied secondary index.
type IndexDescriptor struct {
	Name      string
	Columns   []string
	Unique    bool
	Direction string // "ASC" or "DESC"; applied per-column when set
}

// TableSchema is the full descriptor for one table creation request.
type TableSchema struct {
	Columns     []ColumnDescriptor
	PrimaryKeys []string
	Indexes     []IndexDescriptor
}

var sentinelDateRE = regexp.MustCompile(`^(1899-12-30|1900-01-01T00:00:00(\.000)?Z?|0000-00-00)`)
var numericLiteralRE = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// CreateTable materialises schema as table in database, then — iff
// businessType is non-empty — applies that business type's secondary-index
// bundle for tableName. Index-bundle statement failures are logged and
// skipped rather than failing the whole call, per the bundle's own
// best-effort contract.
func CreateTable(ctx context.Context, mgr *store.Manager, database, tableName string, schema TableSchema, businessType rowops.BusinessType) error {
	if tableName == "" {
		return apperr.NewValidationError("tableName", "table name is empty")
	}
	if len(schema.Columns) == 0 {
		return apperr.NewValidationError("columns", "schema has no columns")
	}

	stmt, err := renderCreateTable(tableName, schema)
	if err != nil {
		return err
	}

	if _, err := mgr.Exec(ctx, database, stmt); err != nil {
		return err
	}

	for _, idx := range schema.Indexes {
		stmt := renderIndex(tableName, idx)
		if _, err := mgr.Exec(ctx, database, stmt); err != nil {
			return err
		}
	}

	if businessType == "" {
		return nil
	}

	bundle := indexBundleFor(tableName, businessType)
	for _, stmt := range bundle {
		// Best-effort: a bundle statement that fails (e.g. fulltext index
		// unsupported on the storage engine) is skipped, not fatal.
		mgr.Exec(ctx, database, stmt)
	}

	return nil
}

// renderCreateTable builds the CREATE TABLE statement for schema.
func renderCreateTable(tableName string, schema TableSchema) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", store.QuoteIdentifier(tableName))

	columnClauses := make([]string, 0, len(schema.Columns))
	pkFromColumns := make([]string, 0)

	for _, col := range schema.Columns {
		clause, err := renderColumn(col)
		if err != nil {
			return "", err
		}
		columnClauses = append(columnClauses, clause)
		if col.ColumnKey == "PRI" {
			pkFromColumns = append(pkFromColumns, col.ColumnName)
		}
	}

	b.WriteString(strings.Join(columnClauses, ", "))

	pk := schema.PrimaryKeys
	if len(pk) == 0 {
		pk = pkFromColumns
	}
	if len(pk) > 0 {
		fmt.Fprintf(&b, ", PRIMARY KEY (%s)", strings.Join(store.QuoteIdentifiers(pk), ", "))
	}

	b.WriteString(")")
	return b.String(), nil
}

// renderColumn renders one column definition following the nullability,
// default-translation, and identity rules.
func renderColumn(col ColumnDescriptor) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", store.QuoteIdentifier(col.ColumnName), mapDataType(col))

	hasDefault := col.ColumnDefault != nil
	emitNotNull := !col.IsNullable && (hasDefault || col.IsIdentity || col.ColumnKey == "PRI")
	if emitNotNull {
		b.WriteString(" NOT NULL")
	} else {
		b.WriteString(" NULL DEFAULT NULL")
	}

	if hasDefault {
		translated, drop := translateDefault(*col.ColumnDefault, col.DataType)
		if !drop {
			fmt.Fprintf(&b, " DEFAULT %s", translated)
		}
	}

	if col.IsIdentity {
		b.WriteString(" AUTO_INCREMENT")
	}

	return b.String(), nil
}

// mapDataType maps a source data type (plus length/precision/scale) to the
// MySQL target type, following the Schema Materialiser's mapping table.
func mapDataType(col ColumnDescriptor) string {
	src := strings.ToUpper(strings.TrimSpace(col.DataType))

	switch src {
	case "INT", "INTEGER":
		return "INT"
	case "BIGINT":
		return "BIGINT"
	case "SMALLINT":
		return "SMALLINT"
	case "TINYINT":
		return "TINYINT"
	case "DECIMAL", "NUMERIC":
		p := int64(18)
		s := int64(0)
		if col.NumericPrecision != nil {
			p = *col.NumericPrecision
		}
		if col.NumericScale != nil {
			s = *col.NumericScale
		}
		return fmt.Sprintf("DECIMAL(%d,%d)", p, s)
	case "FLOAT":
		return "FLOAT"
	case "REAL":
		return "DOUBLE"
	case "VARCHAR", "NVARCHAR":
		length := int64(255)
		if col.CharacterMaximumLen != nil && *col.CharacterMaximumLen > 0 {
			length = *col.CharacterMaximumLen
		}
		return fmt.Sprintf("VARCHAR(%d)", length)
	case "CHAR", "NCHAR":
		length := int64(1)
		if col.CharacterMaximumLen != nil && *col.CharacterMaximumLen > 0 {
			length = *col.CharacterMaximumLen
		}
		return fmt.Sprintf("CHAR(%d)", length)
	case "TEXT", "NTEXT":
		return "TEXT"
	case "DATETIME", "DATETIME2":
		return "DATETIME"
	case "DATE":
		return "DATE"
	case "TIME":
		return "TIME"
	case "TIMESTAMP":
		return "TIMESTAMP"
	case "BIT":
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// translateDefault translates a source default-value expression into its
// MySQL equivalent. The second return value reports whether the default
// should be dropped entirely (e.g. newid(), or a complex object literal).
func translateDefault(raw, dataType string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)

	switch lower {
	case "getdate()", "getdate":
		return "CURRENT_TIMESTAMP", false
	case "newid()", "newid":
		return "", true
	}

	if strings.EqualFold(strings.ToUpper(dataType), "BIT") {
		switch trimmed {
		case "1", "'1'":
			return "'1'", false
		case "0", "'0'":
			return "'0'", false
		}
	}

	if numericLiteralRE.MatchString(trimmed) {
		return trimmed, false
	}

	if strings.HasPrefix(trimmed, "'") && strings.HasSuffix(trimmed, "'") && len(trimmed) >= 2 {
		inner := trimmed[1 : len(trimmed)-1]
		return "'" + strings.ReplaceAll(inner, "'", "''") + "'", false
	}

	// Anything else unquoted that isn't a recognised keyword or numeric
	// literal is treated as a complex/object default and dropped.
	if strings.ContainsAny(trimmed, "{}[]") {
		return "", true
	}

	return "'" + strings.ReplaceAll(trimmed, "'", "''") + "'", false
}

// renderIndex renders one supplied CREATE INDEX statement.
func renderIndex(tableName string, idx IndexDescriptor) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}

	columns := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		quoted := store.QuoteIdentifier(c)
		if strings.EqualFold(idx.Direction, "DESC") {
			quoted += " DESC"
		}
		columns[i] = quoted
	}

	return fmt.Sprintf("CREATE %s %s ON %s (%s)",
		kind, store.QuoteIdentifier(idx.Name), store.QuoteIdentifier(tableName), strings.Join(columns, ", "))
}

// isSentinelDate reports whether raw looks like one of the well-known
// "no real date" sentinel values that should be translated to NULL rather
// than a literal date. Exported for use by the CSV import coercion logic,
// which meets the same sentinel values in raw cell data.
func isSentinelDate(raw string) bool {
	return sentinelDateRE.MatchString(strings.TrimSpace(raw))
}

// IsSentinelDate is the exported form of isSentinelDate.
func IsSentinelDate(raw string) bool {
	return isSentinelDate(raw)
}

// ParseDefaultInt is a small helper used by callers constructing
// ColumnDescriptor values from untyped wire data.
func ParseDefaultInt(s string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

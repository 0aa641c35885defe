package csv

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
	"github.com/SamYueHW/advancedReport-server/internal/store"
)

// protectedColumns skip the boolean/numeric coercion branches so that
// leading zeros in identifier strings survive the import.
var protectedColumns = map[string]bool{
	"StockId":  true,
	"ItemCode": true,
}

// ImportResult summarises one importCSV run.
type ImportResult struct {
	AffectedRows int64
	SkippedRows  int64
}

// ImportCSV runs the bootstrap import algorithm: introspect the target
// table, read the CSV header, build the coercion-laden LOAD DATA
// statement, attempt the bulk-load ladder, account for duplicate-key
// warnings, then remove the source file.
func ImportCSV(ctx context.Context, mgr *store.Manager, database, table, filePath string) (ImportResult, error) {
	actualTable, err := resolveTableName(ctx, mgr, database, table)
	if err != nil {
		return ImportResult{}, err
	}

	columns, err := mgr.Columns(ctx, database, actualTable)
	if err != nil {
		return ImportResult{}, err
	}
	if len(columns) == 0 {
		return ImportResult{}, apperr.NewReassemblyError(filePath, fmt.Sprintf("target table %q has no columns", actualTable))
	}

	header, lineEnding, err := readCSVHeader(filePath)
	if err != nil {
		return ImportResult{}, err
	}

	loadStmt, err := buildLoadStatement(actualTable, filePath, header, columns, lineEnding)
	if err != nil {
		return ImportResult{}, err
	}

	affected, err := attemptBulkLoad(ctx, mgr, database, loadStmt, filePath)
	if err != nil {
		return ImportResult{}, err
	}

	warnings, err := fetchWarnings(ctx, mgr, database)
	if err != nil {
		return ImportResult{}, err
	}

	result := ImportResult{AffectedRows: affected}
	for _, w := range warnings {
		if strings.Contains(strings.ToLower(w), "duplicate") {
			result.SkippedRows++
		}
	}

	if err := Cleanup(filePath); err != nil {
		return result, err
	}

	return result, nil
}

// resolveTableName finds the target table's actual (case-correct) name.
func resolveTableName(ctx context.Context, mgr *store.Manager, database, table string) (string, error) {
	exists, err := mgr.TableExists(ctx, database, table)
	if err != nil {
		return "", err
	}
	if exists {
		return table, nil
	}

	rows, err := mgr.Query(ctx, database,
		"SELECT TABLE_NAME FROM information_schema.tables WHERE TABLE_SCHEMA = ? AND LOWER(TABLE_NAME) = LOWER(?)",
		database, table)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperr.NewReassemblyError(table, "target table not found")
	}
	name, _ := rows[0]["TABLE_NAME"].(string)
	if name == "" {
		return "", apperr.NewReassemblyError(table, "target table not found")
	}
	return name, nil
}

// readCSVHeader reads the CSV file's first line, strips quotes/whitespace
// from each field, and detects the file's line-ending style.
func readCSVHeader(filePath string) ([]string, string, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", apperr.NewReassemblyError(filePath, "reading file: "+err.Error())
	}

	lineEnding := "\n"
	if strings.Contains(string(raw), "\r\n") {
		lineEnding = "\r\n"
	}

	reader := bufio.NewReader(strings.NewReader(string(raw)))
	headerLine, err := reader.ReadString('\n')
	if err != nil && headerLine == "" {
		return nil, "", apperr.NewReassemblyError(filePath, "reading header line: "+err.Error())
	}
	headerLine = strings.TrimRight(headerLine, "\r\n")

	fields := strings.Split(headerLine, ",")
	for i, f := range fields {
		fields[i] = strings.Trim(strings.TrimSpace(f), `"`)
	}
	return fields, lineEnding, nil
}

// buildLoadStatement builds the full LOAD DATA statement: column bindings
// to user variables, a SET clause per table column (paired positionally
// with the CSV header), and terminator clauses matching the detected line
// ending.
func buildLoadStatement(table, filePath string, header []string, columns []store.ColumnInfo, lineEnding string) (string, error) {
	if len(header) == 0 {
		return "", apperr.NewReassemblyError(filePath, "CSV file has no header row")
	}

	userVars := make([]string, len(header))
	for i, h := range header {
		userVars[i] = "@" + sanitizeVarName(h)
	}

	setClauses := make([]string, 0, len(columns))
	n := len(header)
	if len(columns) < n {
		n = len(columns)
	}
	for i := 0; i < n; i++ {
		col := columns[i]
		expr := coercionExpr(userVars[i], col)
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", store.QuoteIdentifier(col.Name), expr))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "LOAD DATA LOCAL INFILE '%s' INTO TABLE %s ", escapeLiteral(filePath), store.QuoteIdentifier(table))
	fmt.Fprintf(&b, "FIELDS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '\"' ")
	fmt.Fprintf(&b, "LINES TERMINATED BY '%s' ", escapeLiteral(lineEnding))
	fmt.Fprintf(&b, "IGNORE 1 ROWS (%s) ", strings.Join(userVars, ", "))
	fmt.Fprintf(&b, "SET %s", strings.Join(setClauses, ", "))

	return b.String(), nil
}

// coercionExpr builds the value-driven CASE expression that coerces one
// bound user variable into the shape its target column expects.
func coercionExpr(userVar string, col store.ColumnInfo) string {
	if protectedColumns[col.Name] {
		return fmt.Sprintf(
			"CASE WHEN %s IS NULL OR %s = '' THEN NULL "+
				"WHEN %s REGEXP '^[0-9]{4}-[0-9]{2}-[0-9]{2}(T[0-9]{2}:[0-9]{2}:[0-9]{2})?$' AND %s IN ('1899-12-30','1900-01-01T00:00:00.000Z','0000-00-00') THEN NULL "+
				"ELSE TRIM(%s) END",
			userVar, userVar, userVar, userVar, userVar,
		)
	}

	return fmt.Sprintf(
		"CASE WHEN %s IS NULL OR %s = '' THEN NULL "+
			"WHEN %s IN ('1899-12-30','1900-01-01T00:00:00.000Z','0000-00-00') THEN NULL "+
			"WHEN %s REGEXP '^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}' THEN STR_TO_DATE(SUBSTRING(%s,1,19), '%%Y-%%m-%%dT%%H:%%i:%%s') "+
			"WHEN %s REGEXP '^[0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2}' THEN STR_TO_DATE(SUBSTRING(%s,1,19), '%%Y-%%m-%%d %%H:%%i:%%s') "+
			"WHEN %s REGEXP '^[0-9]{4}-[0-9]{2}-[0-9]{2}$' THEN STR_TO_DATE(%s, '%%Y-%%m-%%d') "+
			"WHEN %s REGEXP '(?i)^(true|false|yes|no|y|n|on|off)$' THEN IF(LOWER(%s) IN ('true','yes','y','on'), 1, 0) "+
			"WHEN %s REGEXP '^-?[0-9]+$' THEN CAST(%s AS SIGNED) "+
			"WHEN %s REGEXP '^-?[0-9]+\\\\.[0-9]+$' THEN CAST(%s AS DECIMAL(18,4)) "+
			"ELSE TRIM(%s) END",
		userVar, userVar,
		userVar,
		userVar, userVar,
		userVar, userVar,
		userVar, userVar,
		userVar, userVar,
		userVar, userVar,
		userVar, userVar,
		userVar,
	)
}

func sanitizeVarName(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if name == "" {
		return "col"
	}
	return name
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// attemptBulkLoad executes the ladder described for the bulk-load step:
// LOCAL INFILE first, falling back to a secure-file-dir copy plus plain
// INFILE when the server doesn't advertise local-infile, else failing with
// a diagnostic naming both attempts.
func attemptBulkLoad(ctx context.Context, mgr *store.Manager, database, loadStmt, filePath string) (int64, error) {
	localEnabled, err := localInfileEnabled(ctx, mgr, database)
	if err != nil {
		return 0, err
	}

	if localEnabled {
		affected, err := mgr.Exec(ctx, database, loadStmt)
		if err == nil {
			return affected, nil
		}
		affected2, secureErr := loadViaSecureFileDir(ctx, mgr, database, loadStmt, filePath)
		if secureErr == nil {
			return affected2, nil
		}
		return 0, apperr.NewReassemblyError(database, fmt.Sprintf("LOCAL INFILE failed (%v); secure-file-dir attempt failed (%v)", err, secureErr))
	}

	affected, err := loadViaSecureFileDir(ctx, mgr, database, loadStmt, filePath)
	if err == nil {
		return affected, nil
	}
	return 0, apperr.NewReassemblyError(database, fmt.Sprintf("neither LOCAL INFILE nor a secure-file-dir based LOAD DATA INFILE is available: %v", err))
}

// localInfileEnabled checks the server's local_infile system variable.
func localInfileEnabled(ctx context.Context, mgr *store.Manager, database string) (bool, error) {
	rows, err := mgr.Query(ctx, database, "SHOW VARIABLES LIKE 'local_infile'")
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	val, _ := rows[0]["Value"].(string)
	return strings.EqualFold(val, "ON"), nil
}

// loadViaSecureFileDir copies filePath into the server's secure_file_priv
// directory, rewrites loadStmt to point LOAD DATA INFILE at the copy
// instead of the original upload path, runs it, and removes the copy
// whether or not the load succeeded — the server process can only read
// files inside that directory, so the copy is mandatory, not cosmetic.
func loadViaSecureFileDir(ctx context.Context, mgr *store.Manager, database, loadStmt, filePath string) (int64, error) {
	secureDir, err := secureFileDir(ctx, mgr, database)
	if err != nil {
		return 0, err
	}

	copyPath := filepath.Join(secureDir, uuid.NewString()+"_"+filepath.Base(filePath))
	if err := copyFile(filePath, copyPath); err != nil {
		return 0, apperr.NewReassemblyError(database, "copying file into secure-file-dir: "+err.Error())
	}
	defer os.Remove(copyPath)

	stmt := toSecureFileVariant(loadStmt, filePath, copyPath)
	return mgr.Exec(ctx, database, stmt)
}

// secureFileDir returns the server's configured secure_file_priv
// directory, erroring if the server hasn't configured one.
func secureFileDir(ctx context.Context, mgr *store.Manager, database string) (string, error) {
	rows, err := mgr.Query(ctx, database, "SHOW VARIABLES LIKE 'secure_file_priv'")
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", apperr.NewReassemblyError(database, "secure_file_priv is not configured")
	}
	val, _ := rows[0]["Value"].(string)
	if val == "" {
		return "", apperr.NewReassemblyError(database, "secure_file_priv is empty (no secure directory configured)")
	}
	return val, nil
}

// copyFile copies src to dst, creating dst if it doesn't exist.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// toSecureFileVariant rewrites a LOCAL INFILE statement into its
// non-local, IGNORE-qualified form for the secure-file-dir fallback path,
// and repoints the infile clause at copyPath instead of the original
// upload path.
func toSecureFileVariant(loadStmt, origPath, copyPath string) string {
	rewritten := strings.Replace(loadStmt, "LOAD DATA LOCAL INFILE", "LOAD DATA INFILE", 1)
	rewritten = strings.Replace(rewritten, "INTO TABLE", "IGNORE INTO TABLE", 1)
	return strings.Replace(rewritten, "'"+escapeLiteral(origPath)+"'", "'"+escapeLiteral(copyPath)+"'", 1)
}

// fetchWarnings retrieves SHOW WARNINGS output from the session that just
// ran the bulk load, so duplicate-key conditions can be counted.
func fetchWarnings(ctx context.Context, mgr *store.Manager, database string) ([]string, error) {
	rows, err := mgr.Query(ctx, database, "SHOW WARNINGS")
	if err != nil {
		return nil, err
	}
	messages := make([]string, 0, len(rows))
	for _, r := range rows {
		if msg, ok := r["Message"].(string); ok {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

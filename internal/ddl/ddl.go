// Package ddl translates source-dialect DDL commands (T-SQL, as emitted by
// the point-of-sale terminals) into the MySQL dialect the central store
// speaks. Translate is a pure function: equal inputs always yield equal
// outputs, and it never touches a connection.
package ddl

import (
	"regexp"
	"strings"

	"github.com/SamYueHW/advancedReport-server/internal/apperr"
)

// Operation is the DDL command kind.
type Operation string

const (
	AlterTable Operation = "DDL_ALTER_TABLE"
	DropTable  Operation = "DDL_DROP_TABLE"
)

// Type keywords are sometimes bracket-quoted on their own (e.g.
// "[NVARCHAR](50)") even though the length that follows never is, so every
// keyword in this table tolerates an optional surrounding "[...]".
var dataTypeMap = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`(?i)\[?\bNVARCHAR\b\]?\s*\(\s*MAX\s*\)`), "TEXT"},
	{regexp.MustCompile(`(?i)\[?\bNVARCHAR\b\]?\s*\(\s*(\d+)\s*\)`), "VARCHAR($1)"},
	{regexp.MustCompile(`(?i)\[?\bNTEXT\b\]?`), "TEXT"},
	{regexp.MustCompile(`(?i)\[?\bBIT\b\]?`), "BOOLEAN"},
	{regexp.MustCompile(`(?i)\[?\bDATETIME2\b\]?`), "DATETIME"},
	{regexp.MustCompile(`(?i)\[?\bUNIQUEIDENTIFIER\b\]?`), "VARCHAR(36)"},
	{regexp.MustCompile(`(?i)\[?\bINT\b\]?\s+IDENTITY\s*\(\s*1\s*,\s*1\s*\)`), "INT AUTO_INCREMENT"},
	{regexp.MustCompile(`(?i)\[?\bBIGINT\b\]?\s+IDENTITY\s*\(\s*1\s*,\s*1\s*\)`), "BIGINT AUTO_INCREMENT"},
	{regexp.MustCompile(`(?i)\bGETDATE\s*\(\s*\)`), "NOW()"},
	{regexp.MustCompile(`(?i)\bNEWID\s*\(\s*\)`), "UUID()"},
}

var schemaPrefix = regexp.MustCompile(`(?i)\[dbo\]\.`)
var bracketIdentifier = regexp.MustCompile(`\[([^\]]+)\]`)

// commonRewrites applies the rewrites that every command shape gets,
// regardless of operation: schema-prefix stripping, the data-type map, and
// bracket-to-backtick identifier quoting.
func commonRewrites(command string) string {
	out := schemaPrefix.ReplaceAllString(command, "")
	for _, m := range dataTypeMap {
		out = m.pattern.ReplaceAllString(out, m.replace)
	}
	out = bracketIdentifier.ReplaceAllString(out, "`$1`")
	return out
}

var lockEscalation = regexp.MustCompile(`(?i)\bSET\s*\(\s*LOCK_ESCALATION\b`)

// addColumnPatterns are tried in order; the first match wins. Each captures
// the column name, optional length, and optional NULL/NOT NULL tail.
// The type token tolerates optional surrounding backticks: a type keyword
// left unmapped by dataTypeMap (plain INT, VARCHAR, etc) still gets caught
// by the generic bracket-to-backtick identifier rewrite, so by the time
// this pattern runs it may look exactly like a quoted identifier.
const typeToken = "`?([A-Za-z0-9]+(?:\\s+AUTO_INCREMENT)?)`?"

var addColumnPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bADD\s+` + "`" + `([^` + "`" + `]+)` + "`" + `\s+` + typeToken + `\s*\((\d+)\)\s*(NULL|NOT NULL)\b`),
	regexp.MustCompile(`(?i)\bADD\s+` + "`" + `([^` + "`" + `]+)` + "`" + `\s+` + typeToken + `\s*\((\d+)\)`),
	regexp.MustCompile(`(?i)\bADD\s+` + "`" + `([^` + "`" + `]+)` + "`" + `\s+` + typeToken + `\s*(NULL|NOT NULL)\b`),
	regexp.MustCompile(`(?i)\bADD\s+` + "`" + `([^` + "`" + `]+)` + "`" + `\s+` + typeToken + `\b`),
}

var dropColumn = regexp.MustCompile(`(?i)\bDROP\s+(?:COLUMN\s+)?` + "`" + `([^` + "`" + `]+)` + "`")
var alterColumn = regexp.MustCompile(`(?i)\bALTER\s+COLUMN\b`)

// Translate converts a source-dialect command into a target-dialect
// command. A nil return with a nil error means the command was a
// deliberate, silent skip (LOCK_ESCALATION); a nil return with a non-nil
// error means translation failed.
func Translate(tableName string, op Operation, command string) (string, error) {
	rewritten := commonRewrites(command)

	switch op {
	case DropTable:
		return rewritten, nil
	case AlterTable:
		return translateAlterTable(command, rewritten)
	default:
		return rewritten, nil
	}
}

func translateAlterTable(original, rewritten string) (string, error) {
	if lockEscalation.MatchString(original) {
		return "", nil
	}

	if loc := addColumnPatterns[0].FindStringSubmatchIndex(rewritten); loc != nil {
		return rewriteAddColumn(rewritten, addColumnPatterns[0], true, true), nil
	}
	if loc := addColumnPatterns[1].FindStringSubmatchIndex(rewritten); loc != nil {
		return rewriteAddColumn(rewritten, addColumnPatterns[1], true, false), nil
	}
	if loc := addColumnPatterns[2].FindStringSubmatchIndex(rewritten); loc != nil {
		return rewriteAddColumn(rewritten, addColumnPatterns[2], false, true), nil
	}
	if loc := addColumnPatterns[3].FindStringSubmatchIndex(rewritten); loc != nil {
		return rewriteAddColumn(rewritten, addColumnPatterns[3], false, false), nil
	}

	if dropColumn.MatchString(rewritten) {
		return dropColumn.ReplaceAllString(rewritten, "DROP COLUMN `$1`"), nil
	}

	if alterColumn.MatchString(rewritten) {
		return alterColumn.ReplaceAllString(rewritten, "MODIFY COLUMN"), nil
	}

	// Unknown ALTER TABLE shape: pass through with identifier rewriting
	// already applied, per the "unknown command shapes pass through" rule.
	return rewritten, nil
}

const charsetClause = "CHARACTER SET utf8mb4 COLLATE utf8mb4_0900_ai_ci"

func rewriteAddColumn(command string, pattern *regexp.Regexp, hasLength, hasNull bool) string {
	return pattern.ReplaceAllStringFunc(command, func(match string) string {
		groups := pattern.FindStringSubmatch(match)
		col := groups[1]
		typ := groups[2]

		var b strings.Builder
		b.WriteString("ADD COLUMN `")
		b.WriteString(col)
		b.WriteString("` ")
		b.WriteString(typ)
		if hasLength {
			b.WriteString("(")
			b.WriteString(groups[3])
			b.WriteString(")")
		}
		b.WriteString(" ")
		b.WriteString(charsetClause)
		if hasNull {
			b.WriteString(" ")
			b.WriteString(strings.ToUpper(groups[len(groups)-1]))
		}
		return b.String()
	})
}

// ValidateOperation rejects an operation this translator does not know,
// surfacing it as a typed, per-operation error rather than a panic deep in
// the regex machinery.
func ValidateOperation(op Operation) error {
	switch op {
	case AlterTable, DropTable:
		return nil
	default:
		return apperr.NewValidationError("operation", "unsupported DDL operation: "+string(op))
	}
}

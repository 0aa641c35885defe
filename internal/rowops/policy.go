package rowops

// BusinessType is the point-of-sale vertical governing which primary-key
// policy and secondary-index bundle applies.
type BusinessType string

const (
	Retail      BusinessType = "retail"
	Hospitality BusinessType = "hospitality"
)

// policyEntry names the primary-key columns for one table under one
// business type. A nil Columns means the table has no row under that
// business type; PrimaryKeyFor falls through to the fallback policy.
type policyEntry struct {
	Columns []string
}

// policyTable is the per-table primary-key policy, embedded as data so new
// tables need only a new entry, not a new code path. Column lists are
// ordered: that order is preserved in the WHERE clause built from them.
var policyTable = map[string]map[BusinessType]policyEntry{
	"Sales": {
		Retail:      {Columns: []string{"InvoiceNo"}},
		Hospitality: {Columns: []string{"OrderNo"}},
	},
	"SalesDetail": {
		Retail:      {Columns: []string{"InvoiceNo", "StockId"}},
		Hospitality: {Columns: []string{"OrderNo", "ItemCode"}},
	},
	"StockItems": {
		Retail: {Columns: []string{"StockId"}},
	},
	"MenuItem": {
		Hospitality: {Columns: []string{"ItemCode"}},
	},
	"SubMenuLinkDetail": {
		Hospitality: {Columns: []string{"ItemCode"}},
	},
	"PaymentReceived": {
		Retail:      {Columns: []string{"InvoiceNo", "Id"}},
		Hospitality: {Columns: []string{"OrderNo", "Id"}},
	},
	"Payment": {
		Retail:      {Columns: []string{"Payment"}},
		Hospitality: {Columns: []string{"Payment"}},
	},
}

// fallbackColumns is the policy applied to any table absent from
// policyTable, or present but without an entry for the given business type.
var fallbackColumns = []string{"id"}

// PrimaryKeyFor returns the ordered primary-key columns for table under
// businessType, falling back to the "id" policy for unlisted tables or
// business types without a specific entry.
func PrimaryKeyFor(table string, businessType BusinessType) []string {
	if byType, ok := policyTable[table]; ok {
		if entry, ok := byType[businessType]; ok {
			return entry.Columns
		}
	}
	return fallbackColumns
}

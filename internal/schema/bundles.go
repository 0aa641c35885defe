package schema

import (
	"fmt"
	"strings"

	"github.com/SamYueHW/advancedReport-server/internal/rowops"
	"github.com/SamYueHW/advancedReport-server/internal/store"
)

// indexBundleFor returns the business-type secondary-index bundle for
// tableName, as a list of independently-executed statements. An unknown
// (tableName, businessType) pair returns an empty bundle — the same
// fallback behaviour as rowops.PrimaryKeyFor for tables the policy table
// doesn't name.
func indexBundleFor(tableName string, businessType rowops.BusinessType) []string {
	byTable, ok := indexBundles[businessType]
	if !ok {
		return nil
	}
	return byTable[tableName]
}

var indexBundles = map[rowops.BusinessType]map[string][]string{
	rowops.Hospitality: {
		"MenuItem": {
			createIndex("idx_category", "MenuItem", []string{"Category"}, false),
			fmt.Sprintf("CREATE FULLTEXT INDEX %s ON %s (%s, %s) WITH PARSER ngram",
				store.QuoteIdentifier("idx_menuitem_description_ft"),
				store.QuoteIdentifier("MenuItem"),
				store.QuoteIdentifier("Description1"),
				store.QuoteIdentifier("Description2"),
			),
		},
		"Sales": {
			createIndex("idx_orderdate", "Sales", []string{"OrderDate"}, false),
			createIndex("idx_orderdate_orderno", "Sales", []string{"OrderDate", "OrderNo"}, false),
		},
	},
	rowops.Retail: {
		"StockItems": {
			createIndex("idx_category", "StockItems", []string{"Category"}, false),
			createIndex("idx_category_stockid", "StockItems", []string{"Category", "StockId"}, false),
			fmt.Sprintf("CREATE FULLTEXT INDEX %s ON %s (%s, %s, %s, %s) WITH PARSER ngram",
				store.QuoteIdentifier("idx_stockitems_description_ft"),
				store.QuoteIdentifier("StockItems"),
				store.QuoteIdentifier("Description"),
				store.QuoteIdentifier("Description1"),
				store.QuoteIdentifier("Description2"),
				store.QuoteIdentifier("Description3"),
			),
		},
		"Sales": {
			createIndex("idx_transactiondate", "Sales", []string{"TransactionDate"}, false),
			createIndex("idx_transactiondate_invoiceno", "Sales", []string{"TransactionDate", "InvoiceNo"}, false),
		},
		"SalesDetail": {
			createIndex("idx_invoiceno_stockid", "SalesDetail", []string{"InvoiceNo", "StockId"}, false),
			createIndex("idx_stockid", "SalesDetail", []string{"StockId"}, false),
			createIndex("idx_invoiceno", "SalesDetail", []string{"InvoiceNo"}, false),
		},
	},
}

func createIndex(name, table string, columns []string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)",
		kind, store.QuoteIdentifier(name), store.QuoteIdentifier(table), strings.Join(store.QuoteIdentifiers(columns), ", "))
}

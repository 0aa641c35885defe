package rowops

import "testing"

func TestPrimaryKeyFor(t *testing.T) {
	tests := []struct {
		name         string
		table        string
		businessType BusinessType
		want         []string
	}{
		{"retail sales", "Sales", Retail, []string{"InvoiceNo"}},
		{"hospitality sales", "Sales", Hospitality, []string{"OrderNo"}},
		{"retail sales detail composite", "SalesDetail", Retail, []string{"InvoiceNo", "StockId"}},
		{"hospitality sales detail composite", "SalesDetail", Hospitality, []string{"OrderNo", "ItemCode"}},
		{"retail stock items", "StockItems", Retail, []string{"StockId"}},
		{"stock items has no hospitality entry", "StockItems", Hospitality, fallbackColumns},
		{"hospitality menu item", "MenuItem", Hospitality, []string{"ItemCode"}},
		{"menu item has no retail entry", "MenuItem", Retail, fallbackColumns},
		{"payment retail", "Payment", Retail, []string{"Payment"}},
		{"payment hospitality", "Payment", Hospitality, []string{"Payment"}},
		{"unknown table falls back", "SomeFutureTable", Retail, fallbackColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrimaryKeyFor(tt.table, tt.businessType)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

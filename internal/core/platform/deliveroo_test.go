package platform

import (
	"testing"
	"time"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestParseInvoiceRow(t *testing.T) {
	tests := []struct {
		name string
		text string
		want time.Time
	}{
		{"slash date", "Invoice 12345 18/07/2025 Download", day("2025-07-18")},
		{"iso date", "Invoice 12345 2025-07-18 Download", day("2025-07-18")},
		{"no date", "Invoice pending Download", time.Time{}},
		{"garbage digits", "Invoice 99/99 123 Download", time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := parseInvoiceRow(3, tt.text)
			if row.Index != 3 {
				t.Errorf("Index = %d, want 3", row.Index)
			}
			if !row.Date.Equal(tt.want) {
				t.Errorf("Date = %v, want %v", row.Date, tt.want)
			}
		})
	}
}

func TestFilterInvoiceRows(t *testing.T) {
	start, end := day("2025-07-01"), day("2025-07-31")
	rows := []invoiceRow{
		{Index: 0, Date: day("2025-08-10")}, // after window, skipped
		{Index: 1, Date: day("2025-07-20")}, // inside
		{Index: 2},                          // undated, kept
		{Index: 3, Date: day("2025-07-02")}, // inside
		{Index: 4, Date: day("2025-06-28")}, // before window, stops the scan
		{Index: 5, Date: day("2025-07-15")}, // never reached
	}

	keep, stop := filterInvoiceRows(rows, start, end)
	if !stop {
		t.Fatal("expected the scan to stop at the first pre-window row")
	}
	wantIdx := []int{1, 2, 3}
	if len(keep) != len(wantIdx) {
		t.Fatalf("kept %d rows, want %d: %+v", len(keep), len(wantIdx), keep)
	}
	for i, row := range keep {
		if row.Index != wantIdx[i] {
			t.Errorf("keep[%d].Index = %d, want %d", i, row.Index, wantIdx[i])
		}
	}
}

func TestFilterInvoiceRowsNoStopInsideWindow(t *testing.T) {
	start, end := day("2025-07-01"), day("2025-07-31")
	rows := []invoiceRow{
		{Index: 0, Date: day("2025-07-30")},
		{Index: 1, Date: day("2025-07-10")},
	}
	keep, stop := filterInvoiceRows(rows, start, end)
	if stop {
		t.Error("no pre-window row seen, pagination must continue")
	}
	if len(keep) != 2 {
		t.Errorf("kept %d rows, want 2", len(keep))
	}
}

func TestFilterInvoiceRowsAllUndated(t *testing.T) {
	rows := []invoiceRow{{Index: 0}, {Index: 1}}
	keep, stop := filterInvoiceRows(rows, day("2025-07-01"), day("2025-07-31"))
	if stop {
		t.Error("undated rows must not stop pagination")
	}
	if len(keep) != 2 {
		t.Errorf("kept %d rows, want 2 (undated rows are downloaded, not dropped)", len(keep))
	}
}

func TestLooksLikeAuthCookie(t *testing.T) {
	tests := []struct {
		cookie string
		want   bool
	}{
		{"_session_id", true},
		{"auth_token", true},
		{"IDENTITY", true},
		{"roo_token", true},
		{"ajs_anonymous_id", false},
		{"_ga", false},
		{"consent", false},
	}
	for _, tt := range tests {
		if got := looksLikeAuthCookie(tt.cookie); got != tt.want {
			t.Errorf("looksLikeAuthCookie(%q) = %v, want %v", tt.cookie, got, tt.want)
		}
	}
}

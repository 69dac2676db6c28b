package db

import (
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/giacomodamario/deliverydash/pkg/orders"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	slug := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(slug, "-")
}

// GetOrCreateBrand returns the brand id, creating it on first sight.
func GetOrCreateBrand(tx *sql.Tx, name string) (int64, error) {
	slug := slugify(name)
	var id int64
	err := tx.QueryRow("SELECT id FROM brands WHERE slug = ?", slug).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec("INSERT INTO brands (name, slug) VALUES (?, ?)", name, slug)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetOrCreateLocation returns the location id for a brand/platform pair.
func GetOrCreateLocation(tx *sql.Tx, brandID int64, name, platform string) (int64, error) {
	var id int64
	err := tx.QueryRow(
		"SELECT id FROM locations WHERE brand_id = ? AND platform = ? AND name = ?",
		brandID, platform, name,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	res, err := tx.Exec(
		"INSERT INTO locations (brand_id, name, platform, platform_id) VALUES (?, ?, ?, NULL)",
		brandID, name, platform,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertOrder inserts one order, ignoring duplicates on (platform, order_id).
// Returns whether a row was actually inserted.
func InsertOrder(tx *sql.Tx, locationID int64, o orders.Order) (bool, error) {
	var orderDate interface{}
	if !o.OrderedAt.IsZero() {
		orderDate = o.OrderedAt.Format("2006-01-02")
	}
	res, err := tx.Exec(`
		INSERT OR IGNORE INTO orders (
			location_id, platform, order_id, order_date,
			gross_value, commission, commission_rate, vat,
			net_payout, refund, refund_reason, refund_fault,
			promo_restaurant, promo_platform,
			tips, adjustments, ad_fee, discount_commission, is_cash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		locationID, o.Platform, o.OrderID, orderDate,
		o.GrossValue, o.Commission, o.CommissionRate, o.VAT,
		o.NetPayout, o.RefundAmount, nullable(o.RefundReason), nullable(o.RefundFault),
		o.PromoRestaurant, o.PromoPlatform,
		0, o.CashAdjustment, o.AdFee, o.DiscountComm, boolInt(o.IsCashOrder),
	)
	if err != nil {
		return false, fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IsImported reports whether a file was already imported.
func (db *DB) IsImported(filename string) (bool, error) {
	var id int64
	err := db.conn.QueryRow("SELECT id FROM imports WHERE filename = ?", filename).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordImport logs a completed file import.
func RecordImport(tx *sql.Tx, filename, platform string, rowsImported int) error {
	_, err := tx.Exec(
		"INSERT INTO imports (filename, platform, rows_imported) VALUES (?, ?, ?)",
		filename, platform, rowsImported,
	)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

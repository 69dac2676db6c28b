package orders

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// GlovoParser parses Glovo partner report CSVs: one flat table, English
// column names, one row per order.
type GlovoParser struct{}

func (p *GlovoParser) Platform() string { return "glovo" }

var glovoColumns = map[string]string{
	"Glovo Code":                            "order_id",
	"Notification Partner Time":             "datetime",
	"Description":                           "description",
	"Store Name":                            "restaurant_name",
	"Store Address":                         "restaurant_address",
	"Child Store Address Id":                "store_id",
	"Payment Method":                        "payment_method",
	"Price of Products":                     "gross_value",
	"Product Promotion Paid by Partner":     "promo_partner",
	"Flash Offer Promotion Paid by Partner": "flash_promo",
	"Charged to Partner Base":               "charged_base",
	"Glovo platform fee":                    "platform_fee",
	"Total Charged to Partner":              "total_charged",
	"Total Charged to Partner Percentage":   "commission_rate",
	"Delivery promotion paid by partner":    "delivery_promo",
	"Refunds (Incidents)":                   "refunds",
	"Products paid in cash":                 "cash_products",
	"Delivery Price paid in cash":           "cash_delivery",
	"Wait Time Fee":                         "wait_time_fee",
	"Wait Time Fee Refund":                  "wait_time_refund",
	"Prime Order Vendor Fee":                "prime_fee",
	"Flash Deals Fee":                       "flash_deals_fee",
}

var glovoDateLayouts = []string{
	"2006-02-01 15:04",
	"2006-01-02 15:04",
	"02-01-2006 15:04",
	"2006-01-02 15:04:05",
}

func (p *GlovoParser) Parse(path string) (*Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open report: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	inv := &Invoice{Platform: p.Platform(), Filename: path}
	if len(records) < 2 {
		return inv, nil
	}

	cols := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		if canonical, ok := glovoColumns[strings.TrimSpace(h)]; ok {
			cols[canonical] = i
		}
	}

	for n, rec := range records[1:] {
		row := func(key string) string {
			i, ok := cols[key]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		num := func(key string) float64 { return ParseEuropeanNumber(row(key)) }

		orderID := row("order_id")
		if orderID == "" {
			continue
		}

		platformFee := num("platform_fee")
		cashProducts := num("cash_products")
		o := Order{
			Platform:        p.Platform(),
			OrderID:         orderID,
			OrderNumber:     orderID,
			StoreID:         row("store_id"),
			RestaurantName:  row("restaurant_name"),
			RestaurantAddr:  row("restaurant_address"),
			OrderedAt:       parseTime(row("datetime"), glovoDateLayouts),
			GrossValue:      num("gross_value"),
			Commission:      platformFee,
			CommissionRate:  num("commission_rate"),
			NetPayout:       num("charged_base") - platformFee,
			PromoRestaurant: num("promo_partner") + num("flash_promo") + num("delivery_promo"),
			RefundAmount:    num("refunds"),
			CashAdjustment:  cashProducts + num("cash_delivery"),
			IsCashOrder:     cashProducts > 0,
			WaitTimeFee:     num("wait_time_fee") - num("wait_time_refund"),
			PrimeFee:        num("prime_fee"),
			FlashDealsFee:   num("flash_deals_fee"),
			Items:           row("description"),
		}
		if o.OrderedAt.IsZero() && row("datetime") != "" {
			inv.Errors = append(inv.Errors, fmt.Sprintf("row %d: unparseable date %q", n+2, row("datetime")))
		}

		inv.Orders = append(inv.Orders, o)
		if inv.RestaurantName == "" {
			inv.RestaurantName = o.RestaurantName
		}
	}

	inv.setPeriod()
	return inv, nil
}

package orders

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DeliverooParser parses Deliveroo statement CSVs. A statement file is not
// one flat table: it contains several sections (orders, contested refunds,
// other payments and fees), each with its own header row, concatenated in
// one file. Column names come in Italian from the IT partner hub.
type DeliverooParser struct{}

func (p *DeliverooParser) Platform() string { return "deliveroo" }

var deliverooSectionMarkers = []string{
	"orders and related adjustments",
	"payments for contested customer refunds",
	"other payments and fees",
}

// deliverooColumns maps normalized header names to canonical field keys.
var deliverooColumns = map[string]string{
	"nome del ristorante":                     "restaurant_name",
	"numero d'ordine":                         "order_number",
	"data e ora della consegna (utc)":         "datetime",
	"data e ora del ritiro (utc)":             "datetime",
	"attività":                                "activity",
	"valore dell'ordine (€)":                  "order_value",
	"valore dell'ordine":                      "order_value",
	"valore netto della rettifica (€)":        "adjustment_value",
	"valore netto della rettifica":            "adjustment_value",
	"tasso di commissione deliveroo":          "commission_rate",
	"commissione deliveroo (€)":               "commission",
	"commissione deliveroo":                   "commission",
	"commissione / rettifica - tasso del iva": "vat_rate",
	"commissione / rettifica iva (€)":         "vat",
	"commissione / rettifica iva":             "vat",
	"totale da pagare":                        "total_payout",
	"nota":                                    "notes",
	"id dell'ordine":                          "order_id",
	"id ordine":                               "order_id",
}

var deliverooDateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006 15:04:05",
	"02-01-2006",
}

var (
	orderIDDateRe    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	marketerPromoRe  = regexp.MustCompile(`Sconto offerta Marketer[:\s]*([\d,\.]+)`)
	restPromoRe      = regexp.MustCompile(`(?i)Sconto del ristorante[:\s]*([\d,\.]+)`)
	refundReasonRe   = regexp.MustCompile(`(?i)refund\s*reason[:\s]+([^,\n]+)`)
	refundFaultRe    = regexp.MustCompile(`(?i)party\s*at\s*fault[:\s]+([^,\n]+)`)
)

// validOrderID filters the synthetic ids the statement uses for standalone
// fee lines: literal "0" and bare dates are not real orders.
func validOrderID(id string) bool {
	if id == "" || id == "0" {
		return false
	}
	return !orderIDDateRe.MatchString(id)
}

func (p *DeliverooParser) Parse(path string) (*Invoice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read statement: %w", err)
	}
	inv := &Invoice{Platform: p.Platform(), Filename: path}

	sections := splitSections(string(data))
	ordersByID := make(map[string]*Order)
	var orderIDs []string // insertion order

	var standaloneAds, standaloneDiscComm float64

	for _, sec := range sections {
		records, err := parseSection(sec.lines)
		if err != nil {
			inv.Errors = append(inv.Errors, fmt.Sprintf("section %q: %v", sec.name, err))
			continue
		}
		if len(records) < 2 {
			continue
		}
		cols := mapColumns(records[0])
		for _, rec := range records[1:] {
			row := func(key string) string {
				i, ok := cols[key]
				if !ok || i >= len(rec) {
					return ""
				}
				return strings.TrimSpace(rec[i])
			}

			orderID := row("order_id")
			activity := row("activity")
			notes := row("notes")
			adjustment := ParseEuropeanNumber(row("adjustment_value"))

			switch {
			case isMainOrder(activity):
				if !validOrderID(orderID) {
					continue
				}
				o := &Order{
					Platform:       p.Platform(),
					OrderID:        orderID,
					OrderNumber:    row("order_number"),
					RestaurantName: row("restaurant_name"),
					OrderedAt:      parseTime(row("datetime"), deliverooDateLayouts),
					GrossValue:     ParseEuropeanNumber(row("order_value")),
					Commission:     abs(ParseEuropeanNumber(row("commission"))),
					CommissionRate: ParsePercent(row("commission_rate")),
					VAT:            abs(ParseEuropeanNumber(row("vat"))),
					NetPayout:      ParseEuropeanNumber(row("total_payout")),
					Notes:          notes,
				}
				if strings.Contains(notes, "Pagamento in contanti") || strings.Contains(notes, "Cash") {
					o.IsCashOrder = true
				}
				if m := marketerPromoRe.FindStringSubmatch(notes); m != nil {
					o.PromoPlatform = ParseEuropeanNumber(strings.ReplaceAll(m[1], ",", "."))
				}
				if m := restPromoRe.FindStringSubmatch(notes); m != nil {
					o.PromoRestaurant = ParseEuropeanNumber(strings.ReplaceAll(m[1], ",", "."))
				}
				if _, seen := ordersByID[orderID]; !seen {
					orderIDs = append(orderIDs, orderID)
				}
				ordersByID[orderID] = o
				if o.RestaurantName != "" {
					inv.RestaurantName = o.RestaurantName
				}

			case containsAny(activity, "Rimborso", "Refund"):
				amount := abs(adjustment)
				if o, ok := lookup(ordersByID, orderID); ok {
					o.RefundAmount = amount
					if m := refundReasonRe.FindStringSubmatch(notes); m != nil {
						o.RefundReason = strings.TrimSpace(m[1])
					}
					if m := refundFaultRe.FindStringSubmatch(notes); m != nil {
						o.RefundFault = strings.TrimSpace(m[1])
					}
				}
				// Standalone refunds stay unattributed on purpose.

			case strings.Contains(activity, "Annunci") ||
				(strings.Contains(activity, "Marketer") && !strings.Contains(activity, "Sconto")):
				amount := abs(adjustment)
				if o, ok := lookup(ordersByID, orderID); ok {
					o.AdFee += amount
				} else {
					standaloneAds += amount
				}

			case strings.Contains(activity, "Correzione") || strings.Contains(strings.ToLower(activity), "fattura"):
				lower := strings.ToLower(notes)
				if strings.Contains(lower, "commission on funded discount") || strings.Contains(lower, "commissione") {
					amount := abs(adjustment)
					if o, ok := lookup(ordersByID, orderID); ok {
						o.DiscountComm += amount
					} else {
						standaloneDiscComm += amount
					}
				}

			case containsAnyFold(activity, "contanti", "cash"):
				if o, ok := lookup(ordersByID, orderID); ok {
					o.CashAdjustment = abs(adjustment)
					o.IsCashOrder = true
				}

			case strings.Contains(strings.ToLower(activity), "sconto") &&
				!strings.Contains(strings.ToLower(activity), "marketer"):
				if o, ok := lookup(ordersByID, orderID); ok {
					o.PromoRestaurant += abs(adjustment)
				}

			case strings.Contains(strings.ToLower(activity), "voucher"):
				if o, ok := lookup(ordersByID, orderID); ok {
					o.PromoPlatform += abs(adjustment)
				}
			}
		}
	}

	for _, id := range orderIDs {
		inv.Orders = append(inv.Orders, *ordersByID[id])
	}

	distributeStandalone(inv, standaloneAds, standaloneDiscComm)
	inv.setPeriod()
	return inv, nil
}

// distributeStandalone spreads account-level fees over orders by gross
// value proportion, recording them as invoice fees too.
func distributeStandalone(inv *Invoice, ads, discComm float64) {
	if len(inv.Orders) == 0 || (ads == 0 && discComm == 0) {
		return
	}
	inv.Fees = append(inv.Fees,
		Fee{Type: "ad_fee", Amount: ads, Description: "Annunci Marketer (standalone)"},
		Fee{Type: "discount_commission", Amount: discComm, Description: "Discount commission (standalone)"},
	)
	var totalGross float64
	for i := range inv.Orders {
		totalGross += inv.Orders[i].GrossValue
	}
	if totalGross <= 0 {
		return
	}
	for i := range inv.Orders {
		share := inv.Orders[i].GrossValue / totalGross
		inv.Orders[i].AdFee += ads * share
		inv.Orders[i].DiscountComm += discComm * share
	}
}

type section struct {
	name  string
	lines []string
}

// splitSections cuts the statement at its section marker lines. Everything
// before the first marker stays in a "header" section.
func splitSections(content string) []section {
	lines := strings.Split(content, "\n")
	start := 0
	if len(lines) > 0 {
		first := strings.ToLower(strings.TrimSpace(lines[0]))
		if strings.HasSuffix(first, ".csv") || strings.Contains(first, "statement") {
			start = 1
		}
	}

	var sections []section
	current := section{name: "header"}
	for _, line := range lines[start:] {
		stripped := strings.TrimSpace(line)
		marker := ""
		for _, m := range deliverooSectionMarkers {
			if strings.Contains(strings.ToLower(stripped), m) {
				marker = m
				break
			}
		}
		if marker != "" {
			if len(current.lines) > 0 {
				sections = append(sections, current)
			}
			current = section{name: marker}
			continue
		}
		if stripped != "" {
			current.lines = append(current.lines, line)
		}
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}
	return sections
}

func parseSection(lines []string) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

// mapColumns maps canonical keys to column indexes via the header row.
func mapColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if canonical, ok := deliverooColumns[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	return cols
}

func isMainOrder(activity string) bool {
	switch activity {
	case "Consegna", "Ritiro", "Delivery", "Pickup":
		return true
	}
	return false
}

func lookup(m map[string]*Order, id string) (*Order, bool) {
	if !validOrderID(id) {
		return nil, false
	}
	o, ok := m[id]
	return o, ok
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsAnyFold(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

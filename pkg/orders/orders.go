// Package orders parses downloaded invoice files into order records.
// Each platform exports its own CSV dialect; the parsers normalize them
// into one Order shape and never fail a whole file for one bad row.
package orders

import (
	"fmt"
	"strings"
	"time"
)

// Order is one normalized order line extracted from an invoice file.
type Order struct {
	Platform       string
	OrderID        string
	OrderNumber    string
	StoreID        string
	RestaurantName string
	RestaurantAddr string
	OrderedAt      time.Time

	GrossValue     float64
	Commission     float64
	CommissionRate float64
	VAT            float64
	NetPayout      float64

	RefundAmount float64
	RefundReason string
	RefundFault  string

	PromoRestaurant float64
	PromoPlatform   float64
	AdFee           float64
	DiscountComm    float64

	CashAdjustment float64
	IsCashOrder    bool

	WaitTimeFee   float64
	PrimeFee      float64
	FlashDealsFee float64

	Items string
	Notes string
}

// Invoice is the parse result for one file.
type Invoice struct {
	Platform       string
	Filename       string
	RestaurantName string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Orders         []Order
	// Fees are invoice-level charges not attributable to one order.
	Fees []Fee
	// Errors are row-level problems; the file still parsed.
	Errors []string
}

// Fee is a standalone invoice-level charge.
type Fee struct {
	Type        string
	Amount      float64
	Description string
}

// Parser turns one downloaded file into an Invoice.
type Parser interface {
	Platform() string
	Parse(path string) (*Invoice, error)
}

// ForPlatform returns the parser for a platform id.
func ForPlatform(platform string) (Parser, error) {
	switch platform {
	case "deliveroo":
		return &DeliverooParser{}, nil
	case "glovo":
		return &GlovoParser{}, nil
	}
	return nil, fmt.Errorf("no parser for platform %q", platform)
}

// setPeriod derives the invoice period from parsed order dates.
func (inv *Invoice) setPeriod() {
	for _, o := range inv.Orders {
		if o.OrderedAt.IsZero() {
			continue
		}
		if inv.PeriodStart.IsZero() || o.OrderedAt.Before(inv.PeriodStart) {
			inv.PeriodStart = o.OrderedAt
		}
		if inv.PeriodEnd.IsZero() || o.OrderedAt.After(inv.PeriodEnd) {
			inv.PeriodEnd = o.OrderedAt
		}
	}
}

// parseTime tries each layout in order.
func parseTime(s string, layouts []string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

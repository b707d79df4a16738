// Package model holds the storefront types shared by the cart, its storage and
// the stock/catalog clients.
package model

import "github.com/shopspring/decimal"

// Product is a catalog product. Inside a cart, Amount is the quantity held.
type Product struct {
	ID     int64           `json:"id"`
	Title  string          `json:"title"`
	Price  decimal.Decimal `json:"price"`
	Image  string          `json:"image"`
	Amount int             `json:"amount"`
}

// Stock is the available quantity of a product as reported by the stock API.
type Stock struct {
	ID     int64 `json:"id"`
	Amount int   `json:"amount"`
}

// Subtotal returns Price * Amount.
func (p Product) Subtotal() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Amount)))
}

// LineSummary is a cart line with its computed subtotal.
type LineSummary struct {
	Product
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Summary aggregates a cart for display.
type Summary struct {
	Lines []LineSummary   `json:"lines"`
	Total decimal.Decimal `json:"total"`
	// Size is the number of distinct products.
	Size int `json:"size"`
}

// Summarize computes subtotals and the total of lines, preserving their order.
func Summarize(lines []Product) Summary {
	s := Summary{
		Lines: make([]LineSummary, 0, len(lines)),
		Total: decimal.Zero,
		Size:  len(lines),
	}
	for _, p := range lines {
		sub := p.Subtotal()
		s.Lines = append(s.Lines, LineSummary{Product: p, Subtotal: sub})
		s.Total = s.Total.Add(sub)
	}
	return s
}

// IndexOf returns the position of the line with productID, or -1.
func IndexOf(lines []Product, productID int64) int {
	for i := range lines {
		if lines[i].ID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a copy of lines that shares no backing array with it.
func Clone(lines []Product) []Product {
	if lines == nil {
		return []Product{}
	}
	out := make([]Product, len(lines))
	copy(out, lines)
	return out
}

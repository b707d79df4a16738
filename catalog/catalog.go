// Package catalog reaches the storefront's read-only product and stock APIs.
package catalog

import (
	"context"

	"github.com/norun9/storefront-cart/model"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when the product or its stock record does not exist.
var ErrNotFound = errors.New("catalog: not found")

// StockService reports how many units of a product are available.
type StockService interface {
	Stock(ctx context.Context, productID int64) (model.Stock, error)
}

// ProductCatalog returns product metadata.
type ProductCatalog interface {
	Product(ctx context.Context, productID int64) (model.Product, error)
}

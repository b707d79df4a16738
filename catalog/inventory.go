package catalog

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/norun9/storefront-cart/model"
	"github.com/pkg/errors"
)

// Seed is the on-disk shape of a local inventory, the same document the
// storefront's mock API serves.
type Seed struct {
	Products []model.Product `json:"products"`
	Stock    []model.Stock   `json:"stock"`
}

// Inventory is an in-process StockService and ProductCatalog.
type Inventory struct {
	mu       sync.RWMutex
	products map[int64]model.Product
	stock    map[int64]int
}

// NewInventory builds an inventory from seed.
func NewInventory(seed Seed) *Inventory {
	inv := &Inventory{
		products: make(map[int64]model.Product, len(seed.Products)),
		stock:    make(map[int64]int, len(seed.Stock)),
	}
	for _, p := range seed.Products {
		p.Amount = 0
		inv.products[p.ID] = p
	}
	for _, s := range seed.Stock {
		inv.stock[s.ID] = s.Amount
	}
	return inv
}

// LoadInventory decodes a seed document from r.
func LoadInventory(r io.Reader) (*Inventory, error) {
	var seed Seed
	if err := json.NewDecoder(r).Decode(&seed); err != nil {
		return nil, errors.Wrap(err, "decode inventory seed")
	}
	return NewInventory(seed), nil
}

// LoadInventoryFile reads a seed document from path.
func LoadInventoryFile(path string) (*Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open inventory seed")
	}
	defer f.Close()
	return LoadInventory(f)
}

// Stock implements StockService.
func (inv *Inventory) Stock(ctx context.Context, productID int64) (model.Stock, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	amount, ok := inv.stock[productID]
	if !ok {
		return model.Stock{}, errors.Wrapf(ErrNotFound, "stock %d", productID)
	}
	return model.Stock{ID: productID, Amount: amount}, nil
}

// Product implements ProductCatalog.
func (inv *Inventory) Product(ctx context.Context, productID int64) (model.Product, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	p, ok := inv.products[productID]
	if !ok {
		return model.Product{}, errors.Wrapf(ErrNotFound, "product %d", productID)
	}
	return p, nil
}

// Products lists every product ordered by id.
func (inv *Inventory) Products() []model.Product {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make([]model.Product, 0, len(inv.products))
	for _, p := range inv.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetStock sets the available amount of a product.
func (inv *Inventory) SetStock(productID int64, amount int) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.stock[productID] = amount
}

package cartstore

import (
	"context"
	"encoding/json"

	"github.com/norun9/storefront-cart/model"
	"github.com/pkg/errors"
)

// DefaultKey is the namespaced slot the storefront keeps its cart under.
const DefaultKey = "@RocketShoes:cart"

// ErrCorrupt is returned when a persisted cart cannot be decoded.
var ErrCorrupt = errors.New("cartstore: corrupt cart data")

// ICartStore is a durable key-value slot holding a serialized cart.
type ICartStore interface {
	Initialize(ctx context.Context) error

	// GetCart returns the lines stored under key, or an empty cart if the slot is unset.
	GetCart(ctx context.Context, key string) ([]model.Product, error)
	// SaveCart overwrites the slot with lines.
	SaveCart(ctx context.Context, key string, lines []model.Product) error
	EmptyCart(ctx context.Context, key string) error

	Ping(ctx context.Context) bool
}

// Marshal encodes lines as a JSON array. A nil cart encodes as [].
func Marshal(lines []model.Product) ([]byte, error) {
	if lines == nil {
		lines = []model.Product{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return nil, errors.Wrap(err, "marshal cart")
	}
	return data, nil
}

// Unmarshal decodes a JSON array of lines. Empty input yields an empty cart.
func Unmarshal(data []byte) ([]model.Product, error) {
	if len(data) == 0 {
		return []model.Product{}, nil
	}
	var lines []model.Product
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%v", err)
	}
	if lines == nil {
		lines = []model.Product{}
	}
	return lines, nil
}

package cartstore

import (
	"context"
	"sync"

	"github.com/norun9/storefront-cart/model"
	"github.com/sirupsen/logrus"
)

// LocalCartStore keeps serialized carts in memory. Carts are stored encoded so
// that reads go through the same codec as the durable backends.
type LocalCartStore struct {
	mu    sync.RWMutex
	store map[string][]byte
	log   logrus.FieldLogger
}

// NewLocalCartStore constructor
func NewLocalCartStore(log logrus.FieldLogger) *LocalCartStore {
	return &LocalCartStore{
		store: make(map[string][]byte),
		log:   log,
	}
}

// Initialize does nothing in this implementation.
func (l *LocalCartStore) Initialize(ctx context.Context) error {
	l.log.Info("LocalCartStore initialized")
	return nil
}

// GetCart returns the cart stored under key.
func (l *LocalCartStore) GetCart(ctx context.Context, key string) ([]model.Product, error) {
	l.log.WithField("key", key).Debug("LocalCartStore: GetCart called")
	l.mu.RLock()
	data, ok := l.store[key]
	l.mu.RUnlock()

	if !ok {
		return []model.Product{}, nil
	}
	return Unmarshal(data)
}

// SaveCart replaces the cart stored under key.
func (l *LocalCartStore) SaveCart(ctx context.Context, key string, lines []model.Product) error {
	l.log.WithFields(logrus.Fields{"key": key, "lines": len(lines)}).Debug("LocalCartStore: SaveCart called")
	data, err := Marshal(lines)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.store[key] = data
	return nil
}

// EmptyCart drops the cart stored under key.
func (l *LocalCartStore) EmptyCart(ctx context.Context, key string) error {
	l.log.WithField("key", key).Debug("LocalCartStore: EmptyCart called")
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.store, key)
	return nil
}

// Ping always succeeds.
func (l *LocalCartStore) Ping(ctx context.Context) bool {
	return true
}

// Package cart implements the storefront cart: an ordered list of product lines
// mirrored into a durable slot and validated against remote stock.
//
// Mutations never return errors. Every rejected or failed mutation emits exactly
// one notification and leaves the cart unchanged, both in memory and in storage.
package cart

import (
	"context"
	"sync"

	"github.com/norun9/storefront-cart/cartstore"
	"github.com/norun9/storefront-cart/catalog"
	"github.com/norun9/storefront-cart/events"
	"github.com/norun9/storefront-cart/model"
	"github.com/norun9/storefront-cart/notify"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	opAdd          = "add_product"
	opRemove       = "remove_product"
	opUpdateAmount = "update_product_amount"

	outcomeOK = "ok"
)

// UpdateProductAmount requests that a line be set to an exact amount.
type UpdateProductAmount struct {
	ProductID int64 `json:"productId"`
	Amount    int   `json:"amount"`
}

// Options wires a Store to its collaborators. Notifier and Publisher may be nil.
type Options struct {
	Key       string
	Stock     catalog.StockService
	Catalog   catalog.ProductCatalog
	Storage   cartstore.ICartStore
	Notifier  notify.Notifier
	Publisher events.Publisher
	Log       logrus.FieldLogger
}

// Store owns one cart.
type Store struct {
	// opMu serializes mutations so that the stock check and the write-back of
	// one mutation cannot interleave with another.
	opMu sync.Mutex
	// mu guards lines.
	mu    sync.RWMutex
	lines []model.Product

	key       string
	stock     catalog.StockService
	catalog   catalog.ProductCatalog
	storage   cartstore.ICartStore
	notifier  notify.Notifier
	publisher events.Publisher
	log       logrus.FieldLogger

	tracer        trace.Tracer
	mutations     metric.Int64Counter
	notifications metric.Int64Counter
}

// NewStore loads the persisted cart under opts.Key and returns a Store over it.
// A slot that cannot be decoded is discarded and the cart starts empty.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Stock == nil || opts.Catalog == nil || opts.Storage == nil {
		return nil, errors.New("cart: stock, catalog and storage are required")
	}
	if opts.Key == "" {
		opts.Key = cartstore.DefaultKey
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NoopPublisher{}
	}

	meter := otel.Meter("cartservice")
	mutations, err := meter.Int64Counter("cart.mutations",
		metric.WithDescription("Cart mutation attempts by operation and outcome."))
	if err != nil {
		return nil, errors.Wrap(err, "create cart.mutations counter")
	}
	notifications, err := meter.Int64Counter("cart.notifications",
		metric.WithDescription("User-facing cart notifications by kind."))
	if err != nil {
		return nil, errors.Wrap(err, "create cart.notifications counter")
	}

	s := &Store{
		key:           opts.Key,
		stock:         opts.Stock,
		catalog:       opts.Catalog,
		storage:       opts.Storage,
		notifier:      opts.Notifier,
		publisher:     opts.Publisher,
		log:           opts.Log.WithField("cart_key", opts.Key),
		tracer:        otel.Tracer("cartservice"),
		mutations:     mutations,
		notifications: notifications,
	}

	lines, err := opts.Storage.GetCart(ctx, opts.Key)
	switch {
	case errors.Is(err, cartstore.ErrCorrupt):
		s.log.WithError(err).Warn("discarding unreadable persisted cart")
		lines = []model.Product{}
	case err != nil:
		return nil, errors.Wrap(err, "load persisted cart")
	}
	s.lines = lines
	s.log.WithField("lines", len(lines)).Info("cart loaded")
	return s, nil
}

// Key returns the storage slot this cart is persisted under.
func (s *Store) Key() string {
	return s.key
}

// Cart returns a copy of the current lines in insertion order.
func (s *Store) Cart() []model.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Clone(s.lines)
}

// Summary returns the current lines with their subtotals and the cart total.
func (s *Store) Summary() model.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Summarize(s.lines)
}

// AddProduct adds one unit of productID, appending a new line fetched from the
// catalog when the product is not in the cart yet.
func (s *Store) AddProduct(ctx context.Context, productID int64) {
	ctx, span := s.tracer.Start(ctx, "AddProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("app.product_id", productID))

	s.opMu.Lock()
	defer s.opMu.Unlock()

	updated := s.Cart()
	idx := model.IndexOf(updated, productID)

	stock, err := s.stock.Stock(ctx, productID)
	if err != nil {
		s.reject(ctx, span, opAdd, notify.KindFailure, notify.MsgAddFailed, productID, errors.Wrap(err, "get stock"))
		return
	}

	current := 0
	if idx >= 0 {
		current = updated[idx].Amount
	}
	amount := current + 1
	if amount > stock.Amount {
		s.reject(ctx, span, opAdd, notify.KindOutOfStock, notify.MsgOutOfStock, productID, nil)
		return
	}

	if idx >= 0 {
		updated[idx].Amount = amount
	} else {
		product, err := s.catalog.Product(ctx, productID)
		if err != nil {
			s.reject(ctx, span, opAdd, notify.KindFailure, notify.MsgAddFailed, productID, errors.Wrap(err, "get product"))
			return
		}
		product.ID = productID
		product.Amount = 1
		updated = append(updated, product)
	}

	if err := s.commit(ctx, updated); err != nil {
		s.reject(ctx, span, opAdd, notify.KindFailure, notify.MsgAddFailed, productID, err)
		return
	}
	s.succeed(ctx, opAdd, events.New(events.ProductAdded, s.key, productID, amount))
}

// RemoveProduct drops the line for productID.
func (s *Store) RemoveProduct(ctx context.Context, productID int64) {
	ctx, span := s.tracer.Start(ctx, "RemoveProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("app.product_id", productID))

	s.opMu.Lock()
	defer s.opMu.Unlock()

	updated := s.Cart()
	idx := model.IndexOf(updated, productID)
	if idx < 0 {
		s.reject(ctx, span, opRemove, notify.KindNotFound, notify.MsgRemoveFailed, productID, nil)
		return
	}
	updated = append(updated[:idx], updated[idx+1:]...)

	if err := s.commit(ctx, updated); err != nil {
		s.reject(ctx, span, opRemove, notify.KindFailure, notify.MsgRemoveFailed, productID, err)
		return
	}
	s.succeed(ctx, opRemove, events.New(events.ProductRemoved, s.key, productID, 0))
}

// UpdateProductAmount sets the line for req.ProductID to exactly req.Amount.
// The line must already be in the cart.
func (s *Store) UpdateProductAmount(ctx context.Context, req UpdateProductAmount) {
	ctx, span := s.tracer.Start(ctx, "UpdateProductAmount")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("app.product_id", req.ProductID),
		attribute.Int("app.amount", req.Amount),
	)

	if req.Amount < 1 {
		s.reject(ctx, span, opUpdateAmount, notify.KindInvalidAmount, notify.MsgUpdateFailed, req.ProductID, nil)
		return
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	updated := s.Cart()
	idx := model.IndexOf(updated, req.ProductID)
	if idx < 0 {
		s.reject(ctx, span, opUpdateAmount, notify.KindNotFound, notify.MsgUpdateFailed, req.ProductID, nil)
		return
	}

	stock, err := s.stock.Stock(ctx, req.ProductID)
	if err != nil {
		s.reject(ctx, span, opUpdateAmount, notify.KindFailure, notify.MsgUpdateFailed, req.ProductID, errors.Wrap(err, "get stock"))
		return
	}
	if req.Amount > stock.Amount {
		s.reject(ctx, span, opUpdateAmount, notify.KindOutOfStock, notify.MsgOutOfStock, req.ProductID, nil)
		return
	}

	updated[idx].Amount = req.Amount
	if err := s.commit(ctx, updated); err != nil {
		s.reject(ctx, span, opUpdateAmount, notify.KindFailure, notify.MsgUpdateFailed, req.ProductID, err)
		return
	}
	s.succeed(ctx, opUpdateAmount, events.New(events.ProductAmountUpdated, s.key, req.ProductID, req.Amount))
}

// commit persists updated and, only once the write succeeded, makes it current.
func (s *Store) commit(ctx context.Context, updated []model.Product) error {
	if err := s.storage.SaveCart(ctx, s.key, updated); err != nil {
		return errors.Wrap(err, "persist cart")
	}
	s.mu.Lock()
	s.lines = updated
	s.mu.Unlock()
	return nil
}

func (s *Store) succeed(ctx context.Context, op string, e events.Event) {
	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcomeOK),
	))
	s.log.WithFields(logrus.Fields{"op": op, "product_id": e.ProductID, "amount": e.Amount}).Info("cart updated")

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.WithError(err).WithField("event", e.Type).Error("failed to publish cart event")
	}
}

// reject reports a mutation that left the cart untouched.
func (s *Store) reject(ctx context.Context, span trace.Span, op string, kind notify.Kind, msg string, productID int64, err error) {
	entry := s.log.WithFields(logrus.Fields{"op": op, "product_id": productID, "kind": kind})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithError(err).Error("cart mutation failed")
	} else {
		span.SetAttributes(attribute.String("app.rejected", string(kind)))
		entry.Info("cart mutation rejected")
	}

	s.mutations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", string(kind)),
	))
	s.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))

	notify.Send(ctx, s.notifier, notify.Notification{
		Kind:      kind,
		Message:   msg,
		ProductID: productID,
	})
}

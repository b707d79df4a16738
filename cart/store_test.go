package cart

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/norun9/storefront-cart/cartstore"
	"github.com/norun9/storefront-cart/catalog"
	"github.com/norun9/storefront-cart/events"
	"github.com/norun9/storefront-cart/model"
	"github.com/norun9/storefront-cart/notify"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
)

// ---- fakes ----

type fakeStock struct {
	mu     sync.Mutex
	amount map[int64]int
	err    error
	calls  int
}

func (f *fakeStock) Stock(ctx context.Context, id int64) (model.Stock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return model.Stock{}, f.err
	}
	a, ok := f.amount[id]
	if !ok {
		return model.Stock{}, catalog.ErrNotFound
	}
	return model.Stock{ID: id, Amount: a}, nil
}

type fakeCatalog struct {
	products map[int64]model.Product
	err      error
	calls    int
}

func (f *fakeCatalog) Product(ctx context.Context, id int64) (model.Product, error) {
	f.calls++
	if f.err != nil {
		return model.Product{}, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return model.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

// flakyStorage wraps a real store and can be told to fail writes.
type flakyStorage struct {
	cartstore.ICartStore
	failSave bool
	saves    int
}

func (f *flakyStorage) SaveCart(ctx context.Context, key string, lines []model.Product) error {
	f.saves++
	if f.failSave {
		return errors.New("disk full")
	}
	return f.ICartStore.SaveCart(ctx, key, lines)
}

type recordingPublisher struct {
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return p.err
}

// ---- harness ----

var (
	sneaker = model.Product{ID: 1, Title: "Tênis de Caminhada Leve Confortável", Price: decimal.RequireFromString("179.90"), Image: "tenis1.jpg"}
	runner  = model.Product{ID: 2, Title: "Tênis VR Caminhada", Price: decimal.RequireFromString("139.90"), Image: "tenis2.jpg"}
)

type harness struct {
	store     *Store
	stock     *fakeStock
	catalog   *fakeCatalog
	storage   *flakyStorage
	notes     *notify.Recorder
	publisher *recordingPublisher
}

func newHarness(t *testing.T, persisted []model.Product) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()

	storage := &flakyStorage{ICartStore: cartstore.NewLocalCartStore(log)}
	if persisted != nil {
		if err := storage.ICartStore.SaveCart(context.Background(), cartstore.DefaultKey, persisted); err != nil {
			t.Fatalf("seed storage: %v", err)
		}
	}

	h := &harness{
		stock:     &fakeStock{amount: map[int64]int{1: 3, 2: 1}},
		catalog:   &fakeCatalog{products: map[int64]model.Product{1: sneaker, 2: runner}},
		storage:   storage,
		notes:     &notify.Recorder{},
		publisher: &recordingPublisher{},
	}
	s, err := NewStore(context.Background(), Options{
		Stock:     h.stock,
		Catalog:   h.catalog,
		Storage:   storage,
		Notifier:  h.notes,
		Publisher: h.publisher,
		Log:       log,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	h.store = s
	return h
}

func line(p model.Product, amount int) model.Product {
	p.Amount = amount
	return p
}

// persisted reads the slot back from the underlying storage.
func (h *harness) persisted(t *testing.T) []model.Product {
	t.Helper()
	lines, err := h.storage.GetCart(context.Background(), cartstore.DefaultKey)
	if err != nil {
		t.Fatalf("read storage: %v", err)
	}
	return lines
}

func (h *harness) expectCart(t *testing.T, want []model.Product) {
	t.Helper()
	if diff := cmp.Diff(want, h.store.Cart()); diff != "" {
		t.Fatalf("cart mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, h.persisted(t)); diff != "" {
		t.Fatalf("persisted cart mismatch (-want +got):\n%s", diff)
	}
}

func (h *harness) expectNotes(t *testing.T, want ...notify.Kind) {
	t.Helper()
	got := h.notes.Notifications()
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Fatalf("notification %d: expected kind %s, got %s", i, want[i], got[i].Kind)
		}
	}
}

// ---- tests ----

func TestNewStoreStartsEmpty(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.store.Cart(); got == nil || len(got) != 0 {
		t.Fatalf("expected empty cart, got %#v", got)
	}
	if h.store.Key() != cartstore.DefaultKey {
		t.Fatalf("expected default key, got %q", h.store.Key())
	}
}

func TestNewStoreRestoresPersistedCart(t *testing.T) {
	persisted := []model.Product{line(runner, 1), line(sneaker, 2)}
	h := newHarness(t, persisted)
	if diff := cmp.Diff(persisted, h.store.Cart()); diff != "" {
		t.Fatalf("restored cart mismatch (-want +got):\n%s", diff)
	}
}

type corruptStorage struct{ cartstore.ICartStore }

func (corruptStorage) GetCart(context.Context, string) ([]model.Product, error) {
	return nil, cartstore.ErrCorrupt
}

type brokenStorage struct{ cartstore.ICartStore }

func (brokenStorage) GetCart(context.Context, string) ([]model.Product, error) {
	return nil, errors.New("connection refused")
}

func TestNewStoreLoadFailures(t *testing.T) {
	log, hook := test.NewNullLogger()
	base := cartstore.NewLocalCartStore(log)
	opts := Options{Stock: &fakeStock{}, Catalog: &fakeCatalog{}, Log: log}

	opts.Storage = corruptStorage{base}
	s, err := NewStore(context.Background(), opts)
	if err != nil {
		t.Fatalf("corrupt slot must not fail startup: %v", err)
	}
	if len(s.Cart()) != 0 {
		t.Fatalf("expected empty cart after corrupt slot")
	}
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Message == "discarding unreadable persisted cart" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning about the corrupt slot")
	}

	opts.Storage = brokenStorage{base}
	if _, err := NewStore(context.Background(), opts); err == nil {
		t.Fatalf("expected error when storage is unreachable")
	}

	if _, err := NewStore(context.Background(), Options{Log: log}); err == nil {
		t.Fatalf("expected error for missing collaborators")
	}
}

func TestAddProductNew(t *testing.T) {
	h := newHarness(t, nil)
	h.store.AddProduct(context.Background(), 1)

	h.expectCart(t, []model.Product{line(sneaker, 1)})
	h.expectNotes(t)
	if len(h.publisher.events) != 1 || h.publisher.events[0].Type != events.ProductAdded || h.publisher.events[0].Amount != 1 {
		t.Fatalf("unexpected events %+v", h.publisher.events)
	}
}

func TestAddProductIncrementsExisting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddProduct(ctx, 1)
	h.store.AddProduct(ctx, 2)
	h.store.AddProduct(ctx, 1)

	// Insertion order is kept when a line is incremented.
	h.expectCart(t, []model.Product{line(sneaker, 2), line(runner, 1)})
	if h.catalog.calls != 2 {
		t.Fatalf("catalog must only be queried on first add, got %d calls", h.catalog.calls)
	}
	h.expectNotes(t)
}

func TestAddProductOutOfStock(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddProduct(ctx, 2) // stock 1
	h.store.AddProduct(ctx, 2)

	h.expectCart(t, []model.Product{line(runner, 1)})
	h.expectNotes(t, notify.KindOutOfStock)
	if got := h.notes.Notifications()[0].Message; got != notify.MsgOutOfStock {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAddProductZeroStockNeverAdds(t *testing.T) {
	h := newHarness(t, nil)
	h.stock.amount[1] = 0
	h.store.AddProduct(context.Background(), 1)

	h.expectCart(t, []model.Product{})
	h.expectNotes(t, notify.KindOutOfStock)
	if h.catalog.calls != 0 {
		t.Fatalf("catalog must not be queried when out of stock")
	}
}

func TestAddProductLookupFailures(t *testing.T) {
	cases := map[string]func(h *harness){
		"stock error":       func(h *harness) { h.stock.err = errors.New("network down") },
		"stock not found":   func(h *harness) { delete(h.stock.amount, 1) },
		"catalog error":     func(h *harness) { h.catalog.err = errors.New("timeout") },
		"catalog not found": func(h *harness) { delete(h.catalog.products, 1) },
		"persist error":     func(h *harness) { h.storage.failSave = true },
	}
	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, nil)
			breakIt(h)
			h.store.AddProduct(context.Background(), 1)

			h.expectCart(t, []model.Product{})
			h.expectNotes(t, notify.KindFailure)
			if got := h.notes.Notifications()[0].Message; got != notify.MsgAddFailed {
				t.Fatalf("unexpected message %q", got)
			}
			if len(h.publisher.events) != 0 {
				t.Fatalf("no event expected on failure")
			}
		})
	}
}

func TestAddProductPersistFailureKeepsExistingLine(t *testing.T) {
	h := newHarness(t, []model.Product{line(sneaker, 1)})
	h.storage.failSave = true
	h.store.AddProduct(context.Background(), 1)

	h.expectCart(t, []model.Product{line(sneaker, 1)})
	h.expectNotes(t, notify.KindFailure)
}

func TestRemoveProduct(t *testing.T) {
	h := newHarness(t, []model.Product{line(sneaker, 2), line(runner, 1)})
	h.store.RemoveProduct(context.Background(), 1)

	h.expectCart(t, []model.Product{line(runner, 1)})
	h.expectNotes(t)
	if len(h.publisher.events) != 1 || h.publisher.events[0].Type != events.ProductRemoved {
		t.Fatalf("unexpected events %+v", h.publisher.events)
	}
}

func TestRemoveProductAbsent(t *testing.T) {
	h := newHarness(t, []model.Product{line(runner, 1)})
	h.store.RemoveProduct(context.Background(), 1)

	h.expectCart(t, []model.Product{line(runner, 1)})
	h.expectNotes(t, notify.KindNotFound)
	if got := h.notes.Notifications()[0].Message; got != notify.MsgRemoveFailed {
		t.Fatalf("unexpected message %q", got)
	}
	if h.storage.saves != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestRemoveProductPersistFailure(t *testing.T) {
	h := newHarness(t, []model.Product{line(runner, 1)})
	h.storage.failSave = true
	h.store.RemoveProduct(context.Background(), 2)

	h.expectCart(t, []model.Product{line(runner, 1)})
	h.expectNotes(t, notify.KindFailure)
}

func TestUpdateProductAmount(t *testing.T) {
	h := newHarness(t, []model.Product{line(sneaker, 1), line(runner, 1)})
	h.store.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 1, Amount: 3})

	h.expectCart(t, []model.Product{line(sneaker, 3), line(runner, 1)})
	h.expectNotes(t)
	if len(h.publisher.events) != 1 || h.publisher.events[0].Amount != 3 {
		t.Fatalf("unexpected events %+v", h.publisher.events)
	}
}

func TestUpdateProductAmountRejections(t *testing.T) {
	cases := []struct {
		name       string
		req        UpdateProductAmount
		prepare    func(h *harness)
		kind       notify.Kind
		msg        string
		stockCalls int
	}{
		{name: "zero", req: UpdateProductAmount{ProductID: 1, Amount: 0}, kind: notify.KindInvalidAmount, msg: notify.MsgUpdateFailed},
		{name: "negative", req: UpdateProductAmount{ProductID: 1, Amount: -2}, kind: notify.KindInvalidAmount, msg: notify.MsgUpdateFailed},
		{name: "over stock", req: UpdateProductAmount{ProductID: 1, Amount: 4}, kind: notify.KindOutOfStock, msg: notify.MsgOutOfStock, stockCalls: 1},
		{name: "absent line", req: UpdateProductAmount{ProductID: 2, Amount: 1}, kind: notify.KindNotFound, msg: notify.MsgUpdateFailed},
		{
			name: "stock failure", req: UpdateProductAmount{ProductID: 1, Amount: 2},
			prepare: func(h *harness) { h.stock.err = errors.New("503") },
			kind:    notify.KindFailure, msg: notify.MsgUpdateFailed, stockCalls: 1,
		},
		{
			name: "persist failure", req: UpdateProductAmount{ProductID: 1, Amount: 2},
			prepare: func(h *harness) { h.storage.failSave = true },
			kind:    notify.KindFailure, msg: notify.MsgUpdateFailed, stockCalls: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, []model.Product{line(sneaker, 1)})
			if tc.prepare != nil {
				tc.prepare(h)
			}
			h.store.UpdateProductAmount(context.Background(), tc.req)

			h.expectCart(t, []model.Product{line(sneaker, 1)})
			h.expectNotes(t, tc.kind)
			if got := h.notes.Notifications()[0].Message; got != tc.msg {
				t.Fatalf("expected message %q, got %q", tc.msg, got)
			}
			if h.stock.calls != tc.stockCalls {
				t.Fatalf("expected %d stock calls, got %d", tc.stockCalls, h.stock.calls)
			}
		})
	}
}

func TestUpdateProductAmountEqualToStock(t *testing.T) {
	h := newHarness(t, []model.Product{line(sneaker, 1)})
	h.store.UpdateProductAmount(context.Background(), UpdateProductAmount{ProductID: 1, Amount: 3})
	h.expectCart(t, []model.Product{line(sneaker, 3)})
}

func TestCartReturnsCopy(t *testing.T) {
	h := newHarness(t, []model.Product{line(sneaker, 1)})
	c := h.store.Cart()
	c[0].Amount = 99
	if h.store.Cart()[0].Amount != 1 {
		t.Fatalf("Cart must not expose internal state")
	}
}

func TestSummary(t *testing.T) {
	h := newHarness(t, []model.Product{line(sneaker, 2), line(runner, 1)})
	s := h.store.Summary()
	if s.Size != 2 {
		t.Fatalf("expected size 2, got %d", s.Size)
	}
	if !s.Total.Equal(decimal.RequireFromString("499.70")) {
		t.Fatalf("unexpected total %s", s.Total)
	}
}

func TestPublishFailureDoesNotAffectCart(t *testing.T) {
	h := newHarness(t, nil)
	h.publisher.err = errors.New("broker down")
	h.store.AddProduct(context.Background(), 1)

	h.expectCart(t, []model.Product{line(sneaker, 1)})
	h.expectNotes(t)
}

func TestNotificationsReachRequestRecorder(t *testing.T) {
	h := newHarness(t, nil)
	ctx, scoped := notify.WithRecorder(context.Background())
	h.store.RemoveProduct(ctx, 1)

	if got := scoped.Notifications(); len(got) != 1 || got[0].Kind != notify.KindNotFound {
		t.Fatalf("expected scoped recorder to see the notification, got %+v", got)
	}
}

func TestConcurrentAddsRespectStock(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.store.AddProduct(ctx, 1)
		}()
	}
	wg.Wait()

	h.expectCart(t, []model.Product{line(sneaker, 3)})
	if got := len(h.notes.Notifications()); got != 7 {
		t.Fatalf("expected 7 out-of-stock notifications, got %d", got)
	}
}

func TestRoundTripThroughStorage(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.store.AddProduct(ctx, 2)
	h.store.AddProduct(ctx, 1)
	h.store.AddProduct(ctx, 1)

	reloaded, err := NewStore(ctx, Options{
		Stock:   h.stock,
		Catalog: h.catalog,
		Storage: h.storage,
	})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if diff := cmp.Diff(h.store.Cart(), reloaded.Cart()); diff != "" {
		t.Fatalf("reloaded cart mismatch (-want +got):\n%s", diff)
	}
}

func TestCorruptFileSlotRecoversOnFirstWrite(t *testing.T) {
	log, _ := test.NewNullLogger()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cart.json")
	if err := os.WriteFile(path, []byte(`{"@RocketShoes:cart": [`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	storage := cartstore.NewFileCartStore(path, log)
	notes := &notify.Recorder{}
	s, err := NewStore(ctx, Options{
		Stock:    &fakeStock{amount: map[int64]int{1: 5}},
		Catalog:  &fakeCatalog{products: map[int64]model.Product{1: sneaker}},
		Storage:  storage,
		Notifier: notes,
		Log:      log,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.AddProduct(ctx, 1)
	}

	want := []model.Product{line(sneaker, 3)}
	if diff := cmp.Diff(want, s.Cart()); diff != "" {
		t.Fatalf("cart mismatch (-want +got):\n%s", diff)
	}
	if got := notes.Notifications(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %+v", got)
	}
	persisted, err := storage.GetCart(ctx, cartstore.DefaultKey)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if diff := cmp.Diff(want, persisted); diff != "" {
		t.Fatalf("persisted cart mismatch (-want +got):\n%s", diff)
	}
}

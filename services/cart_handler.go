package services

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/norun9/storefront-cart/cart"
	"github.com/norun9/storefront-cart/model"
	"github.com/norun9/storefront-cart/notify"
	"github.com/sirupsen/logrus"
)

// CartManager is the part of cart.Store the HTTP API drives.
type CartManager interface {
	Cart() []model.Product
	AddProduct(ctx context.Context, productID int64)
	RemoveProduct(ctx context.Context, productID int64)
	UpdateProductAmount(ctx context.Context, req cart.UpdateProductAmount)
}

// CartHandler exposes a CartManager over HTTP.
type CartHandler struct {
	cart CartManager
	log  logrus.FieldLogger
}

// NewCartHandler returns a CartHandler for c.
func NewCartHandler(c CartManager, log logrus.FieldLogger) *CartHandler {
	return &CartHandler{cart: c, log: log}
}

// RegisterRoutes mounts the cart routes on r.
func (h *CartHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/cart", h.GetCart).Methods(http.MethodGet)
	r.HandleFunc("/cart/products/{id:[0-9]+}", h.AddProduct).Methods(http.MethodPost)
	r.HandleFunc("/cart/products/{id:[0-9]+}", h.RemoveProduct).Methods(http.MethodDelete)
	r.HandleFunc("/cart/products/{id:[0-9]+}", h.UpdateProductAmount).Methods(http.MethodPut)
}

type cartResponse struct {
	Products      []model.Product       `json:"products"`
	Summary       model.Summary         `json:"summary"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
}

type updateAmountReq struct {
	Amount int `json:"amount"`
}

// GetCart handles GET /cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot(nil))
}

// AddProduct handles POST /cart/products/{id}
func (h *CartHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(ctx context.Context) { h.cart.AddProduct(ctx, id) })
}

// RemoveProduct handles DELETE /cart/products/{id}
func (h *CartHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, func(ctx context.Context) { h.cart.RemoveProduct(ctx, id) })
}

// UpdateProductAmount handles PUT /cart/products/{id}
func (h *CartHandler) UpdateProductAmount(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req updateAmountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.WithError(err).WithField("product_id", id).Debug("rejecting amount update body")
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	h.mutate(w, r, func(ctx context.Context) {
		h.cart.UpdateProductAmount(ctx, cart.UpdateProductAmount{ProductID: id, Amount: req.Amount})
	})
}

// mutate runs fn with a request-scoped recorder and answers 409 if it
// produced any notification.
func (h *CartHandler) mutate(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context)) {
	ctx, rec := notify.WithRecorder(r.Context())
	fn(ctx)

	notes := rec.Notifications()
	code := http.StatusOK
	if len(notes) > 0 {
		code = http.StatusConflict
	}
	writeJSON(w, code, h.snapshot(notes))
}

// snapshot summarizes a single read of the cart so products and totals agree.
func (h *CartHandler) snapshot(notes []notify.Notification) cartResponse {
	lines := h.cart.Cart()
	return cartResponse{
		Products:      lines,
		Summary:       model.Summarize(lines),
		Notifications: notes,
	}
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

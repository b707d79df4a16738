package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/norun9/storefront-cart/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Client talks to the storefront API over HTTP (GET /stock/{id}, GET /products/{id}).
// It implements both StockService and ProductCatalog.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	log     logrus.FieldLogger
}

// NewClient returns a client rooted at baseURL. A zero timeout means requests
// are bounded only by their context.
func NewClient(baseURL string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tracer:  otel.Tracer("cartservice/catalog"),
		log:     log,
	}
}

// Stock implements StockService.
func (c *Client) Stock(ctx context.Context, productID int64) (model.Stock, error) {
	var s model.Stock
	if err := c.get(ctx, "GetStock", fmt.Sprintf("/stock/%d", productID), productID, &s); err != nil {
		return model.Stock{}, err
	}
	return s, nil
}

// Product implements ProductCatalog.
func (c *Client) Product(ctx context.Context, productID int64) (model.Product, error) {
	var p model.Product
	if err := c.get(ctx, "GetProduct", fmt.Sprintf("/products/%d", productID), productID, &p); err != nil {
		return model.Product{}, err
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, spanName, path string, productID int64, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int64("app.product_id", productID))

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "build request %s", url)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "GET %s", url)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.log.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode}).Debug("catalog request completed")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		span.SetStatus(codes.Error, "not found")
		return errors.Wrapf(ErrNotFound, "GET %s", url)
	case resp.StatusCode != http.StatusOK:
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "GET %s", url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "decode %s", url)
	}
	return nil
}

package services

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// RouteRegistrar is anything that mounts routes on a router.
type RouteRegistrar interface {
	RegisterRoutes(r *mux.Router)
}

// NewRouter builds the HTTP API: health, metrics, the cart routes and any
// extra registrars (the local stock/catalog API, when enabled).
func NewRouter(serviceName string, cart *CartHandler, health http.Handler, m *ServerMetrics, log logrus.FieldLogger, extra ...RouteRegistrar) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/_healthz", health).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(otelmux.Middleware(serviceName))
	api.Use(LogRequests(log))
	api.Use(m.Middleware)
	cart.RegisterRoutes(api)
	for _, x := range extra {
		x.RegisterRoutes(api)
	}
	return r
}

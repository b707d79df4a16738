package services

import (
	"context"
	"net/http"
	"time"

	"github.com/norun9/storefront-cart/cartstore"
	"github.com/sirupsen/logrus"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// watchInterval is how often Watch re-checks the store.
var watchInterval = 5 * time.Second

// HealthCheckService reports SERVING while the cart store answers pings.
type HealthCheckService struct {
	healthpb.UnimplementedHealthServer
	store cartstore.ICartStore
	log   logrus.FieldLogger
}

// NewHealthCheckService constructor
func NewHealthCheckService(store cartstore.ICartStore, log logrus.FieldLogger) *HealthCheckService {
	return &HealthCheckService{store: store, log: log}
}

func (h *HealthCheckService) status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if h.store.Ping(ctx) {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Check pings the store once.
func (h *HealthCheckService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	st := h.status(ctx)
	h.log.WithField("status", st.String()).Debug("health check")
	return &healthpb.HealthCheckResponse{Status: st}, nil
}

// Watch streams the status whenever it changes, starting with the current one.
func (h *HealthCheckService) Watch(req *healthpb.HealthCheckRequest, stream healthpb.Health_WatchServer) error {
	ctx := stream.Context()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		if st := h.status(ctx); st != last {
			if err := stream.Send(&healthpb.HealthCheckResponse{Status: st}); err != nil {
				return err
			}
			last = st
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ServeHTTP answers GET /_healthz with 200 or 503.
func (h *HealthCheckService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.status(r.Context()) != healthpb.HealthCheckResponse_SERVING {
		writeErr(w, http.StatusServiceUnavailable, "cart store unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}

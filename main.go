package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/norun9/storefront-cart/cart"
	"github.com/norun9/storefront-cart/cartstore"
	"github.com/norun9/storefront-cart/catalog"
	"github.com/norun9/storefront-cart/config"
	"github.com/norun9/storefront-cart/events"
	"github.com/norun9/storefront-cart/logging"
	"github.com/norun9/storefront-cart/mq"
	"github.com/norun9/storefront-cart/notify"
	"github.com/norun9/storefront-cart/services"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("cartservice exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	// ----------------------------------------------------------------
	// 1) OpenTelemetry
	shutdownTracing, err := initTracerProvider(ctx, cfg.Otel)
	if err != nil {
		return err
	}
	shutdownMetrics, err := initMeterProvider(ctx, cfg.Otel)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			log.WithError(err).Error("error shutting down meter provider")
		}
		if err := shutdownTracing(sctx); err != nil {
			log.WithError(err).Error("error shutting down tracer provider")
		}
	}()
	log.WithField("exporter", cfg.Otel.Exporter).Info("telemetry initialized")

	// ----------------------------------------------------------------
	// 2) cart storage
	storage, closeStorage, err := newCartStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage()
	if err := storage.Initialize(ctx); err != nil {
		return errors.Wrap(err, "initialize cart storage")
	}

	// ----------------------------------------------------------------
	// 3) stock and product catalog
	var (
		stock    catalog.StockService
		products catalog.ProductCatalog
		extra    []services.RouteRegistrar
	)
	switch cfg.Catalog.Backend {
	case config.CatalogHTTP:
		client := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, log)
		stock, products = client, client
		log.WithField("base_url", cfg.Catalog.BaseURL).Info("using remote stock and catalog API")
	case config.CatalogLocal:
		inv, err := catalog.LoadInventoryFile(cfg.Catalog.SeedFile)
		if err != nil {
			return err
		}
		stock, products = inv, inv
		extra = append(extra, catalog.NewHandler(inv))
		log.WithField("seed_file", cfg.Catalog.SeedFile).Info("serving local stock and catalog API")
	}

	// ----------------------------------------------------------------
	// 4) notifications and cart events
	var notifier notify.Notifier = notify.LogNotifier{Log: log}
	var publisher events.Publisher = events.NoopPublisher{}
	if brokers := mq.ParseBrokers(cfg.Kafka.Brokers); len(brokers) > 0 {
		producer := mq.NewProducer(brokers, log)
		defer func() {
			if err := producer.Close(); err != nil {
				log.WithError(err).Error("error closing kafka producer")
			}
		}()
		publisher = events.NewKafkaPublisher(producer, cfg.Kafka.EventsTopic)
		notifier = notify.Multi{notifier, notify.NewKafkaNotifier(producer, cfg.Kafka.NotificationsTopic, log)}
		log.WithField("brokers", brokers).Info("publishing cart events to kafka")
	}

	// ----------------------------------------------------------------
	// 5) cart store
	store, err := cart.NewStore(ctx, cart.Options{
		Key:       cfg.Storage.Key,
		Stock:     stock,
		Catalog:   products,
		Storage:   storage,
		Notifier:  notifier,
		Publisher: publisher,
		Log:       log,
	})
	if err != nil {
		return err
	}

	// ----------------------------------------------------------------
	// 6) servers
	health := services.NewHealthCheckService(storage, log)
	router := services.NewRouter(cfg.Otel.ServiceName, services.NewCartHandler(store, log), health, services.NewServerMetrics(), log, extra...)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthpb.RegisterHealthServer(grpcSrv, health)
	reflection.Register(grpcSrv)
	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return errors.Wrapf(err, "listen on :%s", cfg.Server.GRPCPort)
	}

	errc := make(chan error, 2)
	go func() {
		log.WithField("addr", httpSrv.Addr).Info("cart HTTP API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Wrap(err, "serve http")
		}
	}()
	go func() {
		log.WithField("addr", lis.Addr().String()).Info("gRPC health server listening")
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- errors.Wrap(err, "serve grpc")
		}
	}()

	// ----------------------------------------------------------------
	// 7) graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal, initiating graceful shutdown...")
	case err = <-errc:
		log.WithError(err).Error("server failed, shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(sctx); serr != nil {
		log.WithError(serr).Error("error shutting down HTTP server")
	}
	grpcSrv.GracefulStop()
	return err
}

// newCartStore picks the durable slot backend. The returned close func is never nil.
func newCartStore(cfg *config.Config, log logrus.FieldLogger) (cartstore.ICartStore, func(), error) {
	noop := func() {}
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		log.Warn("using in-memory cart storage; carts are lost on restart")
		return cartstore.NewLocalCartStore(log), noop, nil
	case config.StorageFile:
		log.WithField("path", cfg.Storage.FilePath).Info("using file cart storage")
		return cartstore.NewFileCartStore(cfg.Storage.FilePath, log), noop, nil
	case config.StorageRedis:
		addr := cfg.Redis.Addr
		if !strings.Contains(addr, "://") && !strings.Contains(addr, ":") {
			addr += ":6379"
		}
		log.WithField("addr", addr).Info("using redis cart storage")
		rs := cartstore.NewRedisCartStore(addr, log)
		return rs, func() {
			if err := rs.Close(); err != nil {
				log.WithError(err).Error("error closing redis client")
			}
		}, nil
	}
	return nil, nil, errors.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

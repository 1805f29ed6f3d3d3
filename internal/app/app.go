// Package app wires configuration into a running registry: the substrate
// backend, the service, the HTTP router and the optional Kafka relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"soulid/internal/identity/handler"
	identitymetrics "soulid/internal/identity/metrics"
	"soulid/internal/identity/relay"
	"soulid/internal/identity/service"
	soulnames "soulid/internal/identity/store/names"
	"soulid/internal/identity/uri"
	jwttoken "soulid/internal/jwt_token"
	"soulid/internal/kv"
	"soulid/internal/platform/config"
	"soulid/internal/platform/httpserver"
	"soulid/internal/platform/kafka"
	"soulid/internal/platform/metrics"
	"soulid/internal/platform/postgres"
	redisclient "soulid/internal/platform/redis"
	id "soulid/pkg/domain"
	"soulid/pkg/platform/circuit"
	"soulid/pkg/platform/httputil"
)

// relayFailureThreshold is how many consecutive publish failures put the
// relay into single-event probing.
const relayFailureThreshold = 3

// App is a fully wired registry process.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    kv.Store
	service  *service.Service
	registry *prometheus.Registry
	router   http.Handler
	producer *kafka.Producer
	relay    *relay.Relay
	closers  []func() error
}

// New builds every component cfg asks for and seeds the operator.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, registry: metrics.NewRegistry()}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	var err error
	a.store, err = a.openStore(ctx)
	if err != nil {
		return err
	}

	operator, err := id.ParseAddress(cfg.Registry.Operator)
	if err != nil {
		return fmt.Errorf("SOULID_OPERATOR: %w", err)
	}
	resolver, err := uri.New(cfg.Registry.BaseURI)
	if err != nil {
		return fmt.Errorf("SOULID_BASE_URI: %w", err)
	}
	configured, err := cfg.Registry.Registries()
	if err != nil {
		return err
	}
	registries := make([]*soulnames.Registry, 0, len(configured))
	for _, c := range configured {
		r, err := soulnames.New(c.Namespace, c.Extension)
		if err != nil {
			return fmt.Errorf("name registry %s: %w", c.Namespace, err)
		}
		registries = append(registries, r)
	}

	identityMetrics := identitymetrics.New(a.registry)
	a.service, err = service.New(a.store, resolver, registries,
		service.WithLogger(logger),
		service.WithMetrics(identityMetrics),
		service.WithCollection(cfg.Registry.CollectionName, cfg.Registry.Symbol),
		service.WithDefaultNameRegistry(cfg.Registry.DefaultNameRegistry),
	)
	if err != nil {
		return err
	}
	if err := a.service.Bootstrap(ctx, operator); err != nil {
		return fmt.Errorf("bootstrap operator: %w", err)
	}

	if err := a.openRelay(ctx, identityMetrics); err != nil {
		return err
	}

	verifier := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer))
	r := chi.NewRouter()
	handler.New(a.service, verifier, logger).Register(r)
	r.Get("/health", a.handleHealth)
	r.Handle("/metrics", metrics.Handler(a.registry))
	a.router = r
	return nil
}

func (a *App) openStore(ctx context.Context) (kv.Store, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if a.cfg.Postgres.AutoMigrate {
			if err := postgres.Migrate(db, a.logger); err != nil {
				return nil, err
			}
		}
		a.logger.InfoContext(ctx, "storage backend selected", "backend", config.BackendPostgres)
		return kv.NewPostgres(db, kv.WithPostgresTimeout(a.cfg.Storage.TxTimeout)), nil
	case config.BackendRedis:
		client, err := redisclient.New(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.logger.InfoContext(ctx, "storage backend selected", "backend", config.BackendRedis, "prefix", a.cfg.Redis.KeyPrefix)
		return kv.NewRedis(client.Client,
			kv.WithRedisPrefix(a.cfg.Redis.KeyPrefix),
			kv.WithRedisTimeout(a.cfg.Storage.TxTimeout),
		), nil
	case config.BackendMemory:
		a.logger.WarnContext(ctx, "storage backend selected; state is lost on restart", "backend", config.BackendMemory)
		return kv.NewInMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
}

func (a *App) openRelay(ctx context.Context, m *identitymetrics.Metrics) error {
	producer, err := kafka.NewProducer(a.cfg.Kafka)
	if err != nil {
		return err
	}
	if producer == nil {
		a.logger.InfoContext(ctx, "event relay disabled; no kafka brokers configured")
		return nil
	}
	a.producer = producer
	a.closers = append(a.closers, func() error { producer.Close(); return nil })
	if err := producer.EnsureTopic(ctx, a.cfg.Kafka.Partitions, a.cfg.Kafka.Replication); err != nil {
		return err
	}
	a.relay, err = relay.New(a.store, producer,
		relay.WithInterval(a.cfg.Kafka.RelayInterval),
		relay.WithBatchSize(a.cfg.Kafka.RelayBatch),
		relay.WithLogger(a.logger),
		relay.WithMetrics(m),
		relay.WithBreaker(circuit.New("kafka", circuit.WithFailureThreshold(relayFailureThreshold))),
	)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "event relay enabled", "topic", producer.Topic())
	return nil
}

// Router returns the HTTP handler serving /v1, /health and /metrics.
func (a *App) Router() http.Handler {
	return a.router
}

// Service returns the registry facade.
func (a *App) Service() *service.Service {
	return a.service
}

// Run serves HTTP and relays events until ctx is done or either fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	srv := httpserver.New(a.cfg.Server.Addr, a.router)
	g.Go(func() error {
		a.logger.InfoContext(ctx, "http server listening", "addr", a.cfg.Server.Addr)
		return httpserver.Run(ctx, srv, a.cfg.Server.ShutdownTimeout)
	})
	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(ctx)
		})
	}
	return g.Wait()
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
	Kafka   string `json:"kafka,omitempty"`
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok", Storage: "ok"}
	status := http.StatusOK
	if _, err := a.service.Count(ctx); err != nil {
		a.logger.WarnContext(ctx, "health check: storage unreachable", "error", err)
		resp.Status, resp.Storage, status = "degraded", "unreachable", http.StatusServiceUnavailable
	}
	if a.producer != nil {
		resp.Kafka = "ok"
		if err := a.producer.Ping(ctx); err != nil {
			a.logger.WarnContext(ctx, "health check: kafka unreachable", "error", err)
			resp.Status, resp.Kafka, status = "degraded", "unreachable", http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, status, resp)
}

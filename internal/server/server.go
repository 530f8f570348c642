package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/audit"
	"github.com/raakeshmj/nfcverify/internal/cache"
	"github.com/raakeshmj/nfcverify/internal/circuitbreaker"
	"github.com/raakeshmj/nfcverify/internal/config"
	"github.com/raakeshmj/nfcverify/internal/limiter"
	"github.com/raakeshmj/nfcverify/internal/logging"
	"github.com/raakeshmj/nfcverify/internal/metrics"
	"github.com/raakeshmj/nfcverify/internal/middleware"
	"github.com/raakeshmj/nfcverify/internal/receipt"
	"github.com/raakeshmj/nfcverify/internal/repository"
	"github.com/raakeshmj/nfcverify/internal/sdm"
	"github.com/raakeshmj/nfcverify/internal/service"
)

// Version is reported by /health; set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

// Deps are the collaborators the HTTP layer is built on.
type Deps struct {
	Store   repository.Store
	Cache   cache.Client
	Backend service.Backend
	Metrics *metrics.Collector
	Audit   audit.Logger
	// Signer is optional; without it no receipts are issued.
	Signer *receipt.Signer
}

type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    repository.Store
	cache    cache.Client
	keys     *service.KeyService
	verifier *service.VerificationService
	limiter  *limiter.FixedWindowLimiter
	metrics  *metrics.Collector
	audit    audit.Logger
	signer   *receipt.Signer
	router   chi.Router
}

// New is the composition root: it opens the configured store and cache and
// wires every component.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c := OpenCache(ctx, cfg, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.NewCollector(reg)

	breaker := circuitbreaker.New(c, cfg.BreakerFailures, cfg.BreakerCooldown)
	backend := sdm.NewClient(cfg.SDMBackendURL, cfg.SDMBackendTimeout, breaker, logger)

	var signer *receipt.Signer
	if cfg.ReceiptSecret != "" {
		signer = receipt.NewSigner(cfg.ReceiptSecret, cfg.ReceiptTTL)
	}

	return NewWithDeps(cfg, logger, Deps{
		Store:   store,
		Cache:   c,
		Backend: backend,
		Metrics: met,
		Audit:   audit.NewZapLogger(logger),
		Signer:  signer,
	}), nil
}

// NewWithDeps builds the server on explicit collaborators.
func NewWithDeps(cfg *config.Config, logger *zap.Logger, d Deps) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger.With(logging.Component("http")),
		store:   d.Store,
		cache:   d.Cache,
		metrics: d.Metrics,
		audit:   d.Audit,
		signer:  d.Signer,
	}
	if s.audit == nil {
		s.audit = audit.NewZapLogger(logger)
	}

	s.keys = service.NewKeyService(d.Store, d.Cache, cfg.APIKeyCacheTTL, d.Metrics, logger)
	s.verifier = service.NewVerificationService(d.Backend, d.Store, d.Store, d.Cache, cfg.VerificationCacheTTL, d.Metrics, logger)
	s.limiter = limiter.NewFixedWindowLimiter(d.Cache, nil, cfg.RateLimitMax, cfg.RateLimitWindow, logger)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(s.metrics))
	r.Use(middleware.SecureHeaders(middleware.SecurityConfig{HSTS: !s.cfg.IsDevelopment()}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errRouteNotFound)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	rateLimit := middleware.RateLimit(s.limiter, s.metrics, s.logger, s.writeError)
	authMw := middleware.NewAuth(s.keys, s.writeError)

	// Order: RateLimit -> Auth -> Handler
	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return middleware.Chain(next, rateLimit, authMw.Require)
		})

		r.Route("/nfc", func(r chi.Router) {
			r.Post("/verify", s.handleVerify)
			r.Get("/stats/{tagId}", s.handleTagStats)
			r.Put("/config/{tagId}", s.handleTagConfig)
			r.Post("/receipts/verify", s.handleReceiptVerify)
		})
		r.Route("/auth", func(r chi.Router) {
			r.Post("/keys", s.handleCreateKey)
			r.Delete("/keys/{id}", s.handleRevokeKey)
		})
	})

	return r
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.ServerPort,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			zap.String("port", s.cfg.ServerPort),
			zap.String("env", s.cfg.Env),
			zap.String("store", s.cfg.StoreDriver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		s.logger.Info("shutdown started")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}

// Close releases the store and cache.
func (s *Server) Close() error {
	return errors.Join(s.store.Close(), s.cache.Close())
}

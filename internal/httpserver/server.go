package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/x402kit/facilitator/internal/auth"
	"github.com/x402kit/facilitator/internal/config"
	"github.com/x402kit/facilitator/internal/idempotency"
	"github.com/x402kit/facilitator/internal/ledger"
	"github.com/x402kit/facilitator/internal/logger"
	"github.com/x402kit/facilitator/internal/metrics"
	"github.com/x402kit/facilitator/internal/ratelimit"
	"github.com/x402kit/facilitator/internal/versioning"
	"github.com/x402kit/facilitator/pkg/facilitator"
)

var serverStartTime = time.Now()

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg         *config.Config
	facilitator *facilitator.Facilitator
	ledger      ledger.TransactionStore
	nonces      ledger.NonceStore
	priceTable  *PriceTable
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	adminAuth   *auth.SignatureVerifier
}

// New builds the HTTP server with configured router.
func New(cfg *config.Config, fac *facilitator.Facilitator, txStore ledger.TransactionStore, nonceStore ledger.NonceStore, priceTable *PriceTable, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:         cfg,
			facilitator: fac,
			ledger:      txStore,
			nonces:      nonceStore,
			priceTable:  priceTable,
			metrics:     metricsCollector,
			logger:      appLogger,
			adminAuth:   auth.NewSignatureVerifier(),
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, fac, txStore, nonceStore, priceTable, metricsCollector, appLogger)

	return s
}

// ConfigureRouter attaches facilitator routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, fac *facilitator.Facilitator, txStore ledger.TransactionStore, nonceStore ledger.NonceStore, priceTable *PriceTable, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	h := handlers{
		cfg:         cfg,
		facilitator: fac,
		ledger:      txStore,
		nonces:      nonceStore,
		priceTable:  priceTable,
		metrics:     metricsCollector,
		logger:      appLogger,
		adminAuth:   auth.NewSignatureVerifier(),
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Payment-Response"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(versioning.Negotiation)

	rateLimitCfg := ratelimit.Config{
		GlobalEnabled:    cfg.RateLimit.GlobalEnabled,
		GlobalLimit:      cfg.RateLimit.GlobalLimit,
		GlobalWindow:     cfg.RateLimit.GlobalWindow.Duration,
		GlobalBurst:      cfg.RateLimit.GlobalLimit / 10,
		PerWalletEnabled: cfg.RateLimit.PerWalletEnabled,
		PerWalletLimit:   cfg.RateLimit.PerWalletLimit,
		PerWalletWindow:  cfg.RateLimit.PerWalletWindow.Duration,
		PerWalletBurst:   cfg.RateLimit.PerWalletLimit / 6,
		PerIPEnabled:     cfg.RateLimit.PerIPEnabled,
		PerIPLimit:       cfg.RateLimit.PerIPLimit,
		PerIPWindow:      cfg.RateLimit.PerIPWindow.Duration,
		PerIPBurst:       cfg.RateLimit.PerIPLimit / 6,
		Metrics:          metricsCollector,
	}
	router.Use(ratelimit.GlobalLimiter(rateLimitCfg))
	router.Use(ratelimit.WalletLimiter(rateLimitCfg))
	router.Use(ratelimit.IPLimiter(rateLimitCfg))

	prefix := cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		r.Get(prefix+"/discovery/resources", h.discoveryResources)
		r.Get(prefix+"/supported", h.facilitatorSupported)
		r.With(adminMetricsAuth(cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.Handler())
		r.Post(prefix+"/admin/nonces/cleanup", h.adminCleanupNonces)
	})

	idempotencyMW := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.DefaultTTL)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.With(idempotencyMW).Post(prefix+"/verify", h.facilitatorVerify)
		r.With(idempotencyMW).Post(prefix+"/settle", h.facilitatorSettle)
	})

	registerResourceRoutes(router, h, prefix)
}

// registerResourceRoutes wraps every resource registered in the price table
// with the x402 challenge/verify/serve/settle Middleware, so a demo
// deployment of this binary also serves its own paid resources.
func registerResourceRoutes(router chi.Router, h handlers, prefix string) {
	mw := Middleware(h.facilitator, h.ledger, h.priceTable.Resolver())
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.With(mw).Get(prefix+"/resources/*", h.serveResourcePlaceholder)
	})
}

// serveResourcePlaceholder is the demo resource handler reached once
// Middleware has verified and begun settling payment for the request.
// A real deployment replaces this with the actual protected handler.
func (h *handlers) serveResourcePlaceholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"paid"}`))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

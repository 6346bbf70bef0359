package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/preston-bernstein/livescore-service/internal/app/scoreboard"
	"github.com/preston-bernstein/livescore-service/internal/auth"
	"github.com/preston-bernstein/livescore-service/internal/config"
	"github.com/preston-bernstein/livescore-service/internal/datastore"
	"github.com/preston-bernstein/livescore-service/internal/feed"
	httpserver "github.com/preston-bernstein/livescore-service/internal/http"
	"github.com/preston-bernstein/livescore-service/internal/http/handlers"
	"github.com/preston-bernstein/livescore-service/internal/http/middleware"
	"github.com/preston-bernstein/livescore-service/internal/logging"
	"github.com/preston-bernstein/livescore-service/internal/metrics"
	"github.com/preston-bernstein/livescore-service/internal/poller"
	"github.com/preston-bernstein/livescore-service/internal/timeutil"
)

var metricsSetup = metrics.Setup

type Server struct {
	cfg           config.Config
	logger        *slog.Logger
	metrics       *metrics.Recorder
	store         datastore.Store
	service       scoreService
	poller        Poller
	limiter       *middleware.RateLimiter
	httpServer    httpServer
	metricsServer httpServer
	metricsStop   func(context.Context) error
	closeStore    func()
}

// New constructs a server over the configured data store.
func New(cfg config.Config, logger *slog.Logger) *Server {
	return newServerWithMetrics(cfg, logger, nil, nil)
}

func newServerWithStore(cfg config.Config, logger *slog.Logger, store datastore.Store) *Server {
	return newServerWithMetrics(cfg, logger, store, nil)
}

func newServerWithMetrics(cfg config.Config, logger *slog.Logger, store datastore.Store, recorder *metrics.Recorder) *Server {
	if logger == nil {
		logger = logging.NewLogger(logging.Config{})
	}
	recorder, metricsSrv, metricsShutdown := buildMetrics(cfg, logger, recorder)

	var closeStore func()
	if store == nil {
		b := newStoreFactory(logger, recorder).build(context.Background(), cfg)
		store, closeStore = b.store, b.close
	} else {
		store = datastore.NewRetryingStore(store, logger, recorder, "injected", cfg.Retry.Attempts, cfg.Retry.Backoff)
	}

	svc := scoreboard.NewService(store, scoreboard.Config{
		Logger:        logger,
		Recorder:      recorder,
		Location:      timeutil.ResolveTimezone(cfg.DisplayTimezone),
		ReconcileWait: cfg.Feed.ReconcileWait,
	})
	tokens := auth.NewTokenManager(signingSecret(cfg, logger), cfg.Auth.Issuer, cfg.Auth.TokenTTL)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.PerSecond > 0 {
		limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			PerSecond: cfg.RateLimit.PerSecond,
			Burst:     cfg.RateLimit.Burst,
		}, logger)
	}

	httpSrv := buildHTTPServer(cfg, svc, store, tokens, limiter, logger, recorder)
	plr := poller.New(svc, logger, recorder, cfg.Feed.ResumeInterval)

	return &Server{
		cfg:           cfg,
		logger:        logger,
		metrics:       recorder,
		store:         store,
		service:       svc,
		poller:        plr,
		limiter:       limiter,
		httpServer:    httpSrv,
		metricsServer: metricsSrv,
		metricsStop:   metricsShutdown,
		closeStore:    closeStore,
	}
}

// signingSecret returns JWT_SECRET, or a random per-process secret when it
// is unset. Tokens signed with the random secret stop verifying on restart.
func signingSecret(cfg config.Config, logger *slog.Logger) string {
	if cfg.Auth.JWTSecret != "" {
		return cfg.Auth.JWTSecret
	}
	buf := make([]byte, config.MinJWTSecretLen)
	if _, err := rand.Read(buf); err != nil {
		panic("read random jwt secret: " + err.Error())
	}
	logging.Warn(logger, "JWT_SECRET unset, signing tokens with a per-process secret")
	return hex.EncodeToString(buf)
}

// newServerWithDeps is used for testing to inject custom components.
func newServerWithDeps(cfg config.Config, logger *slog.Logger, svc scoreService, httpSrv httpServer, plr Poller) *Server {
	return &Server{
		cfg:        cfg,
		logger:     logger,
		service:    svc,
		poller:     plr,
		httpServer: httpSrv,
	}
}

func buildHTTPServer(cfg config.Config, svc *scoreboard.Service, store datastore.Store, tokens *auth.TokenManager, limiter *middleware.RateLimiter, logger *slog.Logger, recorder *metrics.Recorder) httpServer {
	handler := handlers.NewHandler(svc, store, logger, func() feed.Status { return svc.Status() })

	var admin *handlers.AdminHandler
	if cfg.Auth.AdminToken != "" {
		admin = handlers.NewAdminHandler(tokens, cfg.Auth.AdminToken, logger)
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		Handler:    handler,
		Admin:      admin,
		Verifier:   tokens,
		Limiter:    limiter,
		Logger:     logger,
		Recorder:   recorder,
		TrustProxy: cfg.TrustProxy,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return newHTTPServer(srv, handler.CloseStreams)
}

// Run starts the HTTP server, the match feed and its poller, then waits for
// context cancellation to shut down gracefully.
func (s *Server) Run(ctx context.Context, stop context.CancelFunc) {
	s.startMetrics()
	s.startServer(stop)
	if err := s.service.Start(ctx); err != nil {
		logging.Error(s.logger, "match feed failed to start, poller will retry", err)
	}
	s.poller.Start(ctx)

	<-ctx.Done()
	logging.Info(s.logger, "shutdown signal received")

	s.gracefulShutdown()
}

func (s *Server) startServer(stop context.CancelFunc) {
	logging.Info(s.logger, "http server starting", slog.String("addr", s.httpServer.Addr()))
	launchServer("http", s.httpServer, s.logger, func(err error) {
		if stop != nil {
			stop()
		}
	})
}

func (s *Server) startMetrics() {
	if s.metricsServer == nil {
		return
	}
	logging.Info(s.logger, "metrics server starting", slog.String("addr", s.metricsServer.Addr()))
	launchServer("metrics", s.metricsServer, s.logger, nil)
}

func (s *Server) gracefulShutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.metricsStop != nil {
		if err := s.metricsStop(shutdownCtx); err != nil {
			logging.WarnErr(s.logger, "metrics shutdown failed", err)
		}
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			logging.WarnErr(s.logger, "metrics server shutdown failed", err)
		}
	}

	if err := s.poller.Stop(shutdownCtx); err != nil {
		logging.Error(s.logger, "failed to stop poller", err)
	}

	if err := s.service.Stop(shutdownCtx); err != nil {
		logging.Error(s.logger, "failed to stop match feed", err)
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logging.Error(s.logger, "graceful shutdown failed", err)
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	// Ends open realtime subscriptions and releases database connections.
	if s.closeStore != nil {
		s.closeStore()
	}

	logging.Info(s.logger, "shutdown complete")
}

func buildMetrics(cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (*metrics.Recorder, httpServer, func(context.Context) error) {
	if recorder != nil {
		return recorder, nil, nil
	}

	recCfg := metrics.TelemetryConfig{
		Enabled:      cfg.Metrics.Enabled,
		Port:         cfg.Metrics.Port,
		ServiceName:  cfg.Metrics.ServiceName,
		OtlpEndpoint: cfg.Metrics.OtlpEndpoint,
		OtlpInsecure: cfg.Metrics.OtlpInsecure,
	}

	rec, handler, shutdown, err := metricsSetup(context.Background(), recCfg)
	if err != nil {
		logging.WarnErr(logger, "metrics setup failed, continuing without telemetry", err)
		return metrics.NewRecorder(), nil, nil
	}
	if cfg.Metrics.OTLP() {
		logging.Info(logger, "exporting metrics over otlp", "endpoint", cfg.Metrics.OtlpEndpoint)
	}

	var metricsSrv httpServer
	if handler != nil && recCfg.Enabled {
		metricsSrv = newHTTPServer(&http.Server{
			Addr:              ":" + recCfg.Port,
			Handler:           handler,
			ReadHeaderTimeout: readTimeout,
		})
	}

	return rec, metricsSrv, shutdown
}

func launchServer(name string, srv httpServer, logger *slog.Logger, onError func(error)) {
	go func() {
		logging.Info(logger, "starting "+name+" server", slog.String("addr", srv.Addr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.WarnErr(logger, name+" server failed", err)
			if onError != nil {
				onError(err)
			}
		}
	}()
}

// Handler exposes the HTTP handler (useful for tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler()
}

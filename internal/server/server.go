package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepsearch/internal/runtime"
	"github.com/mohammad-safakhou/deepsearch/internal/session"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"github.com/mohammad-safakhou/deepsearch/repository"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Options carries the dependencies of the HTTP API.
type Options struct {
	Config    *config.Config
	Sessions  *session.Manager
	Telemetry *telemetry.Telemetry
	Metrics   http.Handler
	// JWTSecret enables bearer auth on /api when non-empty.
	JWTSecret []byte
	Logger    *zap.Logger
}

// Server is the echo application exposing sessions and research runs.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	llm       config.LLMConfig
	sessions  *session.Manager
	telemetry *telemetry.Telemetry
	logger    *zap.Logger
}

// New builds the router. It does not start listening.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	s := &Server{
		echo:      echo.New(),
		cfg:       cfg,
		llm:       cfg.LLM.Normalize(),
		sessions:  opts.Sessions,
		telemetry: opts.Telemetry,
		logger:    logger.Named("http"),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = s.handleError
	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "Cookie", apiKeyHeader},
		AllowCredentials: true,
	}))
	e.Use(echo.WrapMiddleware(func(h http.Handler) http.Handler {
		return otelhttp.NewHandler(h, "deepsearch.api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	api := e.Group("/api")
	if len(opts.JWTSecret) > 0 {
		api.Use(runtime.EchoAuthMiddleware(opts.JWTSecret))
	}
	api.GET("/models", s.models)
	api.GET("/stats", s.stats)

	h := &SessionsHandler{server: s}
	h.Register(api.Group("/sessions"))
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains open ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// handleError renders every failure as {"error": msg} and logs it.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	}
	req := c.Request()
	fields := []zap.Field{
		zap.Int("status", code),
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("remote_ip", c.RealIP()),
		zap.Error(err),
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Debug("request rejected", fields...)
	}
	if c.Response().Committed {
		return
	}
	if req.Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, map[string]interface{}{"error": msg})
}

// models lists the selectable model ids
func (s *Server) models(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"default": s.llm.DefaultModel,
		"models":  s.llm.Models,
	})
}

// stats returns the in-process telemetry snapshot and its text report.
func (s *Server) stats(c echo.Context) error {
	if s.telemetry == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "telemetry disabled")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"metrics":  s.telemetry.GetMetrics(),
		"report":   s.telemetry.GetPerformanceReport(),
		"sessions": s.sessions.Count(),
	})
}

// Run wires the full service from config and serves until ctx ends or a
// termination signal arrives.
func Run(ctx context.Context, cfg *config.Config, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	tel, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	runTele, err := telemetry.New(tel.Registry, logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer runTele.Shutdown()

	gw, err := provider.NewGateway(cfg.LLM.Normalize())
	if err != nil {
		return err
	}
	guard, closeGuard, err := repository.NewRunGuard(ctx, cfg.Storage.Redis, logger)
	if err != nil {
		return fmt.Errorf("run guard: %w", err)
	}
	defer func() { _ = closeGuard() }()

	secret, err := runtime.LoadJWTSecret(cfg)
	switch {
	case errors.Is(err, runtime.ErrNoJWTSecret):
		logger.Warn("server.jwt_secret not set, API authentication disabled")
	case err != nil:
		return err
	}

	sessions := session.NewManager(cfg.Session, session.NewFactory(cfg, gw, runTele, guard, logger), logger)
	srv := New(Options{
		Config:    cfg,
		Sessions:  sessions,
		Telemetry: runTele,
		Metrics:   tel.MetricsHandler(),
		JWTSecret: secret,
		Logger:    logger,
	})

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(addr) }()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		runtime.WaitForShutdown(waitCtx, logger, "deepsearch-api")
		cancel()
	}()

	select {
	case err := <-errCh:
		return err
	case <-waitCtx.Done():
	}
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

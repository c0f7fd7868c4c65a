// Package server assembles the gateway: routes, middleware chain, upstream
// HTTP client, rate limiter, and the optional usage archive.
package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/parlance-ai/parlance/pkg/gateway/config"
	"github.com/parlance-ai/parlance/pkg/gateway/handlers"
	"github.com/parlance-ai/parlance/pkg/gateway/lifecycle"
	"github.com/parlance-ai/parlance/pkg/gateway/mw"
	"github.com/parlance-ai/parlance/pkg/gateway/ratelimit"
	"github.com/parlance-ai/parlance/pkg/gateway/store"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	httpClient *http.Client
	limiter    *ratelimit.Limiter
	lifecycle  *lifecycle.Lifecycle
	archive    *store.Store
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamResponseHeaderTimeout,
		},
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		httpClient: httpClient,
		lifecycle:  &lifecycle.Lifecycle{},
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
		}),
	}

	if cfg.DatabaseURL != "" {
		archive, err := store.Open(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			// The archive is best-effort; a down database must not keep the
			// gateway from serving.
			logger.Warn("usage archive disabled", "error", err)
		} else {
			s.archive = archive
		}
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle})

	s.mux.Handle("/v1/realtime/sessions", handlers.SessionsHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
		Archive:    s.archive,
	})
	s.mux.Handle("/v1/responses", handlers.ResponsesHandler{
		Config:     s.cfg,
		HTTPClient: s.httpClient,
		Logger:     s.logger,
		Archive:    s.archive,
	})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	if s.cfg.AccessLog {
		h = mw.AccessLog(s.logger, h)
	}
	h = mw.RequestID(h)
	return h
}

// SetDraining flips readiness so load balancers stop routing new sessions
// during shutdown.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// Close releases the archive pool.
func (s *Server) Close() {
	s.archive.Close()
}

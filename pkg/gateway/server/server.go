package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-callcenter/pkg/core/live"
	"github.com/vango-go/vai-callcenter/pkg/gateway/calls"
	"github.com/vango-go/vai-callcenter/pkg/gateway/config"
	"github.com/vango-go/vai-callcenter/pkg/gateway/handlers"
	"github.com/vango-go/vai-callcenter/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callcenter/pkg/gateway/metrics"
	"github.com/vango-go/vai-callcenter/pkg/gateway/mw"
)

// Dependencies are the process-wide collaborators the routes share.
type Dependencies struct {
	Engine    *live.Engine
	Lifecycle *lifecycle.Lifecycle
	Calls     *calls.Tracker
	// Metrics is optional; nil disables the metrics route.
	Metrics *metrics.Metrics
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.Calls == nil {
		deps.Calls = calls.NewTracker()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.deps.Lifecycle,
		Calls:     s.deps.Calls,
	})

	s.mux.Handle(s.cfg.MediaPath, handlers.MediaStreamHandler{
		Config:    s.cfg,
		Engine:    s.deps.Engine,
		Logger:    s.logger,
		Lifecycle: s.deps.Lifecycle,
		Calls:     s.deps.Calls,
	})

	if s.cfg.MetricsEnabled && s.deps.Metrics != nil {
		s.mux.Handle(s.cfg.MetricsPath, mw.BearerToken(s.cfg.MetricsToken, s.deps.Metrics.Handler()))
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Lifecycle returns the drain state shared with the handlers.
func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.deps.Lifecycle }

// Calls returns the tracker of in-flight calls.
func (s *Server) Calls() *calls.Tracker { return s.deps.Calls }

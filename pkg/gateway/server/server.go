// Package server wires the bridge's HTTP surface: telephony webhooks,
// the media-stream websocket, and operator endpoints.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/callbridge/pkg/gateway/calllog"
	"github.com/vango-go/callbridge/pkg/gateway/config"
	"github.com/vango-go/callbridge/pkg/gateway/handlers"
	"github.com/vango-go/callbridge/pkg/gateway/lifecycle"
	"github.com/vango-go/callbridge/pkg/gateway/live/session"
	"github.com/vango-go/callbridge/pkg/gateway/live/sessions"
	"github.com/vango-go/callbridge/pkg/gateway/metrics"
	"github.com/vango-go/callbridge/pkg/gateway/mw"
	"github.com/vango-go/callbridge/pkg/gateway/registry"
	"github.com/vango-go/callbridge/pkg/gateway/usage"
)

// Deps carries the process-wide collaborators the routes need.
type Deps struct {
	Config    config.Config
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Lifecycle
	Calls     *sessions.Tracker
	Registry  *registry.Registry
	Recorder  calllog.Recorder
	Usage     usage.Meter
}

type Server struct {
	deps Deps
	mux  *http.ServeMux
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Calls == nil {
		deps.Calls = sessions.NewTracker()
	}
	if deps.Recorder == nil {
		deps.Recorder = calllog.Nop{}
	}
	if deps.Usage == nil {
		deps.Usage = usage.Nop{}
	}

	s := &Server{
		deps: deps,
		mux:  http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	cfg := s.deps.Config

	s.mux.Handle("/healthz", handlers.HealthHandler{})

	// Operator endpoints sit behind bearer auth; telephony endpoints
	// authenticate with provider signatures inside their handlers.
	s.mux.Handle("/readyz", mw.Auth(cfg, handlers.ReadyHandler{
		Config: cfg,
		Calls:  s.deps.Calls,
	}))
	if s.deps.Metrics != nil {
		s.mux.Handle("/metrics", mw.Auth(cfg, s.deps.Metrics.Handler()))
	}

	s.mux.Handle("/twilio/voice", handlers.VoiceHandler{
		Config: cfg,
		Logger: s.deps.Logger,
	})
	s.mux.Handle("/twilio/fallback", handlers.FallbackHandler{
		Config: cfg,
		Logger: s.deps.Logger,
	})
	s.mux.Handle("/twilio/stream", handlers.StreamHandler{
		Config:    cfg,
		Logger:    s.deps.Logger,
		Lifecycle: s.deps.Lifecycle,
		Calls:     s.deps.Calls,
		Registry:  s.deps.Registry,
		Observer:  observerOrNil(s.deps.Metrics),
		Recorder:  s.deps.Recorder,
		Usage:     s.deps.Usage,
	})
}

// SetDraining flips readiness so the telephony provider stops sending
// new streams here.
func (s *Server) SetDraining() {
	s.deps.Lifecycle.SetDraining(true)
}

// WaitCalls blocks until live calls finish or the context expires.
func (s *Server) WaitCalls(ctx context.Context) bool {
	return s.deps.Calls.Wait(ctx)
}

// CloseCalls hangs up every live call and reports how many were closed.
func (s *Server) CloseCalls() int {
	return s.deps.Calls.CloseAll()
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.deps.Logger, h)
	h = mw.AccessLog(s.deps.Logger, recorderOrNil(s.deps.Metrics), h)
	h = mw.RequestID(h)
	return h
}

// Typed-nil guards: a nil *metrics.Metrics must become a nil interface,
// not a non-nil interface wrapping nil.
func observerOrNil(m *metrics.Metrics) session.Observer {
	if m == nil {
		return nil
	}
	return m
}

func recorderOrNil(m *metrics.Metrics) mw.RequestRecorder {
	if m == nil {
		return nil
	}
	return m
}

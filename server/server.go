// Package server assembles the chat service and its background jobs behind an
// HTTP listener.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/lineai/internal/profile"
	"github.com/hrygo/lineai/plugin/ai/event"
	"github.com/hrygo/lineai/plugin/ai/media"
	"github.com/hrygo/lineai/plugin/ai/metrics"
	"github.com/hrygo/lineai/plugin/ai/session"
	"github.com/hrygo/lineai/plugin/ai/timeout"
	"github.com/hrygo/lineai/server/chat"
	"github.com/hrygo/lineai/server/internal/observability"
	"github.com/hrygo/lineai/server/middleware"
	apiv1 "github.com/hrygo/lineai/server/router/api/v1"
)

// rateLimiterIdle is how long an unused per-user limiter is kept.
const rateLimiterIdle = time.Hour

// NewLogger returns the process logger for profile: human-readable debug
// output in dev mode, JSON otherwise.
func NewLogger(w io.Writer, profile *profile.Profile) *slog.Logger {
	return observability.NewLogger(w, profile.IsDev())
}

// Backend is a generation backend that also knows which models it serves.
type Backend interface {
	session.Generator
	session.ModelCatalog
}

type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
	bus        *event.Bus
	sessions   *session.Manager
	cleanup    *session.CleanupJob
	fetcher    *media.Fetcher
	metrics    *metrics.Service
	limiter    *middleware.RateLimiter
	chat       *chat.Service
}

// NewServer wires every component from profile. The profile must be validated.
func NewServer(_ context.Context, profile *profile.Profile, backend Backend) (*Server, error) {
	s := &Server{Profile: profile}

	s.bus = event.NewBus(profile.EventListenerTimeout)
	s.bus.Subscribe(">", func(_ context.Context, e event.Event) error {
		slog.Debug("event",
			slog.String(observability.LogFieldEventType, e.Name),
			slog.String(observability.LogFieldUserID, e.UserID),
		)
		return nil
	})

	sessions, err := session.NewManager(session.Options{
		Generator:           backend,
		Catalog:             backend,
		DefaultModel:        profile.DefaultModel,
		Timeout:             profile.SessionTimeout,
		MaxHistoryLength:    profile.MaxHistoryLength,
		MemoryCapacity:      profile.MemoryCapacity,
		ImportanceThreshold: profile.ImportanceThreshold,
		AssistantImportance: profile.AssistantImportance,
		Notifier:            s.bus,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session manager")
	}
	s.sessions = sessions

	s.cleanup = session.NewCleanupJob(sessions, session.CleanupConfig{
		Interval:     profile.CleanupInterval,
		MemoryMaxAge: profile.MemoryMaxAge,
	})

	s.fetcher = media.NewFetcher(media.Config{
		MaxBytes:     profile.MediaMaxBytes,
		MaxDimension: profile.MediaMaxDimension,
		CacheSize:    profile.MediaCacheSize,
		CacheTTL:     profile.MediaCacheTTL,
	})
	s.metrics = metrics.NewService(metrics.DefaultRetention)
	s.limiter = middleware.NewRateLimiter(profile.RateLimitPerSecond, profile.RateLimitBurst)

	s.chat, err = chat.NewService(chat.Options{
		Sessions:                 sessions,
		Fetcher:                  s.fetcher,
		GenerationTimeout:        profile.GenerationTimeout,
		MaxConcurrentGenerations: profile.MaxConcurrentGenerations,
		RateLimiter:              s.limiter,
		Notifier:                 s.bus,
		Metrics:                  s.metrics,
	})
	if err != nil {
		s.closeComponents()
		return nil, errors.Wrap(err, "failed to create chat service")
	}

	api := apiv1.NewAPIV1Service(profile, s.chat, s.metrics, s.fetcher)
	s.echoServer = api.NewEcho()

	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// ChatService returns the chat service.
func (s *Server) ChatService() *chat.Service {
	return s.chat
}

// Start serves HTTP and runs the background jobs until ctx ends, then shuts
// everything down.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.Profile.Addr, strconv.Itoa(s.Profile.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	s.echoServer.Listener = listener

	g, ctx := errgroup.WithContext(ctx)

	s.cleanup.Start(ctx)

	g.Go(func() error {
		slog.Info("lineai server started", "addr", listener.Addr().String(), "version", s.Profile.Version)
		if err := s.echoServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server failed")
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(rateLimiterIdle)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := s.limiter.Prune(rateLimiterIdle); n > 0 {
					slog.Debug("idle rate limiters pruned", "count", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops the HTTP server and releases every component.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("lineai server shutting down")

	var shutdownErr error
	if err := s.echoServer.Shutdown(ctx); err != nil {
		shutdownErr = fmt.Errorf("shutdown http server: %w", err)
	}
	s.closeComponents()

	slog.Info("lineai server stopped")
	return shutdownErr
}

func (s *Server) closeComponents() {
	if s.cleanup != nil {
		s.cleanup.Stop()
	}
	if s.fetcher != nil {
		s.fetcher.Close()
	}
	if s.metrics != nil {
		s.metrics.Close()
	}
	if s.sessions != nil {
		s.sessions.Close()
	}
	if s.bus != nil {
		s.bus.Wait()
	}
}

// Package api serves the relay's HTTP endpoints: a health check and, when the
// Twilio channel is used, the inbound message webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/GuiaIA/internal/models"
)

// DefaultAddr is the listen address when none is configured.
const DefaultAddr = ":8080"

// Routes.
const (
	PathHealth        = "/health"
	PathTwilioWebhook = "/twilio/webhook"
)

const shutdownTimeout = 10 * time.Second

// Stats reports relay state for the health endpoint. messaging.Relay satisfies it.
type Stats interface {
	Len() int
}

// Health is the result of GET /health.
type Health struct {
	Channel       string `json:"channel"`
	Conversations int    `json:"conversations"`
	Uptime        string `json:"uptime"`
}

// Opts holds optional server settings.
type Opts struct {
	Addr    string
	Webhook http.HandlerFunc
	Channel string
}

// Option configures a Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithTwilioWebhook serves h at PathTwilioWebhook.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) {
		o.Webhook = h
	}
}

// WithChannel names the messaging channel reported by /health.
func WithChannel(name string) Option {
	return func(o *Opts) {
		o.Channel = name
	}
}

// Server is the relay's HTTP server.
type Server struct {
	stats   Stats
	opts    Opts
	started time.Time
	mux     *http.ServeMux
}

// NewServer creates a server reporting on stats.
func NewServer(stats Stats, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{stats: stats, opts: cfg, started: time.Now(), mux: http.NewServeMux()}
	s.mux.HandleFunc(PathHealth, s.healthHandler)
	if cfg.Webhook != nil {
		s.mux.HandleFunc(PathTwilioWebhook, cfg.Webhook)
	}
	return s
}

// Handler returns the routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr, "twilio_webhook", s.opts.Webhook != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	slog.Info("Server.Run: stopped")
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	h := Health{
		Channel: s.opts.Channel,
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.stats != nil {
		h.Conversations = s.stats.Len()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(h))
}

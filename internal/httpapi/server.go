// Package httpapi is the webhook-mode HTTP surface: the Telegram webhook,
// the pairing-token exchange, the manual sweep trigger and the chat
// completion endpoint.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"procode/internal/ai"
	"procode/internal/bot"
	"procode/internal/connect"
	"procode/internal/store"
	"procode/internal/sweep"
	"procode/internal/transport"
	logx "procode/pkg/logx"
)

type Config struct {
	Addr string
	// APIKey guards the system endpoints. Empty disables the check.
	APIKey string
}

type Server struct {
	cfg Config
	log logx.Logger

	store  store.Store
	router *bot.Router
	sender transport.Sender
	rec    *connect.Reconciler
	sweep  *sweep.Sweep
	ai     *ai.Client

	srv *http.Server
}

func New(cfg Config, st store.Store, router *bot.Router, sender transport.Sender,
	rec *connect.Reconciler, sw *sweep.Sweep, aiClient *ai.Client, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	s := &Server{
		cfg:    cfg,
		log:    log,
		store:  st,
		router: router,
		sender: sender,
		rec:    rec,
		sweep:  sw,
		ai:     aiClient,
	}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // the sweep trigger can run long
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))

	r.Post("/api/telegram/webhook", s.handleWebhook)
	r.Post("/api/user/telegram-token", s.handleIssueToken)
	r.Post("/api/chat", s.handleChat)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/api/system/analyze-contexts", s.handleAnalyzeContexts)
	})
	return r
}

// Start runs the listener until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shCtx)
	}
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			got := r.Header.Get("X-API-Key")
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.APIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

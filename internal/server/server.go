package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/seezam/finbot/internal/metrics"
)

const (
	secretHeader    = "X-Telegram-Bot-Api-Secret-Token"
	maxWebhookBytes = 1 << 20
)

// UpdateProcessor handles one decoded webhook update.
type UpdateProcessor interface {
	Process(ctx context.Context, update *tgmodels.Update) error
}

type Config struct {
	Port            int
	WebhookSecret   string
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg       Config
	processor UpdateProcessor
	metrics   *metrics.Collector
	logger    *zap.Logger
	router    chi.Router
	started   time.Time
}

func New(cfg Config, processor UpdateProcessor, collector *metrics.Collector, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		processor: processor,
		metrics:   collector,
		logger:    logger,
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router = r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// handleWebhook always answers 200 once the secret matches, so Telegram
// never redelivers an update because processing failed.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			s.metrics.WebhookUpdates.WithLabelValues("rejected").Inc()
			s.logger.Warn("webhook secret mismatch", zap.String("remote_addr", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var update tgmodels.Update
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBytes)).Decode(&update); err != nil {
		s.metrics.WebhookUpdates.WithLabelValues("invalid").Inc()
		s.logger.Warn("failed to decode update", zap.Error(err))
		writeOK(w)
		return
	}
	s.metrics.WebhookUpdates.WithLabelValues("decoded").Inc()

	// The reply to the user must not be cut short if Telegram drops the request.
	if err := s.processor.Process(context.WithoutCancel(r.Context()), &update); err != nil {
		s.logger.Debug("update processed with error",
			zap.Int64("update_id", update.ID),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeOK(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"service": "finbot",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"endpoints": map[string]string{
			"webhook": "POST /webhook",
			"health":  "GET /health",
			"metrics": "GET /metrics",
		},
	})
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Package ops exposes the operator-facing HTTP API: health checking and
// dead-letter inspection and resolution. It is an internal surface, deployed
// behind the platform's network boundary, not a public API.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskpulse/internal/types"
)

// DeadLetterRepo defines the dead-letter operations the ops API needs.
type DeadLetterRepo interface {
	List(ctx context.Context, includeResolved bool, limit, offset int) ([]types.DeadLetterEntry, error)
	Resolve(ctx context.Context, id string) error
}

// Pinger reports store connectivity for the health endpoint. Satisfied by
// *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Server is the ops HTTP server.
type Server struct {
	deadLetters DeadLetterRepo
	db          Pinger
	logger      *slog.Logger
	router      chi.Router
}

// NewServer creates the ops server and mounts its routes.
func NewServer(deadLetters DeadLetterRepo, db Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deadLetters: deadLetters,
		db:          db,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Get("/dead-letters", s.handleListDeadLetters)
	r.Post("/dead-letters/{id}/resolve", s.handleResolveDeadLetter)

	s.router = r
	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving the ops API until the context is canceled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// --- Handlers ---

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			s.logger.ErrorContext(r.Context(), "health check database ping failed", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

type listDeadLettersResponse struct {
	Data   []deadLetterDTO `json:"data"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

// deadLetterDTO is the operator-facing view of a dead-letter entry. The
// original event is embedded as raw JSON for inspection.
type deadLetterDTO struct {
	ID            string          `json:"id"`
	OriginalEvent json.RawMessage `json:"original_event"`
	Topic         string          `json:"topic"`
	LastError     string          `json:"last_error"`
	RetryCount    int             `json:"retry_count"`
	FirstFailedAt time.Time       `json:"first_failed_at"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
	Resolved      bool            `json:"resolved"`
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("include_resolved") == "true"

	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		writeError(w, types.NewAppError(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("limit must be between 1 and %d", maxListLimit), nil))
		return
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		writeError(w, types.NewAppError(types.ErrCodeValidationInvalidField,
			"offset must not be negative", nil))
		return
	}

	entries, err := s.deadLetters.List(r.Context(), includeResolved, limit, offset)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to list dead letters", "error", err)
		writeError(w, err)
		return
	}

	resp := listDeadLettersResponse{
		Data:   make([]deadLetterDTO, 0, len(entries)),
		Limit:  limit,
		Offset: offset,
	}
	for _, e := range entries {
		resp.Data = append(resp.Data, deadLetterDTO{
			ID:            e.ID,
			OriginalEvent: json.RawMessage(e.OriginalEvent),
			Topic:         e.Topic,
			LastError:     e.LastError,
			RetryCount:    e.RetryCount,
			FirstFailedAt: e.FirstFailedAt,
			LastAttemptAt: e.LastAttemptAt,
			Resolved:      e.Resolved,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, types.NewAppError(types.ErrCodeValidationMissingField,
			"dead-letter id is required", nil))
		return
	}

	if err := s.deadLetters.Resolve(r.Context(), id); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to resolve dead letter",
			"dead_letter_id", id,
			"error", err,
		)
		writeError(w, err)
		return
	}

	s.logger.InfoContext(r.Context(), "dead letter resolved", "dead_letter_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}

// --- Response helpers ---

type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps AppErrors to their HTTP status; anything else is a 500
// with no internal detail leaked.
func writeError(w http.ResponseWriter, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		writeJSON(w, appErr.HTTPStatus(), errorResponse{
			Error: errorDetail{
				Code:    string(appErr.Code),
				Message: appErr.Message,
			},
		})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error: errorDetail{
			Code:    string(types.ErrCodeInternalUnexpected),
			Message: "an unexpected error occurred",
		},
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return v
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/NotIan11/TechELO/internal/auth"
	"github.com/NotIan11/TechELO/internal/domain"
	"github.com/NotIan11/TechELO/internal/service"
	"github.com/NotIan11/TechELO/internal/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the match and leaderboard API
type Handler struct {
	matches      *service.MatchService
	leaderboards *service.LeaderboardService
	verifier     *auth.Verifier
	hub          *websocket.Hub
	validate     *validator.Validate
	checks       map[string]ReadinessCheck
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil.
func NewHandler(
	matches *service.MatchService,
	leaderboards *service.LeaderboardService,
	verifier *auth.Verifier,
	hub *websocket.Hub,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		matches:      matches,
		leaderboards: leaderboards,
		verifier:     verifier,
		hub:          hub,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		checks:       make(map[string]ReadinessCheck),
		logger:       logger,
	}
}

// AddReadinessCheck registers a dependency consulted by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Route("/matches", func(r chi.Router) {
			r.Post("/", h.CreateMatch)
			r.Get("/", h.ListMatches)

			r.Route("/{matchID}", func(r chi.Router) {
				r.Get("/", h.GetMatch)
				r.Post("/accept-start", h.AcceptStart)
				r.Post("/decline", h.DeclineStart)
				r.Post("/result", h.ReportResult)
			})
		})

		r.Get("/inbox", h.Inbox)
		r.Get("/inbox/count", h.InboxCount)

		r.Get("/leaderboards/{gameType}", h.GetLeaderboard)
		r.Get("/ratings/{userID}/{gameType}", h.GetRating)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// accessLog logs one line per request
func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireAuth resolves the bearer token to a user id
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.verifier.Verify(auth.TokenFromRequest(r, false))
		if err != nil {
			h.logger.Debug("rejected token", zap.Error(err))
			h.writeError(w, domain.ErrNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError maps err onto a status code and writes the error envelope
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		msg = "service temporarily unavailable, please retry"
	case status >= http.StatusInternalServerError:
		msg = domain.ErrInternalError.Error()
	}
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
		Code:    code,
	})
}

// classify returns the HTTP status and machine-readable code for err
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case domain.IsNotFoundError(err):
		return http.StatusNotFound, "not_found"
	case domain.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrChallengeExpired):
		return http.StatusGone, "challenge_expired"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

// fail logs unexpected errors and writes the response
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, _ := classify(err); status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("op", op),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	h.writeError(w, err)
}

// decode reads and validates a JSON body into dst
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", domain.ErrInvalidInput)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// queryInt parses an optional non-negative integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidInput, name)
	}
	return n, nil
}

func pagination(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck runs every registered readiness check
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	ready := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    status,
			Error:   "not ready",
			Code:    "unavailable",
		})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// HandleWebSocket authenticates and upgrades a notification connection
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeError(w, domain.Infra("websocket", errors.New("notifications disabled")))
		return
	}
	userID, err := h.verifier.Verify(auth.TokenFromRequest(r, true))
	if err != nil {
		h.writeError(w, domain.ErrNotAuthenticated)
		return
	}
	websocket.ServeWs(h.hub, userID, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	total := 0
	if h.hub != nil {
		total = h.hub.GetTotalConnections()
	}
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": total,
	})
}

// CreateMatch handles challenge creation
func (h *Handler) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMatchRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.matches.CreateChallenge(r.Context(), auth.UserIDFromContext(r.Context()), req.OpponentID, domain.GameKind(req.GameKind))
	if err != nil {
		h.fail(w, r, "create match", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    m,
	})
}

// ListMatches returns the caller's match history
func (h *Handler) ListMatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	matches, err := h.matches.ListMatches(r.Context(), auth.UserIDFromContext(r.Context()), limit, offset)
	if err != nil {
		h.fail(w, r, "list matches", err)
		return
	}
	h.writeSuccess(w, matches)
}

// GetMatch returns one match
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := h.matches.GetMatch(r.Context(), chi.URLParam(r, "matchID"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "get match", err)
		return
	}
	h.writeSuccess(w, m)
}

// AcceptStart confirms the caller is ready to play
func (h *Handler) AcceptStart(w http.ResponseWriter, r *http.Request) {
	m, err := h.matches.AcceptStart(r.Context(), chi.URLParam(r, "matchID"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "accept start", err)
		return
	}
	h.writeSuccess(w, m)
}

// DeclineStart declines a pending challenge
func (h *Handler) DeclineStart(w http.ResponseWriter, r *http.Request) {
	m, err := h.matches.DeclineStart(r.Context(), chi.URLParam(r, "matchID"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "decline start", err)
		return
	}
	h.writeSuccess(w, m)
}

// ReportResult records the caller's claimed winner
func (h *Handler) ReportResult(w http.ResponseWriter, r *http.Request) {
	var req domain.ReportResultRequest
	if err := h.decode(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	m, err := h.matches.ReportResult(r.Context(), chi.URLParam(r, "matchID"), auth.UserIDFromContext(r.Context()), req.WinnerID)
	if err != nil {
		h.fail(w, r, "report result", err)
		return
	}
	h.writeSuccess(w, m)
}

// Inbox returns the matches waiting on the caller
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	matches, err := h.matches.Inbox(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "inbox", err)
		return
	}
	h.writeSuccess(w, map[string]interface{}{
		"matches": matches,
		"count":   len(matches),
	})
}

// InboxCount returns the number of matches waiting on the caller
func (h *Handler) InboxCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.matches.InboxCount(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "inbox count", err)
		return
	}
	h.writeSuccess(w, map[string]int{"count": n})
}

// GetLeaderboard returns one page of a game's ranking
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseGameKind(chi.URLParam(r, "gameType"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	page, err := h.leaderboards.GetLeaderboard(r.Context(), kind, limit, offset)
	if err != nil {
		h.fail(w, r, "get leaderboard", err)
		return
	}
	h.writeSuccess(w, page)
}

// GetRating returns a user's rating and rank in one game
func (h *Handler) GetRating(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseGameKind(chi.URLParam(r, "gameType"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	standing, err := h.leaderboards.GetStanding(r.Context(), chi.URLParam(r, "userID"), kind)
	if err != nil {
		h.fail(w, r, "get rating", err)
		return
	}
	h.writeSuccess(w, standing)
}

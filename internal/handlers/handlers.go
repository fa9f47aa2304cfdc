package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fieldops/fieldtrack/internal/analytics"
	"github.com/fieldops/fieldtrack/internal/carryover"
	"github.com/fieldops/fieldtrack/internal/db"
	"github.com/fieldops/fieldtrack/internal/lifecycle"
	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/fieldops/fieldtrack/internal/tracking"
	"github.com/google/uuid"
)

type Handler struct {
	Tasks       db.TaskRepositoryInterface
	History     db.HistoryRepositoryInterface
	Machine     *lifecycle.StateMachine
	Ledger      *tracking.Ledger
	Calculator  *analytics.Calculator
	Carryover   *carryover.Tracker
	RateLimiter *RateLimiter
	WSHub       *WSHub
}

type errorResponse struct {
	Error string `json:"error"`
}

func sendError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

func sendJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the engine's error taxonomy onto HTTP. Every
// domain error carries enough structured detail for the caller to
// self-correct; anything else is an internal failure and is logged
// with context, never translated into a domain error.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		validation *models.ValidationError
		transition *models.InvalidTransitionError
		permission *models.PermissionError
		geo        *models.GeofenceError
		conflict   *models.ConflictError
		active     *models.AlreadyTrackingError
		notFound   *models.NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		sendError(w, validation.Msg, http.StatusBadRequest)
	case errors.As(err, &transition):
		sendError(w, transition.Error(), http.StatusBadRequest)
	case errors.As(err, &permission):
		sendJSON(w, map[string]any{
			"error":   "permission_denied",
			"message": permission.Msg,
		}, http.StatusForbidden)
	case errors.As(err, &geo):
		sendJSON(w, map[string]any{
			"error":             "geofence_required",
			"message":           geo.Msg,
			"required_radius_m": geo.RequiredRadius,
			"distance_m":        geo.DistanceMeters,
		}, http.StatusForbidden)
	case errors.As(err, &conflict):
		body := map[string]any{"error": "conflict", "message": conflict.Error()}
		if conflict.CurrentStatus != "" {
			body["current_status"] = conflict.CurrentStatus
		}
		sendJSON(w, body, http.StatusConflict)
	case errors.As(err, &active):
		sendJSON(w, map[string]any{
			"error":           "already_tracking",
			"active_entry_id": active.ActiveEntryID,
		}, http.StatusConflict)
	case errors.As(err, &notFound):
		sendError(w, notFound.Error(), http.StatusNotFound)
	default:
		log.Printf("Internal error: %v", err)
		sendError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func requestContext(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), timeout)
}

func isJSONContentType(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// actorFromContext reads the identity the auth middleware stored.
func actorFromContext(r *http.Request) (models.Actor, bool) {
	userID, _ := r.Context().Value("user_id").(string)
	if userID == "" {
		return models.Actor{}, false
	}
	id, err := uuid.Parse(userID)
	if err != nil {
		return models.Actor{}, false
	}
	admin, _ := r.Context().Value("is_admin").(bool)
	return models.Actor{ID: id, Admin: admin}, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type RateLimiter struct {
	attempts map[string]int
	limit    int
	mutex    sync.Mutex
	window   time.Duration
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		attempts: make(map[string]int),
		limit:    limit,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	count, exists := rl.attempts[ip]
	if !exists {
		rl.attempts[ip] = 1
		return true
	}
	if count >= rl.limit {
		return false
	}
	rl.attempts[ip]++
	return true
}

// reset the attempts map every window duration
func (rl *RateLimiter) cleanup() {
	for range time.Tick(rl.window) {
		rl.mutex.Lock()
		rl.attempts = make(map[string]int)
		rl.mutex.Unlock()
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

type entryJSON struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	TaskID      *uuid.UUID `json:"task_id,omitempty"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	IsBreak     bool       `json:"is_break"`
	BreakType   string     `json:"break_type,omitempty"`
	Billable    bool       `json:"billable"`
	Tags        []string   `json:"tags,omitempty"`
	Description string     `json:"description,omitempty"`
}

func toEntryJSON(entry *models.TimeLogEntry) *entryJSON {
	return &entryJSON{
		ID:          entry.ID,
		UserID:      entry.UserID,
		TaskID:      entry.TaskID,
		StartTime:   entry.StartTime,
		EndTime:     entry.EndTime,
		IsBreak:     entry.IsBreak,
		BreakType:   string(entry.BreakType),
		Billable:    entry.Billable,
		Tags:        entry.Tags,
		Description: entry.Description,
	}
}

/*
handles routes:
- POST /time-tracking/start - open a work segment
- POST /time-tracking/break - open a break segment
- POST /time-tracking/manual - log a finished interval
- GET  /time-tracking/active - the caller's open segment
- POST /time-tracking/stop/{entryId} - close a segment
*/
func (h *Handler) HandleTimeTracking(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path[len("/time-tracking/"):]
	switch {
	case rest == "start" && r.Method == http.MethodPost:
		h.startTracking(w, r)
	case rest == "break" && r.Method == http.MethodPost:
		h.startBreak(w, r)
	case rest == "manual" && r.Method == http.MethodPost:
		h.logManual(w, r)
	case rest == "active" && r.Method == http.MethodGet:
		h.activeEntry(w, r)
	case len(rest) > len("stop/") && rest[:len("stop/")] == "stop/" && r.Method == http.MethodPost:
		h.stopTracking(w, r, rest[len("stop/"):])
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) startTracking(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	var input struct {
		TaskID      string `json:"task_id"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	taskID, err := uuid.Parse(input.TaskID)
	if err != nil {
		sendError(w, "task_id must be a valid uuid", http.StatusBadRequest)
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	// The task must exist; a timer against a deleted or mistyped task
	// would poison the analytics.
	if _, err := h.Tasks.GetByID(ctx, taskID.String()); err != nil {
		writeDomainError(w, err)
		return
	}
	entry, err := h.Ledger.Start(ctx, actor.ID, taskID, input.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sendJSON(w, toEntryJSON(entry), http.StatusOK)
}

func (h *Handler) startBreak(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	var input struct {
		BreakType string `json:"break_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()
	entry, err := h.Ledger.StartBreak(ctx, actor.ID, models.BreakType(input.BreakType))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sendJSON(w, toEntryJSON(entry), http.StatusOK)
}

func (h *Handler) stopTracking(w http.ResponseWriter, r *http.Request, entryIDStr string) {
	actor, ok := actorFromContext(r)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	entryID, err := uuid.Parse(entryIDStr)
	if err != nil {
		sendError(w, "entry id must be a valid uuid", http.StatusBadRequest)
		return
	}

	var description *string
	if isJSONContentType(r) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var input struct {
			Description *string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&input); err == nil {
			description = input.Description
		}
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()
	entry, err := h.Ledger.Stop(ctx, entryID, actor.ID, description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sendJSON(w, toEntryJSON(entry), http.StatusOK)
}

func (h *Handler) logManual(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	var input struct {
		TaskID      string    `json:"task_id"`
		StartTime   time.Time `json:"start_time"`
		EndTime     time.Time `json:"end_time"`
		Description string    `json:"description"`
		Tags        []string  `json:"tags"`
		Billable    *bool     `json:"billable"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	taskID, err := uuid.Parse(input.TaskID)
	if err != nil {
		sendError(w, "task_id must be a valid uuid", http.StatusBadRequest)
		return
	}
	if input.StartTime.IsZero() || input.EndTime.IsZero() {
		sendError(w, "start_time and end_time are required", http.StatusBadRequest)
		return
	}
	billable := true
	if input.Billable != nil {
		billable = *input.Billable
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()
	if _, err := h.Tasks.GetByID(ctx, taskID.String()); err != nil {
		writeDomainError(w, err)
		return
	}
	entry, err := h.Ledger.LogManual(ctx, actor.ID, taskID,
		input.StartTime.UTC(), input.EndTime.UTC(), input.Description, input.Tags, billable)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sendJSON(w, toEntryJSON(entry), http.StatusOK)
}

// The server-authoritative answer to "am I tracking right now"; the
// client never holds this state itself.
func (h *Handler) activeEntry(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromContext(r)
	if !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()
	entry, err := h.Ledger.ActiveEntryFor(ctx, actor.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entry == nil {
		sendError(w, "no active entry", http.StatusNotFound)
		return
	}
	sendJSON(w, toEntryJSON(entry), http.StatusOK)
}

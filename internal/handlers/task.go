package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/fieldtrack/internal/geofence"
	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

type locationJSON struct {
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	RadiusMeters float64 `json:"radius_m"`
	Address      string  `json:"address,omitempty"`
}

type taskJSON struct {
	ID              uuid.UUID         `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	Status          models.TaskStatus `json:"status"`
	AssignmentType  string            `json:"assignment_type"`
	Assignees       []uuid.UUID       `json:"assignees,omitempty"`
	TeamLeader      *uuid.UUID        `json:"team_leader,omitempty"`
	TeamMembers     []uuid.UUID       `json:"team_members,omitempty"`
	Location        *locationJSON     `json:"location,omitempty"`
	EstimateMinutes *int              `json:"estimate_minutes,omitempty"`
	DueDate         *time.Time        `json:"due_date,omitempty"`
	CarryoverCount  int               `json:"carryover_count"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

func toTaskJSON(task *models.Task) *taskJSON {
	out := &taskJSON{
		ID:              task.ID,
		Title:           task.Title,
		Description:     task.Description,
		Status:          task.Status,
		AssignmentType:  string(task.AssignmentType),
		Assignees:       task.Assignees,
		TeamLeader:      task.TeamLeader,
		TeamMembers:     task.TeamMembers,
		EstimateMinutes: task.EstimateMinutes,
		DueDate:         task.DueDate,
		CarryoverCount:  task.CarryoverCount,
		StartedAt:       task.StartedAt,
		CompletedAt:     task.CompletedAt,
		CreatedAt:       task.CreatedAt,
		UpdatedAt:       task.UpdatedAt,
	}
	if task.Location != nil {
		out.Location = &locationJSON{
			Lat:          task.Location.Lat,
			Lng:          task.Location.Lng,
			RadiusMeters: task.Location.RadiusMeters,
			Address:      task.Location.Address,
		}
	}
	return out
}

/*
handles routes:
- POST /tasks - create a new task
*/
func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createTask(w, r)
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
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
		Title           string        `json:"title"`
		Description     string        `json:"description"`
		AssignmentType  string        `json:"assignment_type"`
		Assignees       []uuid.UUID   `json:"assignees"`
		TeamLeader      *uuid.UUID    `json:"team_leader"`
		TeamMembers     []uuid.UUID   `json:"team_members"`
		Location        *locationJSON `json:"location"`
		EstimateMinutes *int          `json:"estimate_minutes"`
		DueDate         *time.Time    `json:"due_date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		sendError(w, "title is required", http.StatusBadRequest)
		return
	}
	if len(title) > 200 {
		sendError(w, "title too long (max 200 chars)", http.StatusBadRequest)
		return
	}

	assignmentType := models.AssignmentType(input.AssignmentType)
	switch assignmentType {
	case models.AssignIndividual:
		if len(input.Assignees) == 0 {
			sendError(w, "individual tasks need at least one assignee", http.StatusBadRequest)
			return
		}
		if input.TeamLeader != nil || len(input.TeamMembers) > 0 {
			sendError(w, "individual tasks cannot carry a team", http.StatusBadRequest)
			return
		}
	case models.AssignTeam:
		if input.TeamLeader == nil {
			sendError(w, "team tasks need a team_leader", http.StatusBadRequest)
			return
		}
		if len(input.Assignees) > 0 {
			sendError(w, "team tasks cannot carry individual assignees", http.StatusBadRequest)
			return
		}
	default:
		sendError(w, "assignment_type must be individual or team", http.StatusBadRequest)
		return
	}

	var location *models.Location
	if input.Location != nil {
		if !geofence.ValidCoordinate(input.Location.Lat, input.Location.Lng) {
			sendError(w, "location coordinates out of range", http.StatusBadRequest)
			return
		}
		if !geofence.ValidRadius(input.Location.RadiusMeters) {
			sendError(w, "radius_m must be within [10, 10000]", http.StatusBadRequest)
			return
		}
		location = &models.Location{
			Lat:          input.Location.Lat,
			Lng:          input.Location.Lng,
			RadiusMeters: input.Location.RadiusMeters,
			Address:      input.Location.Address,
		}
	}
	if input.EstimateMinutes != nil && *input.EstimateMinutes <= 0 {
		sendError(w, "estimate_minutes must be positive", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:              uuid.New(),
		Title:           title,
		Description:     strings.TrimSpace(input.Description),
		Status:          models.StatusNotStarted,
		AssignmentType:  assignmentType,
		Assignees:       input.Assignees,
		TeamLeader:      input.TeamLeader,
		TeamMembers:     input.TeamMembers,
		Location:        location,
		EstimateMinutes: input.EstimateMinutes,
		DueDate:         input.DueDate,
		CreatedBy:       actor.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()
	if err := h.Tasks.Create(ctx, task); err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/tasks/"+task.ID.String())
	sendJSON(w, toTaskJSON(task), http.StatusCreated)
}

/*
routes under /tasks/{id}:
- GET /tasks/{id}
- POST /tasks/{id}/status
- GET /tasks/{id}/analytics
- GET /tasks/{id}/history
*/
func (h *Handler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := r.URL.Path[len("/tasks/"):]
	idStr, sub, _ := strings.Cut(rest, "/")
	taskID, err := uuid.Parse(idStr)
	if err != nil {
		sendError(w, "task id must be a valid uuid", http.StatusBadRequest)
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getTask(w, r, taskID)
	case sub == "status" && r.Method == http.MethodPost:
		h.changeStatus(w, r, taskID)
	case sub == "analytics" && r.Method == http.MethodGet:
		h.taskAnalytics(w, r, taskID)
	case sub == "history" && r.Method == http.MethodGet:
		h.taskHistory(w, r, taskID)
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	if _, ok := actorFromContext(r); !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	task, err := h.Tasks.GetByID(ctx, taskID.String())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	sendJSON(w, toTaskJSON(task), http.StatusOK)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
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
		NewStatus string `json:"new_status"`
		Location  *struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	var loc *models.GeoPoint
	if input.Location != nil {
		loc = &models.GeoPoint{Lat: input.Location.Lat, Lng: input.Location.Lng}
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()
	task, err := h.Machine.Transition(ctx, taskID, actor, models.TaskStatus(input.NewStatus), loc, input.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.WSHub.BroadcastStatusChange(taskID, actor.ID, task.Status)
	sendJSON(w, map[string]any{
		"status":  task.Status,
		"message": "status updated",
	}, http.StatusOK)
}

func (h *Handler) taskHistory(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	if _, ok := actorFromContext(r); !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	ctx, cancel := requestContext(r, 3*time.Second)
	defer cancel()

	// Existence check keeps 404 distinct from "no history yet".
	if _, err := h.Tasks.GetByID(ctx, taskID.String()); err != nil {
		writeDomainError(w, err)
		return
	}
	records, err := h.History.ListByTask(ctx, taskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	type recordJSON struct {
		ID         uuid.UUID         `json:"id"`
		TaskID     uuid.UUID         `json:"task_id"`
		UserID     uuid.UUID         `json:"user_id"`
		FromStatus models.TaskStatus `json:"from_status"`
		ToStatus   models.TaskStatus `json:"to_status"`
		Note       string            `json:"note,omitempty"`
		Lat        *float64          `json:"lat,omitempty"`
		Lng        *float64          `json:"lng,omitempty"`
		CreatedAt  time.Time         `json:"created_at"`
	}
	out := make([]recordJSON, 0, len(records))
	for _, rec := range records {
		out = append(out, recordJSON{
			ID: rec.ID, TaskID: rec.TaskID, UserID: rec.UserID,
			FromStatus: rec.FromStatus, ToStatus: rec.ToStatus,
			Note: rec.Note, Lat: rec.Lat, Lng: rec.Lng, CreatedAt: rec.CreatedAt,
		})
	}
	sendJSON(w, out, http.StatusOK)
}

package handlers

import (
	"net/http"
	"time"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
)

// GET /tasks/{id}/analytics?user_id=
func (h *Handler) taskAnalytics(w http.ResponseWriter, r *http.Request, taskID uuid.UUID) {
	if _, ok := actorFromContext(r); !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var userFilter *uuid.UUID
	if s := r.URL.Query().Get("user_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			sendError(w, "user_id must be a valid uuid", http.StatusBadRequest)
			return
		}
		userFilter = &id
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	task, err := h.Tasks.GetByID(ctx, taskID.String())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	report, err := h.Calculator.Report(ctx, task, userFilter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sendJSON(w, map[string]any{
		"task_id":              report.TaskID,
		"total_actual_minutes": report.TotalActualMinutes,
		"estimated_minutes":    report.EstimatedMinutes,
		"efficiency":           report.Efficiency,
		"variance_minutes":     report.VarianceMinutes,
		"session_count":        report.SessionCount,
	}, http.StatusOK)
}

// GET /tasks/upcoming-overdue
func (h *Handler) HandleUpcomingOverdue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := actorFromContext(r); !ok {
		sendError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := requestContext(r, 5*time.Second)
	defer cancel()

	summary, err := h.Carryover.Summarize(ctx, time.Now().UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	toList := func(tasks []*models.Task) []*taskJSON {
		out := make([]*taskJSON, 0, len(tasks))
		for _, task := range tasks {
			out = append(out, toTaskJSON(task))
		}
		return out
	}
	sendJSON(w, map[string]any{
		"overdue":      toList(summary.Overdue),
		"due_today":    toList(summary.DueToday),
		"due_tomorrow": toList(summary.DueTomorrow),
		"upcoming":     toList(summary.Upcoming),
	}, http.StatusOK)
}

// Package lifecycle is the task state machine: it validates and
// applies status transitions, consulting the capability resolver and
// the geofence validator, and appends one audit record per committed
// transition.
package lifecycle

import (
	"context"
	"time"

	"github.com/fieldops/fieldtrack/internal/capability"
	"github.com/fieldops/fieldtrack/internal/db"
	"github.com/fieldops/fieldtrack/internal/geofence"
	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/fieldops/fieldtrack/internal/tracking"
	"github.com/google/uuid"
)

// edges is the closed transition graph. Admin override is the only
// way around it and may set any status from any status.
var edges = map[models.TaskStatus]map[models.TaskStatus]bool{
	models.StatusNotStarted: {models.StatusInProgress: true},
	models.StatusInProgress: {models.StatusPaused: true, models.StatusCompleted: true},
	models.StatusPaused:     {models.StatusInProgress: true, models.StatusCompleted: true},
	models.StatusCompleted:  {},
}

func EdgeAllowed(from, to models.TaskStatus) bool {
	return edges[from][to]
}

type StateMachine struct {
	Tasks   db.TaskRepositoryInterface
	History db.HistoryRepositoryInterface
	Ledger  *tracking.Ledger
	Now     func() time.Time
}

func NewStateMachine(tasks db.TaskRepositoryInterface, history db.HistoryRepositoryInterface, ledger *tracking.Ledger) *StateMachine {
	return &StateMachine{
		Tasks:   tasks,
		History: history,
		Ledger:  ledger,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves the task to target on behalf of actor. The status
// write is an optimistic compare-and-swap on the status loaded at the
// start of the call; a concurrent change surfaces as ConflictError
// with the authoritative current status.
func (m *StateMachine) Transition(ctx context.Context, taskID uuid.UUID, actor models.Actor, target models.TaskStatus, loc *models.GeoPoint, note string) (*models.Task, error) {
	if !target.Valid() {
		return nil, &models.ValidationError{Msg: "unknown status " + string(target)}
	}

	task, err := m.Tasks.GetByID(ctx, taskID.String())
	if err != nil {
		return nil, err
	}

	role := capability.Resolve(actor, task)
	if !role.CanTransition() {
		return nil, &models.PermissionError{Msg: "actor may not change this task's status"}
	}

	observed := task.Status
	if !role.BypassesChecks() {
		if !EdgeAllowed(observed, target) {
			return nil, &models.InvalidTransitionError{From: observed, To: target}
		}
		if err := checkGeofence(task, loc); err != nil {
			return nil, err
		}
	}

	// Entering in_progress must not leave a second timer running.
	// Checked before any state change; an open segment on the same
	// task is a resume and passes.
	if target == models.StatusInProgress {
		active, err := m.Ledger.ActiveEntryFor(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		if active != nil && (active.TaskID == nil || *active.TaskID != taskID) {
			return nil, &models.AlreadyTrackingError{ActiveEntryID: active.ID}
		}
	}

	now := m.Now()
	task.Status = target
	task.UpdatedAt = now
	if target == models.StatusInProgress && task.StartedAt == nil {
		task.StartedAt = &now
	}
	if target == models.StatusCompleted {
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}

	ok, err := m.Tasks.UpdateStatusCAS(ctx, task, observed)
	if err != nil {
		return nil, err
	}
	if !ok {
		fresh, err := m.Tasks.GetByID(ctx, taskID.String())
		if err != nil {
			return nil, err
		}
		return nil, &models.ConflictError{CurrentStatus: fresh.Status}
	}

	// Record timestamp taken after the CAS succeeded, so history order
	// reflects serialization order.
	rec := &models.StatusChangeRecord{
		ID:         uuid.New(),
		TaskID:     taskID,
		UserID:     actor.ID,
		FromStatus: observed,
		ToStatus:   target,
		Note:       note,
		CreatedAt:  m.Now(),
	}
	if loc != nil {
		lat, lng := loc.Lat, loc.Lng
		rec.Lat = &lat
		rec.Lng = &lng
	}
	if err := m.History.Append(ctx, rec); err != nil {
		return nil, err
	}

	// Ledger side effects run after the committed write. A ledger
	// failure here, such as a timer opened by a concurrent request
	// between the pre-check above and this call, surfaces as an
	// error while the status change stays committed.
	switch target {
	case models.StatusInProgress:
		if _, err := m.Ledger.EnsureStartedForTask(ctx, actor.ID, taskID); err != nil {
			return nil, err
		}
	case models.StatusPaused:
		if err := m.Ledger.CloseForUserTask(ctx, actor.ID, taskID); err != nil {
			return nil, err
		}
	case models.StatusCompleted:
		if err := m.Ledger.CloseAllForTask(ctx, taskID); err != nil {
			return nil, err
		}
	}

	return task, nil
}

// checkGeofence enforces the fence on fenced tasks for non-admin
// actors. Missing or malformed coordinates fail closed.
func checkGeofence(task *models.Task, loc *models.GeoPoint) error {
	if task.Location == nil {
		return nil
	}
	if loc == nil {
		return &models.GeofenceError{
			Msg:            "location required to change status of a geofenced task",
			RequiredRadius: task.Location.RadiusMeters,
		}
	}
	if !geofence.ValidCoordinate(loc.Lat, loc.Lng) {
		return &models.ValidationError{Msg: "coordinates out of range"}
	}
	distance := geofence.DistanceMeters(loc.Lat, loc.Lng, task.Location.Lat, task.Location.Lng)
	if distance > task.Location.RadiusMeters {
		return &models.GeofenceError{
			Msg:            "actor is outside the task's geofence",
			RequiredRadius: task.Location.RadiusMeters,
			DistanceMeters: distance,
		}
	}
	return nil
}

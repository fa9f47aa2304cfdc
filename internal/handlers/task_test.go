package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fieldops/fieldtrack/internal/analytics"
	"github.com/fieldops/fieldtrack/internal/carryover"
	fdb "github.com/fieldops/fieldtrack/internal/db"
	"github.com/fieldops/fieldtrack/internal/lifecycle"
	"github.com/fieldops/fieldtrack/internal/tracking"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func setupHTTP(t *testing.T) (*Handler, *http.ServeMux, string) {
	t.Helper()

	secret := strings.Repeat("a", 32)
	_ = os.Setenv("JWT_SECRET", secret)

	// in-memory sqlite DB with the production schema
	dbx, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { dbx.Close() })
	if err := fdb.Migrate(context.Background(), dbx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	tasks := fdb.NewTaskRepository(dbx)
	history := fdb.NewHistoryRepository(dbx)
	ledger := tracking.NewLedger(fdb.NewTimeLogRepository(dbx))

	h := &Handler{
		Tasks:       tasks,
		History:     history,
		Machine:     lifecycle.NewStateMachine(tasks, history, ledger),
		Ledger:      ledger,
		Calculator:  analytics.NewCalculator(ledger),
		Carryover:   carryover.NewTracker(tasks, carryover.PolicyRetain),
		RateLimiter: NewRateLimiter(100, time.Second),
		WSHub:       NewWSHub(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/tasks", h.AuthMiddleware(h.HandleTasks))
	mux.HandleFunc("/tasks/upcoming-overdue", h.AuthMiddleware(h.HandleUpcomingOverdue))
	mux.HandleFunc("/tasks/", h.AuthMiddleware(h.HandleTaskByID))
	mux.HandleFunc("/time-tracking/", h.AuthMiddleware(h.HandleTimeTracking))
	mux.HandleFunc("/ws", h.HandleWebSocket)

	return h, mux, secret
}

func bearerFor(t *testing.T, secret, userID string, admin bool) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(1 * time.Hour).Unix(),
	}
	if admin {
		claims["admin"] = true
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return "Bearer " + signed
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, authz, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Authorization", authz)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask_Validation(t *testing.T) {
	_, mux, secret := setupHTTP(t)
	authz := bearerFor(t, secret, uuid.New().String(), false)
	assignee := uuid.New().String()

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"assignment_type":"individual","assignees":["` + assignee + `"]}`},
		{"title too long", `{"title":"` + strings.Repeat("x", 201) + `","assignment_type":"individual","assignees":["` + assignee + `"]}`},
		{"individual without assignees", `{"title":"t","assignment_type":"individual"}`},
		{"team without leader", `{"title":"t","assignment_type":"team"}`},
		{"unknown assignment type", `{"title":"t","assignment_type":"squad"}`},
		{"latitude out of range", `{"title":"t","assignment_type":"individual","assignees":["` + assignee + `"],"location":{"lat":91,"lng":0,"radius_m":100}}`},
		{"radius too small", `{"title":"t","assignment_type":"individual","assignees":["` + assignee + `"],"location":{"lat":51.5,"lng":-0.12,"radius_m":5}}`},
		{"radius too large", `{"title":"t","assignment_type":"individual","assignees":["` + assignee + `"],"location":{"lat":51.5,"lng":-0.12,"radius_m":10001}}`},
		{"zero estimate", `{"title":"t","assignment_type":"individual","assignees":["` + assignee + `"],"estimate_minutes":0}`},
	}
	for _, tc := range cases {
		rec := doJSON(t, mux, http.MethodPost, "/tasks", authz, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: want 400, got %d body=%s", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestCreateAndGetTask(t *testing.T) {
	_, mux, secret := setupHTTP(t)
	authz := bearerFor(t, secret, uuid.New().String(), false)
	assignee := uuid.New().String()

	body := `{"title":"Inspect substation","assignment_type":"individual","assignees":["` + assignee + `"],"estimate_minutes":60,"location":{"lat":51.5007,"lng":-0.1246,"radius_m":100,"address":"Westminster"}}`
	rec := doJSON(t, mux, http.MethodPost, "/tasks", authz, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /tasks status=%d body=%s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, "/tasks/") {
		t.Fatalf("no Location header with task id: %q", loc)
	}

	rec2 := doJSON(t, mux, http.MethodGet, loc, authz, "")
	if rec2.Code != http.StatusOK {
		t.Fatalf("GET %s status=%d body=%s", loc, rec2.Code, rec2.Body.String())
	}
	var got struct {
		Title    string `json:"title"`
		Status   string `json:"status"`
		Location *struct {
			RadiusMeters float64 `json:"radius_m"`
		} `json:"location"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if got.Title != "Inspect substation" || got.Status != "not_started" {
		t.Fatalf("unexpected task: %+v", got)
	}
	if got.Location == nil || got.Location.RadiusMeters != 100 {
		t.Fatalf("location not persisted: %+v", got.Location)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	_, mux, secret := setupHTTP(t)
	authz := bearerFor(t, secret, uuid.New().String(), false)

	rec := doJSON(t, mux, http.MethodGet, "/tasks/"+uuid.New().String(), authz, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("want 404, got %d body=%s", rec.Code, rec.Body.String())
	}
}

// A worker outside the geofence cannot start the task; inside, the
// start succeeds, a timer opens, and completing writes the audit
// trail and the analytics.
func TestTaskLifecycle_GeofencedHTTP(t *testing.T) {
	_, mux, secret := setupHTTP(t)

	creator := bearerFor(t, secret, uuid.New().String(), false)
	workerID := uuid.New().String()
	worker := bearerFor(t, secret, workerID, false)

	body := `{"title":"Meter swap","assignment_type":"individual","assignees":["` + workerID + `"],"estimate_minutes":30,"location":{"lat":51.5007,"lng":-0.1246,"radius_m":100}}`
	rec := doJSON(t, mux, http.MethodPost, "/tasks", creator, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
	}
	taskPath := rec.Header().Get("Location")

	// ~1.1 km north of the site
	far := `{"new_status":"in_progress","location":{"lat":51.5107,"lng":-0.1246}}`
	recFar := doJSON(t, mux, http.MethodPost, taskPath+"/status", worker, far)
	if recFar.Code != http.StatusForbidden {
		t.Fatalf("far start: want 403, got %d body=%s", recFar.Code, recFar.Body.String())
	}
	var geoErr struct {
		Error     string  `json:"error"`
		DistanceM float64 `json:"distance_m"`
	}
	if err := json.Unmarshal(recFar.Body.Bytes(), &geoErr); err != nil {
		t.Fatalf("decode geofence error: %v", err)
	}
	if geoErr.Error != "geofence_required" || geoErr.DistanceM < 1000 {
		t.Fatalf("unexpected geofence error: %+v", geoErr)
	}

	// no location at all is also a denial
	recNone := doJSON(t, mux, http.MethodPost, taskPath+"/status", worker, `{"new_status":"in_progress"}`)
	if recNone.Code != http.StatusForbidden {
		t.Fatalf("no-location start: want 403, got %d", recNone.Code)
	}

	// ~11 m away, inside the 100 m radius
	near := `{"new_status":"in_progress","location":{"lat":51.5008,"lng":-0.1246}}`
	recNear := doJSON(t, mux, http.MethodPost, taskPath+"/status", worker, near)
	if recNear.Code != http.StatusOK {
		t.Fatalf("near start: want 200, got %d body=%s", recNear.Code, recNear.Body.String())
	}

	// the start opened a timer for the worker
	recActive := doJSON(t, mux, http.MethodGet, "/time-tracking/active", worker, "")
	if recActive.Code != http.StatusOK {
		t.Fatalf("active: want 200, got %d body=%s", recActive.Code, recActive.Body.String())
	}

	done := `{"new_status":"completed","location":{"lat":51.5008,"lng":-0.1246},"note":"swapped and sealed"}`
	recDone := doJSON(t, mux, http.MethodPost, taskPath+"/status", worker, done)
	if recDone.Code != http.StatusOK {
		t.Fatalf("complete: want 200, got %d body=%s", recDone.Code, recDone.Body.String())
	}

	// completing closed the timer
	recActive2 := doJSON(t, mux, http.MethodGet, "/time-tracking/active", worker, "")
	if recActive2.Code != http.StatusNotFound {
		t.Fatalf("active after complete: want 404, got %d", recActive2.Code)
	}

	// audit trail has both transitions in order
	recHist := doJSON(t, mux, http.MethodGet, taskPath+"/history", worker, "")
	if recHist.Code != http.StatusOK {
		t.Fatalf("history: %d %s", recHist.Code, recHist.Body.String())
	}
	var hist []struct {
		FromStatus string `json:"from_status"`
		ToStatus   string `json:"to_status"`
		Note       string `json:"note"`
	}
	if err := json.Unmarshal(recHist.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist) != 2 || hist[0].ToStatus != "in_progress" || hist[1].ToStatus != "completed" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if hist[1].Note != "swapped and sealed" {
		t.Fatalf("note not recorded: %+v", hist[1])
	}

	// analytics sees one session against the estimate
	recA := doJSON(t, mux, http.MethodGet, taskPath+"/analytics", worker, "")
	if recA.Code != http.StatusOK {
		t.Fatalf("analytics: %d %s", recA.Code, recA.Body.String())
	}
	var report struct {
		EstimatedMinutes *int `json:"estimated_minutes"`
		SessionCount     int  `json:"session_count"`
	}
	if err := json.Unmarshal(recA.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode analytics: %v", err)
	}
	if report.SessionCount != 1 {
		t.Fatalf("session_count = %d, want 1", report.SessionCount)
	}
	if report.EstimatedMinutes == nil || *report.EstimatedMinutes != 30 {
		t.Fatalf("estimated_minutes = %v, want 30", report.EstimatedMinutes)
	}
}

// someone who is neither assignee, team member, nor admin cannot move
// the task
func TestChangeStatus_PermissionDenied(t *testing.T) {
	_, mux, secret := setupHTTP(t)

	creator := bearerFor(t, secret, uuid.New().String(), false)
	stranger := bearerFor(t, secret, uuid.New().String(), false)

	body := `{"title":"Fence check","assignment_type":"individual","assignees":["` + uuid.New().String() + `"]}`
	rec := doJSON(t, mux, http.MethodPost, "/tasks", creator, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	taskPath := rec.Header().Get("Location")

	rec2 := doJSON(t, mux, http.MethodPost, taskPath+"/status", stranger, `{"new_status":"in_progress"}`)
	if rec2.Code != http.StatusForbidden {
		t.Fatalf("want 403, got %d body=%s", rec2.Code, rec2.Body.String())
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &resp); err != nil || resp.Error != "permission_denied" {
		t.Fatalf("unexpected error body: %s", rec2.Body.String())
	}
}

// admin may jump the graph; a worker may not
func TestChangeStatus_InvalidTransitionAndAdminOverride(t *testing.T) {
	_, mux, secret := setupHTTP(t)

	workerID := uuid.New().String()
	worker := bearerFor(t, secret, workerID, false)
	admin := bearerFor(t, secret, uuid.New().String(), true)

	body := `{"title":"Valve audit","assignment_type":"individual","assignees":["` + workerID + `"]}`
	rec := doJSON(t, mux, http.MethodPost, "/tasks", worker, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	taskPath := rec.Header().Get("Location")

	// not_started -> completed is not an edge
	recBad := doJSON(t, mux, http.MethodPost, taskPath+"/status", worker, `{"new_status":"completed"}`)
	if recBad.Code != http.StatusBadRequest {
		t.Fatalf("worker jump: want 400, got %d body=%s", recBad.Code, recBad.Body.String())
	}

	// admin bypasses the graph
	recAdm := doJSON(t, mux, http.MethodPost, taskPath+"/status", admin, `{"new_status":"completed"}`)
	if recAdm.Code != http.StatusOK {
		t.Fatalf("admin jump: want 200, got %d body=%s", recAdm.Code, recAdm.Body.String())
	}
}

func TestUpcomingOverdue_Buckets(t *testing.T) {
	_, mux, secret := setupHTTP(t)
	authz := bearerFor(t, secret, uuid.New().String(), false)
	assignee := uuid.New().String()

	mk := func(title string, due time.Time) {
		body := fmt.Sprintf(`{"title":%q,"assignment_type":"individual","assignees":[%q],"due_date":%q}`,
			title, assignee, due.Format(time.RFC3339))
		rec := doJSON(t, mux, http.MethodPost, "/tasks", authz, body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create %s: %d %s", title, rec.Code, rec.Body.String())
		}
	}
	// anchor to noon so the calendar-day buckets are stable whatever
	// the wall clock says
	y, m, d := time.Now().UTC().Date()
	noon := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	mk("yesterday's", noon.Add(-24*time.Hour))
	mk("today's", noon)
	mk("tomorrow's", noon.Add(24*time.Hour))

	rec := doJSON(t, mux, http.MethodGet, "/tasks/upcoming-overdue", authz, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Overdue     []json.RawMessage `json:"overdue"`
		DueToday    []json.RawMessage `json:"due_today"`
		DueTomorrow []json.RawMessage `json:"due_tomorrow"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(got.Overdue) != 1 || len(got.DueToday) != 1 || len(got.DueTomorrow) != 1 {
		t.Fatalf("buckets overdue=%d today=%d tomorrow=%d, want 1/1/1",
			len(got.Overdue), len(got.DueToday), len(got.DueTomorrow))
	}
}

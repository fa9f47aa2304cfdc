package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fieldops/fieldtrack/internal/analytics"
	"github.com/fieldops/fieldtrack/internal/carryover"
	"github.com/fieldops/fieldtrack/internal/db"
	"github.com/fieldops/fieldtrack/internal/handlers"
	"github.com/fieldops/fieldtrack/internal/lifecycle"
	"github.com/fieldops/fieldtrack/internal/tracking"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	validateEnv()
	dbConn := initDB()
	defer dbConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initHandlers(ctx, dbConn)
	server := initServer()
	startServer(server, cancel)
}

func validateEnv() {
	requiredEnvVars := []string{
		"POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB",
		"POSTGRES_HOST", "POSTGRES_PORT", "SERVER_PORT",
		"JWT_SECRET",
	}
	for _, env := range requiredEnvVars {
		if os.Getenv(env) == "" {
			log.Fatalf("Environment variable %s must be set", env)
		}
	}
	if len(os.Getenv("JWT_SECRET")) < 32 {
		log.Fatalf("JWT_SECRET must be at least 32 characters")
	}
}

func initDB() *sql.DB {
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbname := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	host := os.Getenv("POSTGRES_HOST")

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		host, user, password, dbname, port)

	dbConn, err := db.Connect("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.Migrate(context.Background(), dbConn); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	return dbConn
}

func initHandlers(ctx context.Context, dbConn *sql.DB) *handlers.Handler {
	tasks := db.NewTaskRepository(dbConn)
	history := db.NewHistoryRepository(dbConn)
	ledger := tracking.NewLedger(db.NewTimeLogRepository(dbConn))
	tracker := carryover.NewTracker(tasks, carryover.ParsePolicy(os.Getenv("CARRYOVER_POLICY")))

	handler := &handlers.Handler{
		Tasks:       tasks,
		History:     history,
		Machine:     lifecycle.NewStateMachine(tasks, history, ledger),
		Ledger:      ledger,
		Calculator:  analytics.NewCalculator(ledger),
		Carryover:   tracker,
		RateLimiter: handlers.NewRateLimiter(5, time.Second),
		WSHub:       handlers.NewWSHub(),
	}

	http.HandleFunc("/tasks", handler.AuthMiddleware(handler.HandleTasks))
	http.HandleFunc("/tasks/upcoming-overdue", handler.AuthMiddleware(handler.HandleUpcomingOverdue))
	http.HandleFunc("/tasks/", handler.AuthMiddleware(handler.HandleTaskByID))
	http.HandleFunc("/time-tracking/", handler.AuthMiddleware(handler.HandleTimeTracking))
	http.HandleFunc("/ws", handler.HandleWebSocket)

	// forgotten timers get closed by the reaper; the carryover sweep
	// stamps overdue tasks once a day
	if timeout := staleTimerTimeout(); timeout > 0 {
		go ledger.RunReaper(ctx, time.Hour, timeout)
	}
	go tracker.RunScheduler(ctx, 24*time.Hour)

	return handler
}

// staleTimerTimeout reads STALE_TIMER_TIMEOUT_MINUTES. Zero disables
// the reaper entirely and is returned as a zero duration.
func staleTimerTimeout() time.Duration {
	minutes := 720 // 12h default
	if v := os.Getenv("STALE_TIMER_TIMEOUT_MINUTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Fatalf("STALE_TIMER_TIMEOUT_MINUTES must be a non-negative integer, got %q", v)
		}
		minutes = n
	}
	return time.Duration(minutes) * time.Minute
}

func initServer() *http.Server {
	return &http.Server{
		Addr: ":" + os.Getenv("SERVER_PORT"),
	}
}

func startServer(server *http.Server, cancelBackground context.CancelFunc) {
	log.Printf("Starting fieldtrack server on :%s", os.Getenv("SERVER_PORT"))

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server")
	cancelBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}

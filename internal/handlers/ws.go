package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/fieldops/fieldtrack/internal/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WSHub fans status-change events out to every socket watching a task.
type WSHub struct {
	connections map[uuid.UUID]map[*websocket.Conn]bool
	mutex       sync.Mutex
}

func NewWSHub() *WSHub {
	return &WSHub{connections: make(map[uuid.UUID]map[*websocket.Conn]bool)}
}

// BroadcastStatusChange sends a status event to all WebSocket connections
// subscribed to the given task.
func (h *WSHub) BroadcastStatusChange(taskID uuid.UUID, userID uuid.UUID, status models.TaskStatus) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	conns, exists := h.connections[taskID]
	if !exists {
		return
	}

	message, err := json.Marshal(map[string]interface{}{
		"event":   "status_changed",
		"task_id": taskID,
		"status":  status,
		"user_id": userID,
	})
	if err != nil {
		log.Printf("Failed to marshal status event: %v", err)
		return
	}

	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("Failed to send WebSocket message: %v", err)
			delete(conns, conn)
			conn.Close()
		}
	}
}

// checkOrigin allows every origin when ALLOWED_ORIGINS is unset,
// otherwise only the listed ones.
func checkOrigin(r *http.Request) bool {
	allowed := os.Getenv("ALLOWED_ORIGINS")
	if allowed == "" {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, candidate := range strings.Split(allowed, ",") {
		if strings.TrimSpace(candidate) == origin {
			return true
		}
	}
	return false
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Check rate limiting
	if !h.RateLimiter.Allow(clientIP(r)) {
		sendError(w, "Too many WebSocket connection attempts", http.StatusTooManyRequests)
		return
	}

	// Upgrade HTTP connection to WebSocket
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// Extract task ID from query parameters
	taskIDStr := r.URL.Query().Get("task_id")
	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		log.Printf("Invalid task ID: %v", err)
		conn.Close()
		return
	}

	// Verify the task exists before subscribing
	if _, err := h.Tasks.GetByID(r.Context(), taskIDStr); err != nil {
		log.Printf("Task not found: %v", err)
		conn.Close()
		return
	}

	// Register connection in WSHub
	h.WSHub.mutex.Lock()
	if h.WSHub.connections[taskID] == nil {
		h.WSHub.connections[taskID] = make(map[*websocket.Conn]bool)
	}
	h.WSHub.connections[taskID][conn] = true
	h.WSHub.mutex.Unlock()

	// Hold the connection open; we only push, clients do not send.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.WSHub.mutex.Lock()
			delete(h.WSHub.connections[taskID], conn)
			h.WSHub.mutex.Unlock()
			conn.Close()
			return
		}
	}
}

package server

import (
	"log"
	"net/http"
	"time"

	"github.com/ayusman/shuttlespeed/internal/app"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// ProgressSource reports the state of running analyses.
type ProgressSource interface {
	Progress(id string) (app.Status, error)
	Done(id string) (<-chan struct{}, error)
}

// ProgressHandler pushes analysis progress to WebSocket clients until the run
// finishes.
type ProgressHandler struct {
	source   ProgressSource
	interval time.Duration
}

// NewProgressHandler creates a new ProgressHandler polling the given source.
func NewProgressHandler(source ProgressSource) *ProgressHandler {
	return &ProgressHandler{
		source:   source,
		interval: 100 * time.Millisecond,
	}
}

// ServeHTTP handles WebSocket upgrade requests on /api/analyses/{id}/progress.
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := analysisID(r.URL.Path, "progress")
	if id == "" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	done, err := h.source.Done(id)
	if err != nil {
		http.Error(w, "Analysis not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Drain client messages so a close frame ends the stream
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if !h.send(conn, id) {
			return
		}

		select {
		case <-done:
			h.send(conn, id)
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis finished"))
			return
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *ProgressHandler) send(conn *websocket.Conn, id string) bool {
	status, err := h.source.Progress(id)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "analysis removed"))
		return false
	}
	if err := conn.WriteJSON(status); err != nil {
		return false
	}
	return true
}

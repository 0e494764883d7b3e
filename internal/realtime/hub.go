// Package realtime pushes dashboard refresh signals to a user's open
// websocket connections.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/olahol/melody"

	"saldo/internal/events"
)

const userKey = "user_id"

// Message is what connected clients receive.
type Message struct {
	Type  string               `json:"type"`
	Batch events.BatchImported `json:"batch"`
}

const TypeBatchImported = "batch:imported"

type Hub struct {
	m      *melody.Melody
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "realtime")

	m := melody.New()
	m.Config.MaxMessageSize = 1024
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		userID, _ := s.Get(userKey)
		logger.Debug("Client connected", "user_id", userID)
	})
	m.HandleDisconnect(func(s *melody.Session) {
		userID, _ := s.Get(userKey)
		logger.Debug("Client disconnected", "user_id", userID)
	})
	m.HandleError(func(s *melody.Session, err error) {
		logger.Warn("WebSocket error", "error", err)
	})

	return &Hub{m: m, logger: logger}
}

// ServeWS upgrades the request and binds the connection to userID.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	return h.m.HandleRequestWithKeys(w, r, map[string]any{userKey: userID})
}

// Notify implements events.Notifier by sending the event to the owner's sessions only.
func (h *Hub) Notify(ctx context.Context, ev events.BatchImported) error {
	msg, err := json.Marshal(Message{Type: TypeBatchImported, Batch: ev})
	if err != nil {
		return fmt.Errorf("marshal realtime message: %w", err)
	}
	err = h.m.BroadcastFilter(msg, func(s *melody.Session) bool {
		id, ok := s.Get(userKey)
		return ok && id == ev.UserID
	})
	if err != nil {
		return fmt.Errorf("broadcast to %s: %w", ev.UserID, err)
	}
	return nil
}

// Sessions returns the number of open connections.
func (h *Hub) Sessions() int {
	return h.m.Len()
}

func (h *Hub) Close() error {
	return h.m.Close()
}

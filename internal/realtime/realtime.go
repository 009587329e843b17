// Package realtime streams platform events to connected clients over
// websockets.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"slices"
	"time"

	"cord/platform/internal/pubsub"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
	writeWait  = 10 * time.Second
)

// Viewer is the connected client. GroupIDs are the internal org IDs it may
// see; nil means every group.
type Viewer struct {
	AppID    string
	UserID   string
	GroupIDs []string
}

type subscriber interface {
	Subscribe(ctx context.Context, appID string) (<-chan pubsub.Event, error)
}

type Handler struct {
	bus      subscriber
	upgrader websocket.Upgrader
}

func NewHandler(bus subscriber, allowedOrigin string) *Handler {
	return &Handler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

// Visible reports whether viewer may receive event.
func Visible(event pubsub.Event, viewer Viewer) bool {
	if event.AppID != viewer.AppID {
		return false
	}
	if event.GroupID == "" {
		return event.UserID == "" || event.UserID == viewer.UserID
	}
	if event.UserID != "" && event.UserID != viewer.UserID && event.Type == pubsub.NotificationCreated {
		return false
	}
	return viewer.GroupIDs == nil || slices.Contains(viewer.GroupIDs, event.GroupID)
}

// Serve upgrades the request and forwards visible events until either side
// goes away. Client frames are read only to observe pongs and close.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request, viewer Viewer) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.bus.Subscribe(ctx, viewer.AppID)
	if err != nil {
		log.Printf("realtime: subscribe app %s: %v", viewer.AppID, err)
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("realtime: read from %s: %v", viewer.UserID, err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !Visible(event, viewer) {
				continue
			}
			raw, err := json.Marshal(event)
			if err != nil {
				log.Printf("realtime: marshal event: %v", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

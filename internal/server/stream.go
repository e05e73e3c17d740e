package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/testboard/internal/watch"
)

const (
	changeType = "files_changed"
	writeWait  = 10 * time.Second
)

// changeMessage is the wire form of a watch.ChangeEvent on both live streams.
type changeMessage struct {
	Type      string     `json:"type"`
	Directory watch.Kind `json:"directory"`
	Added     []string   `json:"added"`
	Removed   []string   `json:"removed"`
}

func newChangeMessage(ev watch.ChangeEvent) changeMessage {
	m := changeMessage{Type: changeType, Directory: ev.Kind, Added: ev.Added, Removed: ev.Removed}
	if m.Added == nil {
		m.Added = []string{}
	}
	if m.Removed == nil {
		m.Removed = []string{}
	}
	return m
}

// handleWS relays change events to a websocket client until either side goes away.
// A client disconnected by the bus gets a close frame and is expected to reconnect
// and refetch /api/data.
func (r *Router) handleWS(c *gin.Context) {
	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sub := r.svc.Subscribe()
	defer r.svc.Unsubscribe(sub)

	// clients never send anything useful; reading only detects the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(r.ping)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-sub.C:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newChangeMessage(ev)); err != nil {
				r.log.Debug("websocket write failed", "subscriber", sub.ID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleSSE is the server-sent events variant of handleWS.
func (r *Router) handleSSE(c *gin.Context) {
	sub := r.svc.Subscribe()
	defer r.svc.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(r.ping)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			c.SSEvent(changeType, newChangeMessage(ev))
			c.Writer.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

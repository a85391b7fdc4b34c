package companion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"dashmaster/pkg/events"
)

const wsWriteWait = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleStream serves engine events as server-sent events. Comment lines keep
// idle connections alive through proxies.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	sub := a.stream.Subscribe(a.config.StreamBuffer)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": stream open\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(a.config.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev, open := <-sub.C():
			if !open {
				return
			}
			data, err := json.Marshal(streamBody(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// handleStreamWS mirrors the SSE stream over a WebSocket. A stalled client
// first loses events in its queue, then gets disconnected by the write
// deadline.
func (a *API) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the handshake error.
		return
	}
	defer conn.Close()

	sub := a.stream.Subscribe(a.config.StreamBuffer)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	heartbeat := time.NewTicker(a.config.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev, open := <-sub.C():
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(map[string]any{
				"type":    ev.Type,
				"ts":      ev.At.UTC().Format(time.RFC3339Nano),
				"payload": ev.Payload,
			}); err != nil {
				return
			}
		}
	}
}

// streamBody flattens an event for the SSE data line. The payload map is
// shared between subscribers, so it is copied before the timestamp goes in.
func streamBody(ev events.Event) map[string]any {
	body := make(map[string]any, len(ev.Payload)+1)
	for k, v := range ev.Payload {
		body[k] = v
	}
	body["ts"] = ev.At.UTC().Format(time.RFC3339Nano)
	return body
}

package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"apxpool/core/events"
	"apxpool/core/types"

	"nhooyr.io/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
)

type eventStreamPayload struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.facility == nil {
		http.Error(w, "facility unavailable", http.StatusServiceUnavailable)
		return
	}
	var since uint64
	if cursor := strings.TrimSpace(r.URL.Query().Get("cursor")); cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	if err := s.streamEvents(r.Context(), conn, since); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, since uint64) error {
	updates, cancel, backlog := s.facility.Events().Subscribe(ctx, since)
	defer cancel()

	for _, entry := range backlog {
		if err := writeStreamEntry(ctx, conn, entry); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamEntry(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func writeStreamEntry(ctx context.Context, conn *websocket.Conn, entry events.Sequenced) error {
	payload := eventStreamPayload{Sequence: entry.Sequence}
	if entry.Event != nil {
		payload.Type = entry.Event.EventType()
		if rich, ok := entry.Event.(interface{ Event() *types.Event }); ok {
			if evt := rich.Event(); evt != nil {
				payload.Type = evt.Type
				payload.Attributes = evt.Attributes
			}
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// handleEvents upgrades the connection and streams command execution
// events as JSON text messages until the client disconnects. The same API
// keys authenticate here; browsers that cannot set headers may pass the
// key as a ?token= query parameter.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	apiKey := bearerToken(r.Header.Get("Authorization"))
	if apiKey == "" {
		apiKey = r.URL.Query().Get("token")
	}
	userID := g.resolveAPIKey(apiKey)
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"jace-events-v1"},
	})
	if err != nil {
		g.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ch, cancel := g.hub.Subscribe()
	defer cancel()

	g.logger.Info("event stream connected", slog.String("user_id", userID))

	ctx := r.Context()

	// Reads are drained so pings and client close frames are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			g.logger.Info("event stream disconnected", slog.String("user_id", userID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				g.logger.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev any) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

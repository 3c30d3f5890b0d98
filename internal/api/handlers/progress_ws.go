package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sitewatch/sitewatch/internal/progress"
)

// progressUpgrader mirrors the teacher's silence-event upgrader: small
// buffers, origin checking left to the caller's reverse proxy.
var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	progressPollInterval = 500 * time.Millisecond
	progressPingInterval = 54 * time.Second
)

// StreamProgress handles GET /api/v1/projects/{id}/progress/stream. Unlike
// the teacher's silence hub, there is no broadcast bus feeding progress
// events — each connection polls the same Redis-backed progress.Store the
// plain GET /progress endpoint reads, and pushes a frame whenever the
// record changes, closing once the run reaches StageComplete.
func (h *ArtifactsHandler) StreamProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conn, err := progressUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("progress stream: upgrade failed", "project_id", id, "error", err)
		return
	}
	defer conn.Close()

	go drainControlFrames(conn)

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	pingTicker := time.NewTicker(progressPingInterval)
	defer pingTicker.Stop()

	ctx := r.Context()
	var lastStage progress.Stage
	var lastCurrent int

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		case <-ticker.C:
			record, err := h.progress.Get(ctx, id)
			if err != nil {
				continue
			}
			if record.Stage == lastStage && record.Current == lastCurrent {
				continue
			}
			lastStage, lastCurrent = record.Stage, record.Current

			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(progressResponse{
				Stage: string(record.Stage), Current: record.Current, Total: record.Total, Percent: record.Percent,
				ElapsedSeconds: record.ElapsedSeconds, ETASeconds: record.ETASeconds, CurrentURL: record.CurrentURL,
				Extra: record.Extra, UpdatedAt: record.UpdatedAt.Format(rfc3339),
			}); err != nil {
				return
			}
			if record.Stage == progress.StageComplete {
				return
			}
		}
	}
}

// drainControlFrames reads and discards client frames so the connection's
// read deadline never trips on an idle pong, matching the teacher's
// ping/pong keepalive without expecting any client-sent payloads.
func drainControlFrames(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

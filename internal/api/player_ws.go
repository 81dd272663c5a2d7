/*
Copyright (C) 2026 Sound Commons

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/soundcommons/etherwave/internal/events"
	"github.com/soundcommons/etherwave/internal/telemetry"
)

const wsWriteTimeout = 5 * time.Second

type wsMessage struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// handlePlayerWebSocket streams playback state to a connected web client: an
// immediate snapshot on connect, then a push per engine event plus a
// once-per-second position update so paused tabs stay in sync without polling.
func (a *API) handlePlayerWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.WSListeners.Inc()
	defer telemetry.WSListeners.Dec()

	nowPlaying := a.bus.Subscribe(events.EventNowPlaying)
	defer a.bus.Unsubscribe(events.EventNowPlaying, nowPlaying)
	scheduleUpdates := a.bus.Subscribe(events.EventScheduleUpdate)
	defer a.bus.Unsubscribe(events.EventScheduleUpdate, scheduleUpdates)

	ctx := r.Context()
	a.logger.Debug().Str("remote", r.RemoteAddr).Msg("player websocket connected")

	if err := a.writeWS(ctx, conn, "state", playbackStateResponse(a.engine.Snapshot())); err != nil {
		return
	}

	// Drain client frames so pings are answered and closure is noticed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-readDone:
			return
		case payload, ok := <-nowPlaying:
			if !ok {
				return
			}
			if err := a.writeWS(ctx, conn, "state", map[string]any(payload)); err != nil {
				return
			}
		case payload, ok := <-scheduleUpdates:
			if !ok {
				return
			}
			if err := a.writeWS(ctx, conn, "schedule_update", map[string]any(payload)); err != nil {
				return
			}
		case <-ticker.C:
			if err := a.writeWS(ctx, conn, "state", playbackStateResponse(a.engine.Snapshot())); err != nil {
				return
			}
		}
	}
}

func (a *API) writeWS(ctx context.Context, conn *ws.Conn, msgType string, data map[string]any) error {
	msg := wsMessage{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	buf, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, buf)
}

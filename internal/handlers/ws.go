package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AnshRaj112/safemobile-backend/internal/notify"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 90 * time.Second
	wsPingPeriod = 60 * time.Second
)

var deviceUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by CORS and the session check that runs before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventSnapshot is the first message on a feed and carries the device as stored.
const eventSnapshot notify.EventType = "snapshot"

// DeviceFeed streams one device's events to an operator over a WebSocket.
func (h *Handler) DeviceFeed(w http.ResponseWriter, r *http.Request) {
	dev, ok := h.visibleDevice(w, r)
	if !ok {
		return
	}

	conn, err := deviceUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.Hub.Subscribe(dev.ID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Reader: only pongs and close frames are expected.
	conn.SetReadLimit(4 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(e notify.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(e)
	}
	if err := send(notify.Event{Type: eventSnapshot, DeviceID: dev.ID, Device: dev, Timestamp: time.Now().UTC()}); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := send(e); err != nil {
				return
			}
			if e.Type == notify.EventDeviceRemoved {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "device removed"),
					time.Now().Add(wsWriteWait))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

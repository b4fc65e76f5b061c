package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"clinical-dictation-service/internal/service/idlelock"
	"clinical-dictation-service/internal/workspace"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// maxFrame bounds one binary audio frame.
	maxFrame = 256 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is a text frame from the page.
type clientMessage struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
}

// live upgrades to a websocket. The server pushes workspace events as JSON
// text frames; the client pushes binary audio frames into the microphone
// feed and JSON activity or permission messages.
func (a *API) live(w http.ResponseWriter, r *http.Request) {
	ws := workspaceFrom(r)
	events, unsubscribe := ws.Subscribe()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		unsubscribe()
		a.logger.Warn().Err(err).Str("workspaceId", ws.ID).Msg("WebSocket upgrade failed")
		return
	}

	logger := a.logger.With().Str("workspaceId", ws.ID).Logger()
	logger.Info().Msg("Live client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.readLive(conn, ws)
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		conn.Close()
		logger.Info().Msg("Live client disconnected")
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "workspace closed"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug().Err(err).Msg("Live write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (a *API) readLive(conn *websocket.Conn, ws *workspace.Workspace) {
	conn.SetReadLimit(maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch kind {
		case websocket.BinaryMessage:
			ws.Feed.Push(data)
		case websocket.TextMessage:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Type {
			case "activity":
				ws.Guard.RecordActivity(idlelock.InputEvent(msg.Event))
			case "permission_denied":
				ws.Feed.Deny()
			case "device_connected":
				ws.Feed.Connect()
			case "device_removed":
				ws.Feed.Disconnect()
			}
		}
	}
}

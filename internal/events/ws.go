package events

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"animehub/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is served from the same host; the feed is read-only.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler upgrades the request and streams events until the client
// goes away.
func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithContext(c.Request.Context()).Debug("ws upgrade failed", zap.Error(err))
			return
		}
		log := logger.Get().With(zap.String("remote", ws.RemoteAddr().String()))

		b, _ := json.Marshal(welcome{Type: "welcome", Transport: "websocket", Clients: hub.Stats().WSClients + 1})
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = ws.Close()
			return
		}
		hub.AddWS(ws)
		log.Debug("ws client connected")

		// Incoming messages are ignored; a read error means the client left.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.RemoveWS(ws)
		log.Debug("ws client disconnected")
	}
}

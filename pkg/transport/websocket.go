package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/wire"
)

// Close status codes in the application range, one per wire close code.
const (
	statusProtocolViolation = 4400
	statusReplacedByNew     = 4409
	statusBackpressure      = 4429
	statusServerShutdown    = 4503
)

func closeStatus(code string) int {
	switch code {
	case wire.CloseProtocolViolation:
		return statusProtocolViolation
	case wire.CloseReplacedByNew:
		return statusReplacedByNew
	case wire.CloseBackpressure:
		return statusBackpressure
	case wire.CloseServerShutdown:
		return statusServerShutdown
	default:
		return websocket.CloseNormalClosure
	}
}

type wsConn struct {
	c *websocket.Conn
}

var _ Conn = (*wsConn)(nil)

func (w *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := w.c.ReadMessage()
	return data, err
}

func (w *wsConn) WriteFrame(data []byte) error {
	return w.c.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Close(code string) error {
	msg := websocket.FormatCloseMessage(closeStatus(code), code)
	deadline := time.Now().Add(time.Second)
	_ = w.c.WriteControl(websocket.CloseMessage, msg, deadline)
	return w.c.Close()
}

func (w *wsConn) RemoteAddr() string {
	return w.c.RemoteAddr().String()
}

// WebSocketHandler serves the client entry point. Every accepted connection
// becomes a session.
func (a *Adapter) WebSocketHandler() http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Game clients connect from arbitrary origins; auth happens at
		// the join handshake, not here.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed",
				logger.KeyClientIP, r.RemoteAddr,
				logger.KeyError, err.Error())
			return
		}
		if a.cfg.MaxFrameBytes > 0 {
			c.SetReadLimit(a.cfg.MaxFrameBytes)
		}
		a.HandleConn(&wsConn{c: c})
	})
}

package server

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// wsSender writes one text frame per fragment. gorilla connections allow a single
// concurrent writer.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(fragment string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(fragment))
}

// handleWS upgrades the request and runs the read loop of one conversation. Frames
// are handled in arrival order; the loop ends when the client goes away.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Printf("warn: websocket upgrade failed: %v", err)
		return nil
	}
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		_ = conn.Close()
	}()

	conv := s.engine.NewConversation(&wsSender{conn: conn})
	s.logger.Printf("[%s] client connected from %s", conv.ID(), c.RealIP())
	ctx := c.Request().Context()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("[%s] warn: read failed: %v", conv.ID(), err)
			} else {
				s.logger.Printf("[%s] client disconnected", conv.ID())
			}
			return nil
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if err := conv.Handle(ctx, data); err != nil {
			s.logger.Printf("[%s] warn: closing connection: %v", conv.ID(), err)
			return nil
		}
	}
}

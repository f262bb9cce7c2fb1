package api

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

// wsChannel adapts a WebSocket connection to the hub's channel contract.
type wsChannel struct {
	conn *websocket.Conn
}

func (w *wsChannel) Send(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

func (w *wsChannel) Close() {
	_ = w.conn.Close(websocket.StatusNormalClosure, "")
}

// serveWS upgrades the request to a WebSocket, joins it under the
// authenticated owner and blocks reading until the peer disconnects. The join
// happens only after authentication, so an unauthenticated socket never
// receives any events.
func serveWS(hub ConnectionRegistry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authFromHeaderOrQuery(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		conn, err := websocket.Accept(c.Response().Writer, c.Request(), &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			c.Logger().Errorf("websocket accept: %v", err)
			return nil
		}

		ch := &wsChannel{conn: conn}
		hub.Join(userID, ch)
		defer func() {
			hub.Leave(ch)
			ch.Close()
		}()

		// Inbound frames are not part of the protocol; reading only serves
		// to notice the disconnect.
		ctx := c.Request().Context()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return nil
			}
		}
	}
}

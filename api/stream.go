package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

var errChannelClosed = errors.New("channel closed")

// sseChannel buffers outbound events for one SSE connection. A full buffer
// makes Send block until the write loop drains it or the hub's send deadline
// expires, at which point the hub drops the connection.
type sseChannel struct {
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

func newSSEChannel() *sseChannel {
	return &sseChannel{
		events: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (s *sseChannel) Send(ctx context.Context, payload []byte) error {
	select {
	case s.events <- payload:
		return nil
	case <-s.done:
		return errChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *sseChannel) Close() {
	s.once.Do(func() { close(s.done) })
}

// streamTasks joins the connection to the owner's channel set and relays
// fanned-out events as server-sent events. EventSource cannot set headers, so
// the bearer token may arrive as a query parameter instead.
func streamTasks(hub ConnectionRegistry, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := authFromHeaderOrQuery(c, auth)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorResponse{Message: err.Error()})
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.JSON(http.StatusInternalServerError, errorResponse{Message: "stream unsupported"})
		}
		c.Response().WriteHeader(http.StatusOK)
		flusher.Flush()

		ch := newSSEChannel()
		hub.Join(userID, ch)
		defer func() {
			hub.Leave(ch)
			ch.Close()
		}()

		ctx := c.Request().Context()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ch.done:
				return nil
			case payload := <-ch.events:
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(payload); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func authFromHeaderOrQuery(c echo.Context, auth Authenticator) (string, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header == "" {
		if token := c.QueryParam("token"); token != "" {
			header = "Bearer " + token
		}
	}
	return auth.UserIDFromAuthHeader(header)
}

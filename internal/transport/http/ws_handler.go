package http

import (
	"context"
	"errors"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/peerbeam/peerbeam-server/internal/auth"
	"github.com/peerbeam/peerbeam-server/internal/core"
	"github.com/peerbeam/peerbeam-server/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to core.Conn.
// The upgrade request carries either an access token (?token=) or a signed
// guest credential (?guest=); either must validate before the upgrade.
type WSHandler struct {
	hub  *core.Hub
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, auth: authService, log: logger}
}

// Handle is the gin entry point for /ws.
func (h *WSHandler) Handle(c *gin.Context) {
	identity, ok := h.authorize(c)
	if !ok {
		c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	client := core.NewConn(identity)
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	if code := client.CloseCode(); code != 0 {
		conn.Close(websocket.StatusCode(code), "liveness timeout")
		return
	}

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			h.log.Warn().Err(err).Str("user_id", client.UserID).Msg("ws connection closed with error")
			status = websocket.StatusInternalError
			reason = "internal error"
		}
	}

	conn.Close(status, reason)
}

// authorize validates the pre-upgrade credential and resolves the identity.
func (h *WSHandler) authorize(c *gin.Context) (core.Identity, bool) {
	if token := c.Query("token"); token != "" {
		claims, err := h.auth.ValidateToken(token)
		if err != nil || claims.IsGuest {
			h.log.Debug().Err(err).Msg("ws token rejected")
			return core.Identity{}, false
		}
		return core.Identity{UserID: claims.UserID, Username: claims.Username}, true
	}

	if credential := c.Query("guest"); credential != "" {
		claims, err := h.auth.ValidateToken(credential)
		if err != nil || !claims.IsGuest || claims.RoomID == "" {
			h.log.Debug().Err(err).Msg("ws guest credential rejected")
			return core.Identity{}, false
		}
		return core.Identity{
			UserID:       claims.UserID,
			Username:     claims.Username,
			Guest:        true,
			GuestRoom:    claims.RoomID,
			AllowPrivate: claims.AllowPrivate,
		}, true
	}

	return core.Identity{}, false
}

// readLoop pulls messages off the socket one at a time, preserving arrival
// order per connection. Malformed payloads are logged and dropped without
// closing the connection; unknown kinds are silently ignored.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		msg, err := proto.Decode(data)
		if err != nil {
			if !errors.Is(err, proto.ErrUnknownType) {
				h.log.Debug().Err(err).Str("user_id", client.UserID).Msg("dropping malformed message")
			}
			continue
		}

		h.hub.Dispatch(ctx, client, msg)
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Conn) error {
	for {
		select {
		case msg := <-client.Outbound():
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				h.log.Debug().Err(err).Str("user_id", client.UserID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

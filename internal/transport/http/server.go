package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/peerbeam/peerbeam-server/internal/auth"
	"github.com/peerbeam/peerbeam-server/internal/config"
	"github.com/peerbeam/peerbeam-server/internal/core"
	"github.com/peerbeam/peerbeam-server/internal/store"
)

// NewServer builds the HTTP server: REST surface plus the websocket route.
func NewServer(hub *core.Hub, authService *auth.Service, st store.Store, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	apiHandlers := NewAPIHandlers(authService, logger)
	roomHandlers := NewRoomHandlers(st, authService, logger)
	wsHandler := NewWSHandler(hub, authService, logger)

	api := router.Group("/api")
	{
		api.POST("/register", apiHandlers.Register)
		api.POST("/login", apiHandlers.Login)

		authed := api.Group("")
		authed.Use(AuthMiddleware(authService, logger))
		{
			authed.POST("/rooms", roomHandlers.CreateRoom)
			authed.GET("/rooms", roomHandlers.ListRooms)
			authed.POST("/rooms/:id/guest-token", roomHandlers.GuestToken)
			authed.GET("/rooms/:id/messages", roomHandlers.ListMessages)
		}
	}

	router.GET("/ws", wsHandler.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

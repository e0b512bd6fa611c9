package main

import (
	"github.com/commsapp/server/handlers"
	"github.com/commsapp/server/ws"
)

// Handlers holds every HTTP handler instance.
type Handlers struct {
	Auth   *handlers.AuthHandler
	Server *handlers.ServerHandler
	WS     *ws.Handler
}

func initHandlers(svcs *Services, limiters *RateLimiters, hub *ws.Hub) *Handlers {
	return &Handlers{
		Auth:   handlers.NewAuthHandler(svcs.Auth, limiters.Login),
		Server: handlers.NewServerHandler(svcs.Server),
		WS:     ws.NewHandler(hub, svcs.Auth),
	}
}

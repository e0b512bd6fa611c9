package main

import (
	"net/http"

	"github.com/commsapp/server/middleware"
)

// initRoutes binds every endpoint to the mux.
//
// Literal paths must be registered before parametric ones, otherwise
// the router reads the literal segment as a path value.
func initRoutes(mux *http.ServeMux, h *Handlers, authMw *middleware.AuthMiddleware) {
	auth := func(handler http.HandlerFunc) http.Handler {
		return authMw.Require(http.HandlerFunc(handler))
	}

	// Auth (public)
	mux.HandleFunc("POST /api/auth/register", h.Auth.Register)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)

	// User
	mux.Handle("GET /api/users/me", auth(h.Auth.Me))

	// Permission catalog
	mux.Handle("GET /api/permissions", auth(h.Server.ListPermissions))

	// Servers
	mux.Handle("POST /api/servers", auth(h.Server.Create))
	mux.Handle("GET /api/servers/invitation/{code}", auth(h.Server.GetByInvitation))
	mux.Handle("GET /api/servers/{serverId}", auth(h.Server.Get))
	mux.Handle("PATCH /api/servers/{serverId}", auth(h.Server.UpdateInfo))

	// Membership
	mux.Handle("POST /api/servers/{serverId}/members", auth(h.Server.Join))
	mux.Handle("DELETE /api/servers/{serverId}/members/me", auth(h.Server.Leave))
	mux.Handle("POST /api/servers/{serverId}/members/kick", auth(h.Server.Kick))

	// Roles
	mux.Handle("POST /api/servers/{serverId}/roles", auth(h.Server.AddRole))
	mux.Handle("PATCH /api/servers/{serverId}/roles/{roleId}", auth(h.Server.UpdateRole))

	// Channels
	mux.Handle("POST /api/servers/{serverId}/channel-groups", auth(h.Server.AddChannelGroup))
	mux.Handle("POST /api/servers/{serverId}/channels", auth(h.Server.AddChannel))

	// Messages
	mux.Handle("POST /api/servers/{serverId}/messages", auth(h.Server.SendMessage))

	// Invitations
	mux.Handle("POST /api/servers/{serverId}/invitations", auth(h.Server.Invite))

	// WebSocket. Authenticated via token query parameter because
	// browsers cannot set custom headers on the upgrade request.
	mux.HandleFunc("GET /ws", h.WS.HandleConnection)
}

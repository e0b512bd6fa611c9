package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/commsapp/server/models"
	"github.com/commsapp/server/pkg"
	"github.com/commsapp/server/services"
)

// ServerHandler serves the server aggregate endpoints.
type ServerHandler struct {
	serverService services.ServerService
}

func NewServerHandler(serverService services.ServerService) *ServerHandler {
	return &ServerHandler{serverService: serverService}
}

// caller extracts the authenticated user from the request context.
func caller(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := r.Context().Value(UserContextKey).(*models.User)
	if !ok {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "user not found in context")
		return nil, false
	}
	return user, true
}

// Create godoc
// POST /api/servers
func (h *ServerHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.CreateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	srv, err := h.serverService.CreateServer(r.Context(), user, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, srv)
}

// Get godoc
// GET /api/servers/{serverId}
// Non-members get 404, never 403.
func (h *ServerHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	srv, err := h.serverService.GetServerByID(r.Context(), r.PathValue("serverId"), user.ID)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, srv)
}

// GetByInvitation godoc
// GET /api/servers/invitation/{code}
// Invitation preview. Open to any authenticated user.
func (h *ServerHandler) GetByInvitation(w http.ResponseWriter, r *http.Request) {
	srv, err := h.serverService.GetServerByInvitation(r.Context(), r.PathValue("code"))
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, srv)
}

// UpdateInfo godoc
// PATCH /api/servers/{serverId}
func (h *ServerHandler) UpdateInfo(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.UpdateServerInfoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	srv, err := h.serverService.UpdateServerInfo(r.Context(), r.PathValue("serverId"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, srv)
}

// Join godoc
// POST /api/servers/{serverId}/members
func (h *ServerHandler) Join(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	srv, err := h.serverService.JoinServer(r.Context(), r.PathValue("serverId"), user)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, srv)
}

// Leave godoc
// DELETE /api/servers/{serverId}/members/me
func (h *ServerHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	if err := h.serverService.LeaveServer(r.Context(), r.PathValue("serverId"), user.ID); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "left the server"})
}

// Kick godoc
// POST /api/servers/{serverId}/members/kick
// Body: { "user_ids": [...] }
func (h *ServerHandler) Kick(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.KickMembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.serverService.KickMembers(r.Context(), r.PathValue("serverId"), user.ID, &req); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "members kicked"})
}

// AddRole godoc
// POST /api/servers/{serverId}/roles
func (h *ServerHandler) AddRole(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.AddRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := h.serverService.AddRole(r.Context(), r.PathValue("serverId"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, role)
}

// UpdateRole godoc
// PATCH /api/servers/{serverId}/roles/{roleId}
// Full desired state: fields, permission set and member linking.
func (h *ServerHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role, err := h.serverService.UpdateRole(r.Context(), r.PathValue("serverId"), r.PathValue("roleId"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, role)
}

// AddChannelGroup godoc
// POST /api/servers/{serverId}/channel-groups
func (h *ServerHandler) AddChannelGroup(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.AddChannelGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.serverService.AddChannelGroup(r.Context(), r.PathValue("serverId"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, group)
}

// AddChannel godoc
// POST /api/servers/{serverId}/channels
func (h *ServerHandler) AddChannel(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.AddChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	channel, err := h.serverService.AddChannel(r.Context(), r.PathValue("serverId"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, channel)
}

// SendMessage godoc
// POST /api/servers/{serverId}/messages
func (h *ServerHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.serverService.SendMessage(r.Context(), r.PathValue("serverId"), user.ID, &req)
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusCreated, msg)
}

// Invite godoc
// POST /api/servers/{serverId}/invitations
// Body: { "email": "..." }
func (h *ServerHandler) Invite(w http.ResponseWriter, r *http.Request) {
	user, ok := caller(w, r)
	if !ok {
		return
	}

	var req models.InviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkg.ErrorWithMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.serverService.SendInvitation(r.Context(), r.PathValue("serverId"), user.ID, &req); err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, map[string]string{"message": "invitation sent"})
}

// ListPermissions godoc
// GET /api/permissions
// The full permission catalog, for role editors.
func (h *ServerHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.serverService.GetAllPermissions(r.Context())
	if err != nil {
		pkg.Error(w, err)
		return
	}

	pkg.JSON(w, http.StatusOK, perms)
}

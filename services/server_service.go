package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/commsapp/server/models"
	"github.com/commsapp/server/pkg"
	"github.com/commsapp/server/pkg/email"
	"github.com/commsapp/server/repository"
	"github.com/commsapp/server/ws"
)

// AggregateCache is the slice of pkg/cache.TTLCache the service uses.
type AggregateCache interface {
	GetOrCreate(key string, factory func() (*models.Server, error)) (*models.Server, error)
	Set(key string, srv *models.Server)
	Delete(key string)
}

// ServerService orchestrates the server aggregate: creation, reads
// through the cache, membership, roles, channels and messages.
//
// Mutations write relationally first; only after every write succeeds
// is the aggregate patched and re-stored, so the cache never holds a
// half-applied state. Patches are applied to a clone of the cached
// instance and published wholesale, never to the instance concurrent
// readers are holding. Broadcasts fire after success and never affect
// the outcome.
type ServerService interface {
	CreateServer(ctx context.Context, owner *models.User, req *models.CreateServerRequest) (*models.Server, error)
	// GetServerByID serves from the cache. A non-empty userID scopes
	// the read: non-members get ErrNotFound, not ErrForbidden, so the
	// server's existence is not leaked.
	GetServerByID(ctx context.Context, serverID, userID string) (*models.Server, error)
	GetServerByInvitation(ctx context.Context, code string) (*models.Server, error)
	JoinServer(ctx context.Context, serverID string, user *models.User) (*models.Server, error)
	LeaveServer(ctx context.Context, serverID, userID string) error
	KickMembers(ctx context.Context, serverID, actorID string, req *models.KickMembersRequest) error
	AddRole(ctx context.Context, serverID, actorID string, req *models.AddRoleRequest) (*models.Role, error)
	UpdateRole(ctx context.Context, serverID, roleID, actorID string, req *models.UpdateRoleRequest) (*models.Role, error)
	AddChannelGroup(ctx context.Context, serverID, actorID string, req *models.AddChannelGroupRequest) (*models.ChannelGroup, error)
	AddChannel(ctx context.Context, serverID, actorID string, req *models.AddChannelRequest) (*models.Channel, error)
	UpdateServerInfo(ctx context.Context, serverID, actorID string, req *models.UpdateServerInfoRequest) (*models.Server, error)
	SendMessage(ctx context.Context, serverID, senderID string, req *models.CreateMessageRequest) (*models.ChatMessage, error)
	SendInvitation(ctx context.Context, serverID, actorID string, req *models.InviteRequest) error
	GetAllPermissions(ctx context.Context) ([]*models.Permission, error)
	// EnsurePermissions seeds the permission catalog; called once at
	// startup.
	EnsurePermissions(ctx context.Context) error
	UpdateCache(srv *models.Server)
}

type serverService struct {
	serverRepo  repository.ServerRepository
	messageRepo repository.MessageRepository
	cache       AggregateCache
	hub         ws.EventPublisher
	email       email.EmailSender // nil when email is not configured
}

// NewServerService creates the ServerService. emailSender may be nil;
// invitation emails are then rejected as unconfigured.
func NewServerService(
	serverRepo repository.ServerRepository,
	messageRepo repository.MessageRepository,
	cache AggregateCache,
	hub ws.EventPublisher,
	emailSender email.EmailSender,
) ServerService {
	return &serverService{
		serverRepo:  serverRepo,
		messageRepo: messageRepo,
		cache:       cache,
		hub:         hub,
		email:       emailSender,
	}
}

func cacheKey(serverID string) string {
	return "server_" + serverID
}

// getAggregate is the single read path: cache hit or a full load
// (structure, permissions, messages) stored back under the TTL.
func (s *serverService) getAggregate(ctx context.Context, serverID string) (*models.Server, error) {
	return s.cache.GetOrCreate(cacheKey(serverID), func() (*models.Server, error) {
		return s.loadAggregate(ctx, serverID)
	})
}

func (s *serverService) loadAggregate(ctx context.Context, serverID string) (*models.Server, error) {
	srv, err := s.serverRepo.GetServerByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.serverRepo.AttachRolePermissions(ctx, srv); err != nil {
		return nil, err
	}
	if err := s.hydrateMessages(ctx, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *serverService) hydrateMessages(ctx context.Context, srv *models.Server) error {
	byChannel, err := s.messageRepo.GetServerMessages(ctx, srv.ID)
	if err != nil {
		return err
	}
	for _, g := range srv.ChannelGroups {
		for _, c := range g.Channels {
			c.Messages = byChannel[c.ID]
		}
	}
	return nil
}

func (s *serverService) GetServerByID(ctx context.Context, serverID, userID string) (*models.Server, error) {
	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if userID != "" && !srv.HasMember(userID) {
		return nil, fmt.Errorf("server %s: %w", serverID, pkg.ErrNotFound)
	}
	return srv, nil
}

func (s *serverService) GetServerByInvitation(ctx context.Context, code string) (*models.Server, error) {
	srv, err := s.serverRepo.GetServerByInvitation(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.serverRepo.AttachRolePermissions(ctx, srv); err != nil {
		return nil, err
	}
	return srv, nil
}

func (s *serverService) GetAllPermissions(ctx context.Context) ([]*models.Permission, error) {
	return s.serverRepo.GetAllPermissions(ctx)
}

// CreateServer writes the full default layout in one transaction:
// server row, owner profile, "@everyone" role with its default
// permission grants, one channel group and one channel. Any write
// touching zero rows aborts the whole creation. The returned aggregate
// mirrors the writes without a relational re-read.
func (s *serverService) CreateServer(ctx context.Context, owner *models.User, req *models.CreateServerRequest) (*models.Server, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	catalog, err := s.serverRepo.GetAllPermissions(ctx)
	if err != nil {
		return nil, err
	}
	defaultPerms := defaultPermissions(catalog)

	invitation, err := newInvitationCode()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	srv := &models.Server{
		ID:             uuid.NewString(),
		Name:           req.Name,
		InvitationCode: invitation,
		Description:    req.Description,
		OwnerID:        owner.ID,
		IconURL:        req.IconURL,
		ServerType:     req.ServerType,
		CreatedAt:      now,
		ChannelGroups:  []*models.ChannelGroup{},
		Members:        []*models.Member{},
		Roles:          []*models.Role{},
	}

	everyone := &models.Role{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		Name:        models.EveryoneRoleName,
		Hierarchy:   1,
		Permissions: defaultPerms,
	}

	ownerMember := &models.Member{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		UserID:      owner.ID,
		Username:    owner.Username,
		DisplayName: owner.DisplayName,
		AvatarURL:   owner.AvatarURL,
		JoinedAt:    now,
	}

	group := &models.ChannelGroup{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		Name:        models.DefaultChannelGroupName,
		OrderNumber: 1,
	}

	channel := &models.Channel{
		ID:             uuid.NewString(),
		ChannelGroupID: group.ID,
		Name:           models.DefaultChannelName,
		OrderNumber:    1,
	}

	err = s.serverRepo.WithTx(ctx, func(repo repository.ServerRepository) error {
		if n, err := repo.InsertServer(ctx, srv); err != nil || n == 0 {
			return insertFailed("server", err)
		}
		if n, err := repo.InsertProfile(ctx, ownerMember); err != nil || n == 0 {
			return insertFailed("owner profile", err)
		}
		if n, err := repo.InsertRole(ctx, everyone); err != nil || n == 0 {
			return insertFailed("default role", err)
		}
		permIDs := permissionIDs(defaultPerms)
		if n, err := repo.UpsertRolePermissions(ctx, everyone.ID, permIDs); err != nil || n < int64(len(permIDs)) {
			return insertFailed("default role permissions", err)
		}
		if n, err := repo.InsertChannelGroup(ctx, group); err != nil || n == 0 {
			return insertFailed("default channel group", err)
		}
		if n, err := repo.InsertChannel(ctx, channel); err != nil || n == 0 {
			return insertFailed("default channel", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	// Mirror the committed writes in memory.
	ownerMember.Roles = []*models.Role{everyone.Clone()}
	group.Channels = []*models.Channel{channel}
	srv.Roles = []*models.Role{everyone}
	srv.Members = []*models.Member{ownerMember}
	srv.ChannelGroups = []*models.ChannelGroup{group}

	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] created server %s (%s) for user %s", srv.ID, srv.Name, owner.ID)

	s.hub.BroadcastToUser(owner.ID, ws.Event{
		Op:   ws.OpServerUpdated,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: srv},
	})

	return srv, nil
}

func (s *serverService) JoinServer(ctx context.Context, serverID string, user *models.User) (*models.Server, error) {
	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	// Patch a private copy; readers keep the published instance until
	// the copy replaces it.
	srv = srv.Clone()

	member := &models.Member{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
		JoinedAt:    time.Now().UTC(),
	}

	n, err := s.serverRepo.InsertProfile(ctx, member)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("user %s is already a member: %w", user.ID, pkg.ErrAlreadyExists)
	}

	// Re-derive the member list instead of guessing at the insert's
	// effects, then refresh messages and re-store.
	members, err := s.serverRepo.LoadMembers(ctx, srv)
	if err != nil {
		return nil, err
	}
	srv.Members = members

	if err := s.hydrateMessages(ctx, srv); err != nil {
		return nil, err
	}

	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] user %s joined server %s", user.ID, srv.ID)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpMemberJoined,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: srv.MemberByUserID(user.ID)},
	})

	return srv, nil
}

func (s *serverService) LeaveServer(ctx context.Context, serverID, userID string) error {
	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.OwnerID == userID {
		return fmt.Errorf("%w: the owner cannot leave the server", pkg.ErrBadRequest)
	}
	srv = srv.Clone()

	err = s.serverRepo.WithTx(ctx, func(repo repository.ServerRepository) error {
		n, err := repo.DeleteProfile(ctx, serverID, userID)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("user %s is not a member: %w", userID, pkg.ErrNotFound)
		}
		if _, err := repo.DeleteUserRolesByServer(ctx, serverID, []string{userID}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Patch the cached copy; no relational re-read.
	srv.RemoveMembersByUserID(userID)
	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] user %s left server %s", userID, serverID)

	s.hub.BroadcastToUsers(append(memberUserIDs(srv), userID), ws.Event{
		Op:   ws.OpMemberLeft,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: userID},
	})

	return nil
}

func (s *serverService) KickMembers(ctx context.Context, serverID, actorID string, req *models.KickMembersRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return err
	}
	if err := s.authorize(srv, actorID, models.PermKickApproveMembers); err != nil {
		return err
	}
	for _, id := range req.UserIDs {
		if id == srv.OwnerID {
			return fmt.Errorf("%w: the owner cannot be kicked", pkg.ErrBadRequest)
		}
	}
	srv = srv.Clone()

	err = s.serverRepo.WithTx(ctx, func(repo repository.ServerRepository) error {
		n, err := repo.DeleteProfiles(ctx, serverID, req.UserIDs)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no matching members: %w", pkg.ErrNotFound)
		}
		if _, err := repo.DeleteUserRolesByServer(ctx, serverID, req.UserIDs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	srv.RemoveMembersByUserID(req.UserIDs...)
	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] kicked %d member(s) from server %s", len(req.UserIDs), serverID)

	s.hub.BroadcastToUsers(append(memberUserIDs(srv), req.UserIDs...), ws.Event{
		Op:   ws.OpMemberKicked,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: req.UserIDs},
	})

	return nil
}

// AddRole inserts the role and re-anchors "@everyone" to the bottom of
// the hierarchy in the same transaction: either both rows land or
// neither does.
func (s *serverService) AddRole(ctx context.Context, serverID, actorID string, req *models.AddRoleRequest) (*models.Role, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(srv, actorID, models.PermManageRoles); err != nil {
		return nil, err
	}
	srv = srv.Clone()

	everyone := srv.RoleByName(models.EveryoneRoleName)
	if everyone == nil {
		return nil, fmt.Errorf("server %s has no baseline role: %w", serverID, pkg.ErrInternal)
	}

	role := &models.Role{
		ID:                uuid.NewString(),
		ServerID:          srv.ID,
		Name:              req.Name,
		HexColour:         req.HexColour,
		Hierarchy:         len(srv.Roles),
		DisplaySeparately: req.DisplaySeparately,
		Permissions:       []*models.Permission{},
	}
	newEveryoneHierarchy := len(srv.Roles) + 1

	err = s.serverRepo.WithTx(ctx, func(repo repository.ServerRepository) error {
		if n, err := repo.InsertRole(ctx, role); err != nil || n == 0 {
			return insertFailed("role", err)
		}
		n, err := repo.UpdateRoleHierarchy(ctx, everyone.ID, newEveryoneHierarchy)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("baseline role %s vanished: %w", everyone.ID, pkg.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add role: %w", err)
	}

	// Patch the canonical role, every member's copy of it, and append
	// the new role.
	everyone.Hierarchy = newEveryoneHierarchy
	for _, m := range srv.Members {
		if cp := m.RoleByID(everyone.ID); cp != nil {
			cp.Hierarchy = newEveryoneHierarchy
		}
		m.SortRoles()
	}
	srv.Roles = append(srv.Roles, role)

	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] added role %s (%s) to server %s", role.ID, role.Name, serverID)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpRoleAdded,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: role},
	})

	return role, nil
}

// UpdateRole applies the full desired state in one transaction: field
// update, permission links converged to exactly the requested set, and
// member links added/removed. The cached aggregate is then patched:
// canonical role, every member copy, attachments and detachments.
func (s *serverService) UpdateRole(ctx context.Context, serverID, roleID, actorID string, req *models.UpdateRoleRequest) (*models.Role, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(srv, actorID, models.PermManageRoles); err != nil {
		return nil, err
	}
	srv = srv.Clone()

	role := srv.RoleByID(roleID)
	if role == nil {
		return nil, fmt.Errorf("role %s: %w", roleID, pkg.ErrNotFound)
	}
	if role.Name == models.EveryoneRoleName && req.Name != models.EveryoneRoleName {
		return nil, fmt.Errorf("%w: the baseline role cannot be renamed", pkg.ErrBadRequest)
	}

	// The baseline role stays anchored at the bottom of the hierarchy;
	// a requested hierarchy for it is ignored.
	hierarchy := req.Hierarchy
	if role.Name == models.EveryoneRoleName {
		hierarchy = role.Hierarchy
	}

	for _, id := range req.Linking.NewMembers {
		if !srv.HasMember(id) {
			return nil, fmt.Errorf("%w: user %s is not a member", pkg.ErrBadRequest, id)
		}
	}

	catalog, err := s.serverRepo.GetAllPermissions(ctx)
	if err != nil {
		return nil, err
	}
	perms, err := resolvePermissions(catalog, req.PermissionIDs)
	if err != nil {
		return nil, err
	}

	updated := &models.Role{
		ID:                roleID,
		ServerID:          srv.ID,
		Name:              req.Name,
		HexColour:         req.HexColour,
		Hierarchy:         hierarchy,
		DisplaySeparately: req.DisplaySeparately,
	}

	err = s.serverRepo.WithTx(ctx, func(repo repository.ServerRepository) error {
		n, err := repo.UpdateRole(ctx, updated)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("role %s: %w", roleID, pkg.ErrNotFound)
		}
		if _, err := repo.UpsertRolePermissions(ctx, roleID, req.PermissionIDs); err != nil {
			return err
		}
		if _, err := repo.DeleteRolePermissionsNotIn(ctx, roleID, req.PermissionIDs); err != nil {
			return err
		}
		for _, userID := range req.Linking.NewMembers {
			if _, err := repo.InsertUserRole(ctx, userID, roleID, srv.ID); err != nil {
				return err
			}
		}
		for _, userID := range req.Linking.RemovedMembers {
			if _, err := repo.DeleteUserRole(ctx, userID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	// Canonical first.
	role.Name = req.Name
	role.HexColour = req.HexColour
	role.Hierarchy = hierarchy
	role.DisplaySeparately = req.DisplaySeparately
	role.Permissions = perms

	newMembers := make(map[string]bool, len(req.Linking.NewMembers))
	for _, id := range req.Linking.NewMembers {
		newMembers[id] = true
	}
	removed := make(map[string]bool, len(req.Linking.RemovedMembers))
	for _, id := range req.Linking.RemovedMembers {
		removed[id] = true
	}

	for _, m := range srv.Members {
		switch {
		case removed[m.UserID]:
			m.RemoveRole(roleID)
		case newMembers[m.UserID] && !m.HasRole(roleID):
			m.Roles = append(m.Roles, role.Clone())
		default:
			if cp := m.RoleByID(roleID); cp != nil {
				cp.Name = role.Name
				cp.HexColour = role.HexColour
				cp.Hierarchy = role.Hierarchy
				cp.DisplaySeparately = role.DisplaySeparately
				cp.Permissions = make([]*models.Permission, len(role.Permissions))
				copy(cp.Permissions, role.Permissions)
			}
		}
		m.SortRoles()
	}

	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] updated role %s on server %s", roleID, serverID)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpRoleUpdated,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: role},
	})

	return role, nil
}

func (s *serverService) AddChannelGroup(ctx context.Context, serverID, actorID string, req *models.AddChannelGroupRequest) (*models.ChannelGroup, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(srv, actorID, models.PermManageChannels); err != nil {
		return nil, err
	}
	srv = srv.Clone()

	order := req.OrderNumber
	if order == 0 {
		order = len(srv.ChannelGroups) + 1
	}

	group := &models.ChannelGroup{
		ID:          uuid.NewString(),
		ServerID:    srv.ID,
		Name:        req.Name,
		OrderNumber: order,
		Channels:    []*models.Channel{},
	}

	if n, err := s.serverRepo.InsertChannelGroup(ctx, group); err != nil || n == 0 {
		return nil, fmt.Errorf("failed to add channel group: %w", orInternal(err))
	}

	srv.ChannelGroups = append(srv.ChannelGroups, group)
	sortGroups(srv)
	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] added channel group %s to server %s", group.ID, serverID)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpChannelGroupAdded,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: group},
	})

	return group, nil
}

// AddChannel distinguishes a missing group (not found) from a failed
// insert: the first is the caller's error, the second is ours.
func (s *serverService) AddChannel(ctx context.Context, serverID, actorID string, req *models.AddChannelRequest) (*models.Channel, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(srv, actorID, models.PermManageChannels); err != nil {
		return nil, err
	}
	srv = srv.Clone()

	group := srv.GroupByID(req.ChannelGroupID)
	if group == nil {
		return nil, fmt.Errorf("channel group %s: %w", req.ChannelGroupID, pkg.ErrNotFound)
	}

	order := req.OrderNumber
	if order == 0 {
		order = len(group.Channels) + 1
	}

	channel := &models.Channel{
		ID:             uuid.NewString(),
		ChannelGroupID: group.ID,
		Name:           req.Name,
		OrderNumber:    order,
	}

	if n, err := s.serverRepo.InsertChannel(ctx, channel); err != nil || n == 0 {
		return nil, fmt.Errorf("failed to add channel: %w", orInternal(err))
	}

	group.Channels = append(group.Channels, channel)
	sortChannels(group)
	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] added channel %s to group %s on server %s", channel.ID, group.ID, serverID)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpChannelAdded,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: channel},
	})

	return channel, nil
}

func (s *serverService) UpdateServerInfo(ctx context.Context, serverID, actorID string, req *models.UpdateServerInfoRequest) (*models.Server, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(srv, actorID, models.PermManageServer); err != nil {
		return nil, err
	}
	srv = srv.Clone()

	n, err := s.serverRepo.UpdateServerInfo(ctx, serverID, req.Name, req.Description)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("server %s: %w", serverID, pkg.ErrNotFound)
	}

	if req.Name != nil {
		srv.Name = *req.Name
	}
	if req.Description != nil {
		srv.Description = *req.Description
	}
	s.cache.Set(cacheKey(srv.ID), srv)
	log.Printf("[server] updated info of server %s", serverID)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpServerUpdated,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: srv},
	})

	return srv, nil
}

func (s *serverService) SendMessage(ctx context.Context, serverID, senderID string, req *models.CreateMessageRequest) (*models.ChatMessage, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if !srv.HasMember(senderID) {
		return nil, fmt.Errorf("server %s: %w", serverID, pkg.ErrNotFound)
	}
	srv = srv.Clone()

	var channel *models.Channel
	for _, g := range srv.ChannelGroups {
		if c := g.ChannelByID(req.ChannelID); c != nil {
			channel = c
			break
		}
	}
	if channel == nil {
		return nil, fmt.Errorf("channel %s: %w", req.ChannelID, pkg.ErrNotFound)
	}

	msg := &models.ChatMessage{
		ID:        uuid.NewString(),
		ChannelID: channel.ID,
		ServerID:  srv.ID,
		SenderID:  senderID,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}

	if n, err := s.messageRepo.Insert(ctx, msg); err != nil || n == 0 {
		return nil, fmt.Errorf("failed to send message: %w", orInternal(err))
	}

	channel.Messages = append(channel.Messages, msg)
	s.cache.Set(cacheKey(srv.ID), srv)

	s.hub.BroadcastToUsers(memberUserIDs(srv), ws.Event{
		Op:   ws.OpMessageCreated,
		Data: ws.ServerEventData{ServerID: srv.ID, Entity: msg},
	})

	return msg, nil
}

func (s *serverService) SendInvitation(ctx context.Context, serverID, actorID string, req *models.InviteRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}
	if s.email == nil {
		return fmt.Errorf("%w: email sending is not configured", pkg.ErrBadRequest)
	}

	srv, err := s.getAggregate(ctx, serverID)
	if err != nil {
		return err
	}
	if err := s.authorize(srv, actorID, models.PermCreateInvite); err != nil {
		return err
	}

	code := srv.CustomInvitationCode
	if code == "" {
		code = srv.InvitationCode
	}

	if err := s.email.SendServerInvitation(ctx, req.Email, srv.Name, code); err != nil {
		return err
	}

	log.Printf("[server] invitation for server %s sent to %s", serverID, req.Email)
	return nil
}

func (s *serverService) EnsurePermissions(ctx context.Context) error {
	return s.serverRepo.WithTx(ctx, func(repo repository.ServerRepository) error {
		for _, t := range models.AllPermissionTypes() {
			perm := &models.Permission{
				ID:             uuid.NewString(),
				PermissionType: t,
				PermissionName: t.String(),
			}
			if _, err := repo.UpsertPermission(ctx, perm); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *serverService) UpdateCache(srv *models.Server) {
	s.cache.Set(cacheKey(srv.ID), srv)
}

// authorize passes for the owner, for members holding the permission
// through any role, and for AdminPrivileges holders.
func (s *serverService) authorize(srv *models.Server, userID string, perm models.PermissionType) error {
	if srv.OwnerID == userID {
		return nil
	}
	m := srv.MemberByUserID(userID)
	if m == nil {
		return fmt.Errorf("server %s: %w", srv.ID, pkg.ErrNotFound)
	}
	for _, role := range m.Roles {
		for _, p := range role.Permissions {
			if p.PermissionType == perm || p.PermissionType == models.PermAdminPrivileges {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: missing %s permission", pkg.ErrForbidden, perm)
}

func memberUserIDs(srv *models.Server) []string {
	ids := make([]string, 0, len(srv.Members))
	for _, m := range srv.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func defaultPermissions(catalog []*models.Permission) []*models.Permission {
	wanted := make(map[models.PermissionType]bool, len(models.DefaultRolePermissions))
	for _, t := range models.DefaultRolePermissions {
		wanted[t] = true
	}
	perms := make([]*models.Permission, 0, len(models.DefaultRolePermissions))
	for _, p := range catalog {
		if wanted[p.PermissionType] {
			perms = append(perms, p)
		}
	}
	return perms
}

func resolvePermissions(catalog []*models.Permission, ids []string) ([]*models.Permission, error) {
	byID := make(map[string]*models.Permission, len(catalog))
	for _, p := range catalog {
		byID[p.ID] = p
	}
	perms := make([]*models.Permission, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: unknown permission %s", pkg.ErrBadRequest, id)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func permissionIDs(perms []*models.Permission) []string {
	ids := make([]string, 0, len(perms))
	for _, p := range perms {
		ids = append(ids, p.ID)
	}
	return ids
}

func sortGroups(srv *models.Server) {
	sort.SliceStable(srv.ChannelGroups, func(i, j int) bool {
		return srv.ChannelGroups[i].OrderNumber < srv.ChannelGroups[j].OrderNumber
	})
}

func sortChannels(g *models.ChannelGroup) {
	sort.SliceStable(g.Channels, func(i, j int) bool {
		return g.Channels[i].OrderNumber < g.Channels[j].OrderNumber
	})
}

func insertFailed(what string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	return fmt.Errorf("failed to insert %s: no rows affected", what)
}

func orInternal(err error) error {
	if err != nil {
		return err
	}
	return pkg.ErrInternal
}

func newInvitationCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation code: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

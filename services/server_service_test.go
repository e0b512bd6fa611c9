package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commsapp/server/models"
	"github.com/commsapp/server/pkg"
	"github.com/commsapp/server/repository"
	"github.com/commsapp/server/ws"
)

// mockServerRepo implements repository.ServerRepository with function
// fields. Unset fields succeed with neutral defaults; WithTx just runs
// fn against the mock itself.
type mockServerRepo struct {
	WithTxFn                     func(ctx context.Context, fn func(repository.ServerRepository) error) error
	InsertServerFn               func(ctx context.Context, srv *models.Server) (int64, error)
	GetServerByIDFn              func(ctx context.Context, serverID string) (*models.Server, error)
	GetServerByInvitationFn      func(ctx context.Context, code string) (*models.Server, error)
	UpdateServerInfoFn           func(ctx context.Context, serverID string, name, description *string) (int64, error)
	InsertRoleFn                 func(ctx context.Context, role *models.Role) (int64, error)
	UpdateRoleFn                 func(ctx context.Context, role *models.Role) (int64, error)
	UpdateRoleHierarchyFn        func(ctx context.Context, roleID string, hierarchy int) (int64, error)
	UpsertRolePermissionsFn      func(ctx context.Context, roleID string, permissionIDs []string) (int64, error)
	DeleteRolePermissionsNotInFn func(ctx context.Context, roleID string, keep []string) (int64, error)
	InsertUserRoleFn             func(ctx context.Context, userID, roleID, serverID string) (int64, error)
	DeleteUserRoleFn             func(ctx context.Context, userID, roleID string) (int64, error)
	DeleteUserRolesByServerFn    func(ctx context.Context, serverID string, userIDs []string) (int64, error)
	InsertProfileFn              func(ctx context.Context, member *models.Member) (int64, error)
	DeleteProfileFn              func(ctx context.Context, serverID, userID string) (int64, error)
	DeleteProfilesFn             func(ctx context.Context, serverID string, userIDs []string) (int64, error)
	LoadMembersFn                func(ctx context.Context, srv *models.Server) ([]*models.Member, error)
	InsertChannelGroupFn         func(ctx context.Context, group *models.ChannelGroup) (int64, error)
	InsertChannelFn              func(ctx context.Context, channel *models.Channel) (int64, error)
	GetAllPermissionsFn          func(ctx context.Context) ([]*models.Permission, error)
	UpsertPermissionFn           func(ctx context.Context, perm *models.Permission) (int64, error)
	AttachRolePermissionsFn      func(ctx context.Context, srv *models.Server) error
}

func (m *mockServerRepo) WithTx(ctx context.Context, fn func(repository.ServerRepository) error) error {
	if m.WithTxFn != nil {
		return m.WithTxFn(ctx, fn)
	}
	return fn(m)
}

func (m *mockServerRepo) InsertServer(ctx context.Context, srv *models.Server) (int64, error) {
	if m.InsertServerFn != nil {
		return m.InsertServerFn(ctx, srv)
	}
	return 1, nil
}

func (m *mockServerRepo) GetServerByID(ctx context.Context, serverID string) (*models.Server, error) {
	if m.GetServerByIDFn != nil {
		return m.GetServerByIDFn(ctx, serverID)
	}
	return nil, fmt.Errorf("server %s: %w", serverID, pkg.ErrNotFound)
}

func (m *mockServerRepo) GetServerByInvitation(ctx context.Context, code string) (*models.Server, error) {
	if m.GetServerByInvitationFn != nil {
		return m.GetServerByInvitationFn(ctx, code)
	}
	return nil, fmt.Errorf("invitation %s: %w", code, pkg.ErrNotFound)
}

func (m *mockServerRepo) UpdateServerInfo(ctx context.Context, serverID string, name, description *string) (int64, error) {
	if m.UpdateServerInfoFn != nil {
		return m.UpdateServerInfoFn(ctx, serverID, name, description)
	}
	return 1, nil
}

func (m *mockServerRepo) InsertRole(ctx context.Context, role *models.Role) (int64, error) {
	if m.InsertRoleFn != nil {
		return m.InsertRoleFn(ctx, role)
	}
	return 1, nil
}

func (m *mockServerRepo) UpdateRole(ctx context.Context, role *models.Role) (int64, error) {
	if m.UpdateRoleFn != nil {
		return m.UpdateRoleFn(ctx, role)
	}
	return 1, nil
}

func (m *mockServerRepo) UpdateRoleHierarchy(ctx context.Context, roleID string, hierarchy int) (int64, error) {
	if m.UpdateRoleHierarchyFn != nil {
		return m.UpdateRoleHierarchyFn(ctx, roleID, hierarchy)
	}
	return 1, nil
}

func (m *mockServerRepo) UpsertRolePermissions(ctx context.Context, roleID string, permissionIDs []string) (int64, error) {
	if m.UpsertRolePermissionsFn != nil {
		return m.UpsertRolePermissionsFn(ctx, roleID, permissionIDs)
	}
	return int64(len(permissionIDs)), nil
}

func (m *mockServerRepo) DeleteRolePermissionsNotIn(ctx context.Context, roleID string, keep []string) (int64, error) {
	if m.DeleteRolePermissionsNotInFn != nil {
		return m.DeleteRolePermissionsNotInFn(ctx, roleID, keep)
	}
	return 0, nil
}

func (m *mockServerRepo) InsertUserRole(ctx context.Context, userID, roleID, serverID string) (int64, error) {
	if m.InsertUserRoleFn != nil {
		return m.InsertUserRoleFn(ctx, userID, roleID, serverID)
	}
	return 1, nil
}

func (m *mockServerRepo) DeleteUserRole(ctx context.Context, userID, roleID string) (int64, error) {
	if m.DeleteUserRoleFn != nil {
		return m.DeleteUserRoleFn(ctx, userID, roleID)
	}
	return 1, nil
}

func (m *mockServerRepo) DeleteUserRolesByServer(ctx context.Context, serverID string, userIDs []string) (int64, error) {
	if m.DeleteUserRolesByServerFn != nil {
		return m.DeleteUserRolesByServerFn(ctx, serverID, userIDs)
	}
	return 0, nil
}

func (m *mockServerRepo) InsertProfile(ctx context.Context, member *models.Member) (int64, error) {
	if m.InsertProfileFn != nil {
		return m.InsertProfileFn(ctx, member)
	}
	return 1, nil
}

func (m *mockServerRepo) DeleteProfile(ctx context.Context, serverID, userID string) (int64, error) {
	if m.DeleteProfileFn != nil {
		return m.DeleteProfileFn(ctx, serverID, userID)
	}
	return 1, nil
}

func (m *mockServerRepo) DeleteProfiles(ctx context.Context, serverID string, userIDs []string) (int64, error) {
	if m.DeleteProfilesFn != nil {
		return m.DeleteProfilesFn(ctx, serverID, userIDs)
	}
	return int64(len(userIDs)), nil
}

func (m *mockServerRepo) LoadMembers(ctx context.Context, srv *models.Server) ([]*models.Member, error) {
	if m.LoadMembersFn != nil {
		return m.LoadMembersFn(ctx, srv)
	}
	return srv.Members, nil
}

func (m *mockServerRepo) InsertChannelGroup(ctx context.Context, group *models.ChannelGroup) (int64, error) {
	if m.InsertChannelGroupFn != nil {
		return m.InsertChannelGroupFn(ctx, group)
	}
	return 1, nil
}

func (m *mockServerRepo) InsertChannel(ctx context.Context, channel *models.Channel) (int64, error) {
	if m.InsertChannelFn != nil {
		return m.InsertChannelFn(ctx, channel)
	}
	return 1, nil
}

func (m *mockServerRepo) GetAllPermissions(ctx context.Context) ([]*models.Permission, error) {
	if m.GetAllPermissionsFn != nil {
		return m.GetAllPermissionsFn(ctx)
	}
	return testCatalog(), nil
}

func (m *mockServerRepo) UpsertPermission(ctx context.Context, perm *models.Permission) (int64, error) {
	if m.UpsertPermissionFn != nil {
		return m.UpsertPermissionFn(ctx, perm)
	}
	return 1, nil
}

func (m *mockServerRepo) AttachRolePermissions(ctx context.Context, srv *models.Server) error {
	if m.AttachRolePermissionsFn != nil {
		return m.AttachRolePermissionsFn(ctx, srv)
	}
	return nil
}

// mockMessageRepo implements repository.MessageRepository.
type mockMessageRepo struct {
	InsertFn            func(ctx context.Context, msg *models.ChatMessage) (int64, error)
	GetServerMessagesFn func(ctx context.Context, serverID string) (map[string][]*models.ChatMessage, error)
}

func (m *mockMessageRepo) Insert(ctx context.Context, msg *models.ChatMessage) (int64, error) {
	if m.InsertFn != nil {
		return m.InsertFn(ctx, msg)
	}
	return 1, nil
}

func (m *mockMessageRepo) GetServerMessages(ctx context.Context, serverID string) (map[string][]*models.ChatMessage, error) {
	if m.GetServerMessagesFn != nil {
		return m.GetServerMessagesFn(ctx, serverID)
	}
	return map[string][]*models.ChatMessage{}, nil
}

// fakeCache is a plain map behind the AggregateCache interface.
type fakeCache struct {
	entries map[string]*models.Server
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*models.Server)}
}

func (c *fakeCache) GetOrCreate(key string, factory func() (*models.Server, error)) (*models.Server, error) {
	if srv, ok := c.entries[key]; ok {
		return srv, nil
	}
	srv, err := factory()
	if err != nil {
		return nil, err
	}
	c.entries[key] = srv
	return srv, nil
}

func (c *fakeCache) Set(key string, srv *models.Server) { c.entries[key] = srv }

func (c *fakeCache) Delete(key string) { delete(c.entries, key) }

func (c *fakeCache) get(key string) (*models.Server, bool) {
	srv, ok := c.entries[key]
	return srv, ok
}

// recordingHub captures broadcasts.
type recordingHub struct {
	events    []ws.Event
	userLists [][]string
}

func (h *recordingHub) BroadcastToUsers(userIDs []string, event ws.Event) {
	h.userLists = append(h.userLists, userIDs)
	h.events = append(h.events, event)
}

func (h *recordingHub) BroadcastToUser(userID string, event ws.Event) {
	h.userLists = append(h.userLists, []string{userID})
	h.events = append(h.events, event)
}

func (h *recordingHub) GetOnlineUserIDs() []string { return nil }

func testCatalog() []*models.Permission {
	types := models.AllPermissionTypes()
	catalog := make([]*models.Permission, 0, len(types))
	for i, t := range types {
		catalog = append(catalog, &models.Permission{
			ID:             fmt.Sprintf("perm-%d", i),
			PermissionType: t,
			PermissionName: t.String(),
		})
	}
	return catalog
}

func catalogPerm(t models.PermissionType) *models.Permission {
	for _, p := range testCatalog() {
		if p.PermissionType == t {
			return p
		}
	}
	return nil
}

// testAggregate builds a cached aggregate: owner u1, plain member u2
// with only "@everyone", moderator u3 holding KickApproveMembers and
// ManageRoles, one group with one channel.
func testAggregate() *models.Server {
	everyone := &models.Role{
		ID: "r-everyone", ServerID: "srv1", Name: models.EveryoneRoleName, Hierarchy: 3,
		Permissions: []*models.Permission{catalogPerm(models.PermSendMessages)},
	}
	mod := &models.Role{
		ID: "r-mod", ServerID: "srv1", Name: "Moderator", Hierarchy: 1,
		Permissions: []*models.Permission{
			catalogPerm(models.PermKickApproveMembers),
			catalogPerm(models.PermManageRoles),
			catalogPerm(models.PermManageChannels),
			catalogPerm(models.PermManageServer),
		},
	}

	members := []*models.Member{
		{ID: "p1", ServerID: "srv1", UserID: "u1", Username: "owner", Roles: []*models.Role{everyone.Clone()}},
		{ID: "p2", ServerID: "srv1", UserID: "u2", Username: "plain", Roles: []*models.Role{everyone.Clone()}},
		{ID: "p3", ServerID: "srv1", UserID: "u3", Username: "mod", Roles: []*models.Role{mod.Clone(), everyone.Clone()}},
	}

	return &models.Server{
		ID:             "srv1",
		Name:           "Test Server",
		OwnerID:        "u1",
		InvitationCode: "abc123",
		CreatedAt:      time.Now().UTC(),
		Roles:          []*models.Role{everyone, mod},
		Members:        members,
		ChannelGroups: []*models.ChannelGroup{
			{ID: "g1", ServerID: "srv1", Name: "Text Channels", OrderNumber: 1, Channels: []*models.Channel{
				{ID: "c1", ChannelGroupID: "g1", Name: "general", OrderNumber: 1},
			}},
		},
	}
}

type fixture struct {
	svc   ServerService
	repo  *mockServerRepo
	msgs  *mockMessageRepo
	cache *fakeCache
	hub   *recordingHub
}

func newFixture(seed *models.Server) *fixture {
	f := &fixture{
		repo:  &mockServerRepo{},
		msgs:  &mockMessageRepo{},
		cache: newFakeCache(),
		hub:   &recordingHub{},
	}
	if seed != nil {
		f.cache.Set(cacheKey(seed.ID), seed)
	}
	f.svc = NewServerService(f.repo, f.msgs, f.cache, f.hub, nil)
	return f
}

func TestCreateServerDefaults(t *testing.T) {
	f := newFixture(nil)
	owner := &models.User{ID: "u1", Username: "owner"}

	srv, err := f.svc.CreateServer(context.Background(), owner, &models.CreateServerRequest{Name: "My Server"})
	require.NoError(t, err)

	// Default layout: one role, one member, one group, one channel.
	require.Len(t, srv.Roles, 1)
	everyone := srv.Roles[0]
	assert.Equal(t, models.EveryoneRoleName, everyone.Name)
	assert.Equal(t, 1, everyone.Hierarchy)
	assert.Len(t, everyone.Permissions, len(models.DefaultRolePermissions))

	require.Len(t, srv.Members, 1)
	assert.Equal(t, "u1", srv.Members[0].UserID)
	require.Len(t, srv.Members[0].Roles, 1)
	assert.NotSame(t, everyone, srv.Members[0].Roles[0])

	require.Len(t, srv.ChannelGroups, 1)
	assert.Equal(t, models.DefaultChannelGroupName, srv.ChannelGroups[0].Name)
	require.Len(t, srv.ChannelGroups[0].Channels, 1)
	assert.Equal(t, models.DefaultChannelName, srv.ChannelGroups[0].Channels[0].Name)

	assert.NotEmpty(t, srv.InvitationCode)

	cached, ok := f.cache.get(cacheKey(srv.ID))
	require.True(t, ok)
	assert.Same(t, srv, cached)
}

func TestCreateServerAbortsOnZeroRows(t *testing.T) {
	f := newFixture(nil)
	f.repo.InsertChannelFn = func(ctx context.Context, channel *models.Channel) (int64, error) {
		return 0, nil
	}

	_, err := f.svc.CreateServer(context.Background(), &models.User{ID: "u1"}, &models.CreateServerRequest{Name: "Broken"})
	require.Error(t, err)

	assert.Empty(t, f.cache.entries)
	assert.Empty(t, f.hub.events)
}

func TestGetServerByIDNonMember(t *testing.T) {
	f := newFixture(testAggregate())

	_, err := f.svc.GetServerByID(context.Background(), "srv1", "stranger")
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	srv, err := f.svc.GetServerByID(context.Background(), "srv1", "u2")
	require.NoError(t, err)
	assert.Equal(t, "srv1", srv.ID)
}

func TestJoinServerAlreadyMember(t *testing.T) {
	f := newFixture(testAggregate())
	f.repo.InsertProfileFn = func(ctx context.Context, member *models.Member) (int64, error) {
		return 0, nil
	}

	_, err := f.svc.JoinServer(context.Background(), "srv1", &models.User{ID: "u2", Username: "plain"})
	assert.ErrorIs(t, err, pkg.ErrAlreadyExists)
	assert.Empty(t, f.hub.events)
}

func TestJoinServerReloadsMembers(t *testing.T) {
	f := newFixture(testAggregate())

	loaded := false
	f.repo.LoadMembersFn = func(ctx context.Context, srv *models.Server) ([]*models.Member, error) {
		loaded = true
		members := append([]*models.Member{}, srv.Members...)
		return append(members, &models.Member{ID: "p4", ServerID: "srv1", UserID: "u4", Username: "newbie"}), nil
	}

	srv, err := f.svc.JoinServer(context.Background(), "srv1", &models.User{ID: "u4", Username: "newbie"})
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.True(t, srv.HasMember("u4"))

	require.Len(t, f.hub.events, 1)
	assert.Equal(t, ws.OpMemberJoined, f.hub.events[0].Op)
	assert.Contains(t, f.hub.userLists[0], "u4")
}

func TestLeaveServerPatchesCacheWithoutReload(t *testing.T) {
	f := newFixture(testAggregate())

	dbReads := 0
	f.repo.GetServerByIDFn = func(ctx context.Context, serverID string) (*models.Server, error) {
		dbReads++
		return nil, pkg.ErrNotFound
	}

	var rolesCleared []string
	f.repo.DeleteUserRolesByServerFn = func(ctx context.Context, serverID string, userIDs []string) (int64, error) {
		rolesCleared = userIDs
		return 1, nil
	}

	err := f.svc.LeaveServer(context.Background(), "srv1", "u2")
	require.NoError(t, err)

	assert.Zero(t, dbReads)
	assert.Equal(t, []string{"u2"}, rolesCleared)

	cached, ok := f.cache.get(cacheKey("srv1"))
	require.True(t, ok)
	assert.False(t, cached.HasMember("u2"))
	assert.Len(t, cached.Members, 2)

	require.Len(t, f.hub.events, 1)
	assert.Equal(t, ws.OpMemberLeft, f.hub.events[0].Op)
	// The departing user hears about it too.
	assert.Contains(t, f.hub.userLists[0], "u2")
}

func TestLeaveServerOwnerRejected(t *testing.T) {
	f := newFixture(testAggregate())

	err := f.svc.LeaveServer(context.Background(), "srv1", "u1")
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
}

func TestLeaveServerNotMember(t *testing.T) {
	f := newFixture(testAggregate())
	f.repo.DeleteProfileFn = func(ctx context.Context, serverID, userID string) (int64, error) {
		return 0, nil
	}

	err := f.svc.LeaveServer(context.Background(), "srv1", "stranger")
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestKickMembersRequiresPermission(t *testing.T) {
	f := newFixture(testAggregate())

	err := f.svc.KickMembers(context.Background(), "srv1", "u2", &models.KickMembersRequest{UserIDs: []string{"u3"}})
	assert.ErrorIs(t, err, pkg.ErrForbidden)
}

func TestKickMembersOwnerImmune(t *testing.T) {
	f := newFixture(testAggregate())

	err := f.svc.KickMembers(context.Background(), "srv1", "u3", &models.KickMembersRequest{UserIDs: []string{"u1"}})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
}

func TestKickMembersPatchesCache(t *testing.T) {
	f := newFixture(testAggregate())

	err := f.svc.KickMembers(context.Background(), "srv1", "u3", &models.KickMembersRequest{UserIDs: []string{"u2"}})
	require.NoError(t, err)

	cached, _ := f.cache.get(cacheKey("srv1"))
	assert.False(t, cached.HasMember("u2"))

	require.Len(t, f.hub.events, 1)
	assert.Equal(t, ws.OpMemberKicked, f.hub.events[0].Op)
	assert.Contains(t, f.hub.userLists[0], "u2")
}

func TestAddRoleAnchorsEveryone(t *testing.T) {
	f := newFixture(testAggregate())

	var everyoneHierarchy int
	f.repo.UpdateRoleHierarchyFn = func(ctx context.Context, roleID string, hierarchy int) (int64, error) {
		assert.Equal(t, "r-everyone", roleID)
		everyoneHierarchy = hierarchy
		return 1, nil
	}

	role, err := f.svc.AddRole(context.Background(), "srv1", "u3", &models.AddRoleRequest{Name: "Helper", HexColour: "#00ff00"})
	require.NoError(t, err)

	// Two existing roles, so the new role slots in at 2 and the
	// baseline drops to 3.
	assert.Equal(t, 2, role.Hierarchy)
	assert.Equal(t, 3, everyoneHierarchy)

	cached, _ := f.cache.get(cacheKey("srv1"))
	assert.Len(t, cached.Roles, 3)
	assert.Equal(t, 3, cached.RoleByName(models.EveryoneRoleName).Hierarchy)

	// Every member's copy of the baseline role got the new hierarchy.
	for _, m := range cached.Members {
		held := m.RoleByID("r-everyone")
		require.NotNil(t, held)
		assert.Equal(t, 3, held.Hierarchy)
	}
}

func TestAddRoleRollbackOnHierarchyFailure(t *testing.T) {
	f := newFixture(testAggregate())
	f.repo.UpdateRoleHierarchyFn = func(ctx context.Context, roleID string, hierarchy int) (int64, error) {
		return 0, nil
	}

	_, err := f.svc.AddRole(context.Background(), "srv1", "u3", &models.AddRoleRequest{Name: "Helper"})
	require.Error(t, err)

	cached, _ := f.cache.get(cacheKey("srv1"))
	assert.Len(t, cached.Roles, 2)
	assert.Empty(t, f.hub.events)
}

func TestAddRoleReservedName(t *testing.T) {
	f := newFixture(testAggregate())

	_, err := f.svc.AddRole(context.Background(), "srv1", "u3", &models.AddRoleRequest{Name: models.EveryoneRoleName})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
}

func TestUpdateRoleLinkingPatchesMembers(t *testing.T) {
	f := newFixture(testAggregate())

	req := &models.UpdateRoleRequest{
		Name:          "Moderator",
		HexColour:     "#ff0000",
		Hierarchy:     1,
		PermissionIDs: []string{catalogPerm(models.PermKickApproveMembers).ID},
		Linking: models.RoleMemberLinking{
			NewMembers:     []string{"u2"},
			RemovedMembers: []string{"u3"},
		},
	}

	role, err := f.svc.UpdateRole(context.Background(), "srv1", "r-mod", "u1", req)
	require.NoError(t, err)
	assert.Equal(t, "#ff0000", role.HexColour)
	require.Len(t, role.Permissions, 1)

	cached, _ := f.cache.get(cacheKey("srv1"))
	plain := cached.MemberByUserID("u2")
	former := cached.MemberByUserID("u3")

	assert.True(t, plain.HasRole("r-mod"))
	assert.False(t, former.HasRole("r-mod"))

	// Attached instance is an independent copy of the canonical role.
	held := plain.RoleByID("r-mod")
	assert.NotSame(t, cached.RoleByID("r-mod"), held)
	assert.Equal(t, "#ff0000", held.HexColour)

	// Replaying the same linking attaches the role exactly once.
	_, err = f.svc.UpdateRole(context.Background(), "srv1", "r-mod", "u1", req)
	require.NoError(t, err)

	cached, _ = f.cache.get(cacheKey("srv1"))
	count := 0
	for _, r := range cached.MemberByUserID("u2").Roles {
		if r.ID == "r-mod" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestUpdateRoleKeepsBaselineAnchored(t *testing.T) {
	f := newFixture(testAggregate())

	var persisted int
	f.repo.UpdateRoleFn = func(ctx context.Context, role *models.Role) (int64, error) {
		persisted = role.Hierarchy
		return 1, nil
	}

	role, err := f.svc.UpdateRole(context.Background(), "srv1", "r-everyone", "u1", &models.UpdateRoleRequest{
		Name:          models.EveryoneRoleName,
		HexColour:     "#808080",
		Hierarchy:     0,
		PermissionIDs: []string{catalogPerm(models.PermSendMessages).ID},
	})
	require.NoError(t, err)

	// The requested hierarchy is ignored: the baseline role keeps its
	// bottom slot, in memory and in the persisted row.
	assert.Equal(t, 3, role.Hierarchy)
	assert.Equal(t, 3, persisted)
	assert.Equal(t, "#808080", role.HexColour)

	cached, _ := f.cache.get(cacheKey("srv1"))
	for _, m := range cached.Members {
		last := m.Roles[len(m.Roles)-1]
		assert.Equal(t, models.EveryoneRoleName, last.Name)
		assert.Equal(t, 3, last.Hierarchy)
	}
}

func TestUpdateRoleRejectsNonMemberLinking(t *testing.T) {
	f := newFixture(testAggregate())

	linked := false
	f.repo.InsertUserRoleFn = func(ctx context.Context, userID, roleID, serverID string) (int64, error) {
		linked = true
		return 1, nil
	}

	_, err := f.svc.UpdateRole(context.Background(), "srv1", "r-mod", "u1", &models.UpdateRoleRequest{
		Name:    "Moderator",
		Linking: models.RoleMemberLinking{NewMembers: []string{"ghost"}},
	})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
	assert.False(t, linked)
}

func TestMutationsPatchACopyOfTheCachedAggregate(t *testing.T) {
	f := newFixture(testAggregate())

	// A reader holds the published instance while a mutation runs.
	held, err := f.svc.GetServerByID(context.Background(), "srv1", "u1")
	require.NoError(t, err)

	_, err = f.svc.UpdateRole(context.Background(), "srv1", "r-mod", "u1", &models.UpdateRoleRequest{
		Name:      "Moderator",
		HexColour: "#123456",
		Hierarchy: 1,
	})
	require.NoError(t, err)

	// The held instance is untouched; the cache holds a new one.
	assert.Equal(t, "", held.RoleByID("r-mod").HexColour)
	cached, _ := f.cache.get(cacheKey("srv1"))
	assert.NotSame(t, held, cached)
	assert.Equal(t, "#123456", cached.RoleByID("r-mod").HexColour)

	require.NoError(t, f.svc.LeaveServer(context.Background(), "srv1", "u2"))
	assert.True(t, held.HasMember("u2"))
	cached, _ = f.cache.get(cacheKey("srv1"))
	assert.False(t, cached.HasMember("u2"))
}

func TestUpdateRoleUnknownRole(t *testing.T) {
	f := newFixture(testAggregate())

	_, err := f.svc.UpdateRole(context.Background(), "srv1", "r-nope", "u1", &models.UpdateRoleRequest{Name: "X"})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestAddChannelUnknownGroup(t *testing.T) {
	f := newFixture(testAggregate())

	inserted := false
	f.repo.InsertChannelFn = func(ctx context.Context, channel *models.Channel) (int64, error) {
		inserted = true
		return 1, nil
	}

	_, err := f.svc.AddChannel(context.Background(), "srv1", "u3", &models.AddChannelRequest{
		ChannelGroupID: "g-missing",
		Name:           "random",
	})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
	assert.False(t, inserted)
}

func TestAddChannelAppendsSorted(t *testing.T) {
	f := newFixture(testAggregate())

	channel, err := f.svc.AddChannel(context.Background(), "srv1", "u3", &models.AddChannelRequest{
		ChannelGroupID: "g1",
		Name:           "memes",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, channel.OrderNumber)

	cached, _ := f.cache.get(cacheKey("srv1"))
	require.Len(t, cached.ChannelGroups[0].Channels, 2)
	assert.Equal(t, "general", cached.ChannelGroups[0].Channels[0].Name)
	assert.Equal(t, "memes", cached.ChannelGroups[0].Channels[1].Name)
}

func TestUpdateServerInfoZeroRows(t *testing.T) {
	f := newFixture(testAggregate())
	f.repo.UpdateServerInfoFn = func(ctx context.Context, serverID string, name, description *string) (int64, error) {
		return 0, nil
	}

	name := "Renamed"
	_, err := f.svc.UpdateServerInfo(context.Background(), "srv1", "u1", &models.UpdateServerInfoRequest{Name: &name})
	assert.ErrorIs(t, err, pkg.ErrNotFound)

	// The failed write must not patch the cache.
	cached, _ := f.cache.get(cacheKey("srv1"))
	assert.Equal(t, "Test Server", cached.Name)
}

func TestUpdateServerInfoPartial(t *testing.T) {
	f := newFixture(testAggregate())

	desc := "new description"
	srv, err := f.svc.UpdateServerInfo(context.Background(), "srv1", "u1", &models.UpdateServerInfoRequest{Description: &desc})
	require.NoError(t, err)

	assert.Equal(t, "Test Server", srv.Name)
	assert.Equal(t, "new description", srv.Description)
}

func TestSendMessageAppendsToCache(t *testing.T) {
	f := newFixture(testAggregate())

	msg, err := f.svc.SendMessage(context.Background(), "srv1", "u2", &models.CreateMessageRequest{
		ChannelID: "c1",
		Content:   "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "u2", msg.SenderID)

	cached, _ := f.cache.get(cacheKey("srv1"))
	channel := cached.ChannelGroups[0].ChannelByID("c1")
	require.Len(t, channel.Messages, 1)
	assert.Equal(t, "hello", channel.Messages[0].Content)

	require.Len(t, f.hub.events, 1)
	assert.Equal(t, ws.OpMessageCreated, f.hub.events[0].Op)
}

func TestSendMessageNonMember(t *testing.T) {
	f := newFixture(testAggregate())

	_, err := f.svc.SendMessage(context.Background(), "srv1", "stranger", &models.CreateMessageRequest{
		ChannelID: "c1",
		Content:   "hi",
	})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestSendMessageUnknownChannel(t *testing.T) {
	f := newFixture(testAggregate())

	_, err := f.svc.SendMessage(context.Background(), "srv1", "u2", &models.CreateMessageRequest{
		ChannelID: "c-missing",
		Content:   "hi",
	})
	assert.ErrorIs(t, err, pkg.ErrNotFound)
}

func TestSendInvitationUnconfigured(t *testing.T) {
	f := newFixture(testAggregate())

	err := f.svc.SendInvitation(context.Background(), "srv1", "u1", &models.InviteRequest{Email: "a@b.c"})
	assert.ErrorIs(t, err, pkg.ErrBadRequest)
}

func TestEnsurePermissionsSeedsFullCatalog(t *testing.T) {
	f := newFixture(nil)

	var seeded []models.PermissionType
	f.repo.UpsertPermissionFn = func(ctx context.Context, perm *models.Permission) (int64, error) {
		seeded = append(seeded, perm.PermissionType)
		assert.NotEmpty(t, perm.ID)
		assert.Equal(t, perm.PermissionType.String(), perm.PermissionName)
		return 1, nil
	}

	require.NoError(t, f.svc.EnsurePermissions(context.Background()))
	assert.Equal(t, models.AllPermissionTypes(), seeded)
}

func TestAuthorizeOwnerBypassesRoles(t *testing.T) {
	f := newFixture(testAggregate())

	// u1 owns the server but holds only "@everyone"; management calls
	// must still pass.
	name := "Owner Renamed"
	_, err := f.svc.UpdateServerInfo(context.Background(), "srv1", "u1", &models.UpdateServerInfoRequest{Name: &name})
	assert.NoError(t, err)
}

func TestGetAggregateLoadsOnceThenServesFromCache(t *testing.T) {
	f := newFixture(nil)

	loads := 0
	f.repo.GetServerByIDFn = func(ctx context.Context, serverID string) (*models.Server, error) {
		loads++
		return testAggregate(), nil
	}

	_, err := f.svc.GetServerByID(context.Background(), "srv1", "u1")
	require.NoError(t, err)
	_, err = f.svc.GetServerByID(context.Background(), "srv1", "u2")
	require.NoError(t, err)

	assert.Equal(t, 1, loads)
}

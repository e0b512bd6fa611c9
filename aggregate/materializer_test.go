package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commsapp/server/models"
)

func baseServer() models.Server {
	return models.Server{ID: "srv1", Name: "Test Server", OwnerID: "u1"}
}

func everyoneRole() *models.Role {
	return &models.Role{ID: "r-everyone", ServerID: "srv1", Name: models.EveryoneRoleName, Hierarchy: 2}
}

func adminRole() *models.Role {
	return &models.Role{ID: "r-admin", ServerID: "srv1", Name: "Admin", Hierarchy: 1}
}

func memberRow(profileID, userID string) *models.Member {
	return &models.Member{ID: profileID, ServerID: "srv1", UserID: userID, Username: userID}
}

func TestBuilderEmpty(t *testing.T) {
	b := NewBuilder()
	assert.Nil(t, b.Server())
	assert.Empty(t, b.Servers())
}

func TestBuilderShellHasNonNilSlices(t *testing.T) {
	b := NewBuilder()
	b.Add(Row{Server: baseServer()})

	srv := b.Server()
	require.NotNil(t, srv)
	assert.NotNil(t, srv.Roles)
	assert.NotNil(t, srv.ChannelGroups)
	assert.NotNil(t, srv.Members)
	assert.Empty(t, srv.Roles)
}

func TestBuilderDedupesEntities(t *testing.T) {
	b := NewBuilder()
	row := Row{
		Server:  baseServer(),
		Role:    everyoneRole(),
		Group:   &models.ChannelGroup{ID: "g1", ServerID: "srv1", Name: "Text Channels", OrderNumber: 1},
		Channel: &models.Channel{ID: "c1", ChannelGroupID: "g1", Name: "general", OrderNumber: 1},
		Member:  memberRow("p1", "u1"),
	}

	// The same row three times must fold to single instances.
	b.Add(row)
	b.Add(row)
	b.Add(row)

	srv := b.Server()
	require.NotNil(t, srv)
	assert.Len(t, srv.Roles, 1)
	assert.Len(t, srv.ChannelGroups, 1)
	assert.Len(t, srv.ChannelGroups[0].Channels, 1)
	assert.Len(t, srv.Members, 1)
	assert.Len(t, srv.Members[0].Roles, 1)
}

func TestBuilderOrderIndependence(t *testing.T) {
	rows := []Row{
		{Server: baseServer(), Role: adminRole(), Link: &UserRoleLink{UserID: "u1", RoleID: "r-admin"}, Member: memberRow("p1", "u1")},
		{Server: baseServer(), Role: everyoneRole(), Member: memberRow("p1", "u1")},
		{Server: baseServer(), Group: &models.ChannelGroup{ID: "g2", Name: "Voice", OrderNumber: 2}},
		{Server: baseServer(), Group: &models.ChannelGroup{ID: "g1", Name: "Text", OrderNumber: 1}, Channel: &models.Channel{ID: "c1", ChannelGroupID: "g1", Name: "general", OrderNumber: 1}},
	}

	build := func(order []int) *models.Server {
		b := NewBuilder()
		for _, i := range order {
			b.Add(rows[i])
		}
		return b.Server()
	}

	forward := build([]int{0, 1, 2, 3})
	backward := build([]int{3, 2, 1, 0})

	require.NotNil(t, forward)
	require.NotNil(t, backward)

	// Finalized aggregates must be structurally identical regardless of
	// the row arrival order.
	assert.Equal(t, len(forward.Roles), len(backward.Roles))
	assert.Equal(t, len(forward.Members[0].Roles), len(backward.Members[0].Roles))

	require.Len(t, forward.ChannelGroups, 2)
	assert.Equal(t, "g1", forward.ChannelGroups[0].ID)
	assert.Equal(t, "g1", backward.ChannelGroups[0].ID)
}

func TestBuilderAttachesEveryoneByName(t *testing.T) {
	b := NewBuilder()
	b.Add(Row{Server: baseServer(), Role: everyoneRole(), Member: memberRow("p1", "u1")})

	srv := b.Server()
	require.Len(t, srv.Members, 1)
	require.Len(t, srv.Members[0].Roles, 1)
	assert.Equal(t, models.EveryoneRoleName, srv.Members[0].Roles[0].Name)
}

func TestBuilderLinkOnlyAttachesToOwner(t *testing.T) {
	b := NewBuilder()
	admin := adminRole()
	link := &UserRoleLink{UserID: "u1", RoleID: "r-admin"}

	b.Add(Row{Server: baseServer(), Role: admin, Link: link, Member: memberRow("p1", "u1")})
	b.Add(Row{Server: baseServer(), Role: admin, Link: link, Member: memberRow("p2", "u2")})

	srv := b.Server()
	require.Len(t, srv.Members, 2)

	holder := srv.Members[0]
	other := srv.Members[1]
	assert.True(t, holder.HasRole("r-admin"))
	assert.False(t, other.HasRole("r-admin"))
}

func TestBuilderSkipsDanglingChannel(t *testing.T) {
	b := NewBuilder()
	b.Add(Row{
		Server:  baseServer(),
		Group:   &models.ChannelGroup{ID: "g1", Name: "Text", OrderNumber: 1},
		Channel: &models.Channel{ID: "c-dangling", ChannelGroupID: "", Name: "orphan"},
	})

	srv := b.Server()
	require.NotNil(t, srv)
	require.Len(t, srv.ChannelGroups, 1)
	assert.Empty(t, srv.ChannelGroups[0].Channels)
}

func TestBuilderSortsOnFinalize(t *testing.T) {
	b := NewBuilder()
	b.Add(Row{Server: baseServer(), Group: &models.ChannelGroup{ID: "g2", Name: "B", OrderNumber: 2}})
	b.Add(Row{
		Server:  baseServer(),
		Group:   &models.ChannelGroup{ID: "g1", Name: "A", OrderNumber: 1},
		Channel: &models.Channel{ID: "c2", ChannelGroupID: "g1", Name: "two", OrderNumber: 2},
	})
	b.Add(Row{
		Server:  baseServer(),
		Group:   &models.ChannelGroup{ID: "g1", Name: "A", OrderNumber: 1},
		Channel: &models.Channel{ID: "c1", ChannelGroupID: "g1", Name: "one", OrderNumber: 1},
	})

	// Member roles sorted by hierarchy: admin (1) before everyone (2).
	b.Add(Row{Server: baseServer(), Role: everyoneRole(), Member: memberRow("p1", "u1")})
	b.Add(Row{Server: baseServer(), Role: adminRole(), Link: &UserRoleLink{UserID: "u1", RoleID: "r-admin"}, Member: memberRow("p1", "u1")})

	srv := b.Server()
	require.Len(t, srv.ChannelGroups, 2)
	assert.Equal(t, "g1", srv.ChannelGroups[0].ID)
	assert.Equal(t, "g2", srv.ChannelGroups[1].ID)

	require.Len(t, srv.ChannelGroups[0].Channels, 2)
	assert.Equal(t, "c1", srv.ChannelGroups[0].Channels[0].ID)

	require.Len(t, srv.Members, 1)
	require.Len(t, srv.Members[0].Roles, 2)
	assert.Equal(t, "r-admin", srv.Members[0].Roles[0].ID)
	assert.Equal(t, "r-everyone", srv.Members[0].Roles[1].ID)
}

func TestBuilderMultipleServers(t *testing.T) {
	b := NewBuilder()
	b.Add(Row{Server: models.Server{ID: "srv2", Name: "Second"}})
	b.Add(Row{Server: baseServer()})
	b.Add(Row{Server: models.Server{ID: "srv2", Name: "Second"}, Role: &models.Role{ID: "r1", ServerID: "srv2", Name: "Mod"}})

	servers := b.Servers()
	require.Len(t, servers, 2)
	// First-seen order.
	assert.Equal(t, "srv2", servers[0].ID)
	assert.Equal(t, "srv1", servers[1].ID)
	assert.Len(t, servers[0].Roles, 1)
}

package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commsapp/server/models"
)

func permRow(roleID, permID string, t models.PermissionType) PermissionRow {
	return PermissionRow{
		RoleID:     roleID,
		Permission: &models.Permission{ID: permID, PermissionType: t, PermissionName: t.String()},
	}
}

func serverWithMember() *models.Server {
	everyone := &models.Role{ID: "r-everyone", Name: models.EveryoneRoleName, Hierarchy: 2, Permissions: []*models.Permission{}}
	admin := &models.Role{ID: "r-admin", Name: "Admin", Hierarchy: 1, Permissions: []*models.Permission{}}
	member := &models.Member{
		ID:     "p1",
		UserID: "u1",
		Roles:  []*models.Role{admin, everyone}, // canonical instances, as the builder leaves them
	}
	return &models.Server{
		ID:            "srv1",
		Roles:         []*models.Role{everyone, admin},
		Members:       []*models.Member{member},
		ChannelGroups: []*models.ChannelGroup{},
	}
}

func TestAttachPermissionsGraftsOntoCanonical(t *testing.T) {
	srv := serverWithMember()

	AttachPermissions(srv, []PermissionRow{
		permRow("r-everyone", "perm-1", models.PermSendMessages),
		permRow("r-admin", "perm-2", models.PermManageRoles),
	})

	require.Len(t, srv.RoleByID("r-everyone").Permissions, 1)
	require.Len(t, srv.RoleByID("r-admin").Permissions, 1)
	assert.Equal(t, models.PermSendMessages, srv.RoleByID("r-everyone").Permissions[0].PermissionType)
}

func TestAttachPermissionsDedupes(t *testing.T) {
	srv := serverWithMember()
	row := permRow("r-everyone", "perm-1", models.PermSendMessages)

	AttachPermissions(srv, []PermissionRow{row, row, row})

	assert.Len(t, srv.RoleByID("r-everyone").Permissions, 1)
}

func TestAttachPermissionsIgnoresUnknownRole(t *testing.T) {
	srv := serverWithMember()

	AttachPermissions(srv, []PermissionRow{
		permRow("r-foreign", "perm-1", models.PermSendMessages),
	})

	assert.Empty(t, srv.RoleByID("r-everyone").Permissions)
	assert.Empty(t, srv.RoleByID("r-admin").Permissions)
}

func TestAttachPermissionsIdempotent(t *testing.T) {
	srv := serverWithMember()
	rows := []PermissionRow{
		permRow("r-everyone", "perm-1", models.PermSendMessages),
		permRow("r-admin", "perm-2", models.PermManageRoles),
	}

	AttachPermissions(srv, rows)
	AttachPermissions(srv, rows)

	assert.Len(t, srv.RoleByID("r-everyone").Permissions, 1)
	assert.Len(t, srv.RoleByID("r-admin").Permissions, 1)
	assert.Len(t, srv.Members[0].Roles, 2)
}

func TestAttachPermissionsMakesMemberCopiesIndependent(t *testing.T) {
	srv := serverWithMember()

	AttachPermissions(srv, []PermissionRow{
		permRow("r-everyone", "perm-1", models.PermSendMessages),
	})

	member := srv.Members[0]
	canonical := srv.RoleByID("r-everyone")
	held := member.RoleByID("r-everyone")
	require.NotNil(t, held)

	// No shared instances after propagation.
	assert.NotSame(t, canonical, held)

	// Mutating the member's copy must not leak into the canonical role.
	held.Permissions = append(held.Permissions,
		&models.Permission{ID: "perm-x", PermissionType: models.PermBanMembers})
	assert.Len(t, canonical.Permissions, 1)
	assert.Len(t, held.Permissions, 2)

	// And the canonical grants survive on the copy.
	assert.True(t, held.HasPermission("perm-1"))
}

func TestAttachPermissionsNilServer(t *testing.T) {
	assert.NotPanics(t, func() {
		AttachPermissions(nil, []PermissionRow{permRow("r1", "p1", models.PermSendMessages)})
	})
}

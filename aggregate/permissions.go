package aggregate

import "github.com/commsapp/server/models"

// PermissionRow is one server_role_permissions join row: the catalog
// permission granted to RoleID.
type PermissionRow struct {
	Permission *models.Permission
	RoleID     string
}

// AttachPermissions grafts permission rows onto the server's canonical
// roles, deduped by permission id, then rebuilds every member's role
// list as independent copies of the canonical roles.
//
// After the call no member shares permission state with the canonical
// role or with another member; patching one copy can never leak.
// Calling it twice with the same rows changes nothing.
func AttachPermissions(srv *models.Server, rows []PermissionRow) {
	if srv == nil {
		return
	}

	for _, row := range rows {
		if row.Permission == nil {
			continue
		}
		role := srv.RoleByID(row.RoleID)
		if role == nil {
			// Row for a role outside this server; ignore.
			continue
		}
		if !role.HasPermission(row.Permission.ID) {
			role.Permissions = append(role.Permissions, row.Permission)
		}
	}

	for _, m := range srv.Members {
		for i, held := range m.Roles {
			canonical := srv.RoleByID(held.ID)
			if canonical == nil {
				continue
			}
			m.Roles[i] = canonical.Clone()
		}
	}
}

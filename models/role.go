package models

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// EveryoneRoleName is the baseline role every server carries. It is
// created with the server and can never be removed.
const EveryoneRoleName = "@everyone"

// Role is a server role. The instance held in Server.Roles is the
// canonical one; each member holds an independent copy so patching one
// member never leaks into another.
type Role struct {
	ID                string        `json:"id"`
	ServerID          string        `json:"server_id"`
	Name              string        `json:"name"`
	HexColour         string        `json:"hex_colour"`
	Hierarchy         int           `json:"hierarchy"`
	DisplaySeparately bool          `json:"display_separately"`
	Permissions       []*Permission `json:"permissions"`
}

// Clone returns a copy with its own permission slice. Permission
// entries themselves are catalog rows and safe to share.
func (r *Role) Clone() *Role {
	cp := *r
	cp.Permissions = make([]*Permission, len(r.Permissions))
	copy(cp.Permissions, r.Permissions)
	return &cp
}

// HasPermission reports whether the role carries a permission id.
func (r *Role) HasPermission(permissionID string) bool {
	for _, p := range r.Permissions {
		if p.ID == permissionID {
			return true
		}
	}
	return false
}

// SortRolesByHierarchy orders roles ascending by hierarchy, stable.
func SortRolesByHierarchy(roles []*Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].Hierarchy < roles[j].Hierarchy
	})
}

// RoleMemberLinking describes membership changes applied alongside a
// role update.
type RoleMemberLinking struct {
	NewMembers     []string `json:"new_members"`
	RemovedMembers []string `json:"removed_members"`
}

// AddRoleRequest creates a new custom role.
type AddRoleRequest struct {
	Name              string `json:"name"`
	HexColour         string `json:"hex_colour"`
	DisplaySeparately bool   `json:"display_separately"`
}

// Validate checks the role name (1-64 chars, not the reserved name).
func (r *AddRoleRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	nameLen := utf8.RuneCountInString(r.Name)
	if nameLen < 1 || nameLen > 64 {
		return fmt.Errorf("role name must be between 1 and 64 characters")
	}
	if r.Name == EveryoneRoleName {
		return fmt.Errorf("%q is a reserved role name", EveryoneRoleName)
	}
	return nil
}

// UpdateRoleRequest carries the full desired state of a role: fields,
// the complete permission id set, and membership changes.
type UpdateRoleRequest struct {
	Name              string            `json:"name"`
	HexColour         string            `json:"hex_colour"`
	Hierarchy         int               `json:"hierarchy"`
	DisplaySeparately bool              `json:"display_separately"`
	PermissionIDs     []string          `json:"permission_ids"`
	Linking           RoleMemberLinking `json:"linking"`
}

// Validate checks the role name.
func (r *UpdateRoleRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	nameLen := utf8.RuneCountInString(r.Name)
	if nameLen < 1 || nameLen > 64 {
		return fmt.Errorf("role name must be between 1 and 64 characters")
	}
	return nil
}

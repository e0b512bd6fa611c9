package models

import "time"

// Member is a user's server-scoped profile together with that member's
// own copies of the roles they hold. Role copies are independent of the
// canonical Server.Roles instances.
type Member struct {
	ID          string    `json:"id"` // profile id, unique per (server, user)
	ServerID    string    `json:"server_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url"`
	JoinedAt    time.Time `json:"joined_at"`

	Roles []*Role `json:"roles"`
}

// Clone returns a copy of the member with its own role copies.
func (m *Member) Clone() *Member {
	cp := *m
	cp.Roles = make([]*Role, len(m.Roles))
	for i, r := range m.Roles {
		cp.Roles[i] = r.Clone()
	}
	return &cp
}

// HasRole reports whether the member already holds a role id.
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// RoleByID returns the member's copy of a role, or nil.
func (m *Member) RoleByID(roleID string) *Role {
	for _, r := range m.Roles {
		if r.ID == roleID {
			return r
		}
	}
	return nil
}

// RemoveRole drops the member's copy of a role. Removing a role the
// member does not hold is a no-op.
func (m *Member) RemoveRole(roleID string) {
	for i, r := range m.Roles {
		if r.ID == roleID {
			m.Roles = append(m.Roles[:i], m.Roles[i+1:]...)
			return
		}
	}
}

// SortRoles orders the member's roles by hierarchy.
func (m *Member) SortRoles() {
	SortRolesByHierarchy(m.Roles)
}

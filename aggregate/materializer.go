// Package aggregate folds flat LEFT JOIN row streams into fully
// materialized server aggregates, and propagates permission rows onto
// canonical roles and member role copies.
//
// Everything here is pure: no database handles, no locks, no IO. The
// repository scans rows and feeds them in; the output is a
// *models.Server with all invariants established.
package aggregate

import (
	"sort"

	"github.com/commsapp/server/models"
)

// UserRoleLink is a user_server_roles row: userID holds roleID.
type UserRoleLink struct {
	UserID string
	RoleID string
}

// Row is one flat row of the server join. Server is always present;
// the other records are nil where the LEFT JOIN produced NULLs.
// Role and Link describe the same joined role columns: Role carries
// the role fields, Link the user linking fields when present.
type Row struct {
	Server  models.Server
	Role    *models.Role
	Link    *UserRoleLink
	Group   *models.ChannelGroup
	Channel *models.Channel
	Member  *models.Member
}

// Builder accumulates join rows into server aggregates. Rows may
// arrive in any order and with any duplication; every entity is keyed
// by id so re-processing a row is a no-op.
//
// A Builder is single-use: feed rows with Add, then call Server or
// Servers.
type Builder struct {
	servers map[string]*models.Server
	order   []string
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{servers: make(map[string]*models.Server)}
}

// Add folds one join row into the aggregate under construction.
func (b *Builder) Add(row Row) {
	srv, ok := b.servers[row.Server.ID]
	if !ok {
		// First sighting creates the shell with empty, non-nil slices.
		shell := row.Server
		shell.Roles = []*models.Role{}
		shell.ChannelGroups = []*models.ChannelGroup{}
		shell.Members = []*models.Member{}
		srv = &shell
		b.servers[srv.ID] = srv
		b.order = append(b.order, srv.ID)
	}

	role := b.addRole(srv, row.Role)
	b.addChannel(srv, row.Group, row.Channel)
	b.addMember(srv, row.Member, role, row.Link)
}

// addRole registers the row's role on the server, deduped by id, and
// returns the canonical instance.
func (b *Builder) addRole(srv *models.Server, role *models.Role) *models.Role {
	if role == nil {
		return nil
	}
	if existing := srv.RoleByID(role.ID); existing != nil {
		return existing
	}
	cp := *role
	if cp.Permissions == nil {
		cp.Permissions = []*models.Permission{}
	}
	srv.Roles = append(srv.Roles, &cp)
	return &cp
}

// addChannel registers the row's group and channel. A channel without
// a group id has no home and is skipped; it never aborts the fold.
func (b *Builder) addChannel(srv *models.Server, group *models.ChannelGroup, channel *models.Channel) {
	if group == nil {
		return
	}

	g := srv.GroupByID(group.ID)
	if g == nil {
		cp := *group
		cp.Channels = []*models.Channel{}
		g = &cp
		srv.ChannelGroups = append(srv.ChannelGroups, g)
	}

	if channel == nil || channel.ChannelGroupID == "" {
		return
	}
	if g.ChannelByID(channel.ID) != nil {
		return
	}
	ch := *channel
	g.Channels = append(g.Channels, &ch)
}

// addMember registers the row's member and attaches roles to it:
// the baseline "@everyone" role whenever the row carries it, and the
// linked role when the link belongs to this member. The attached
// instance is the server's canonical role at attach time.
func (b *Builder) addMember(srv *models.Server, member *models.Member, role *models.Role, link *UserRoleLink) {
	if member == nil {
		return
	}

	m := b.findMember(srv, member.ID)
	if m == nil {
		cp := *member
		cp.Roles = []*models.Role{}
		m = &cp
		srv.Members = append(srv.Members, m)
	}

	if role != nil && role.Name == models.EveryoneRoleName && !m.HasRole(role.ID) {
		if canonical := srv.RoleByID(role.ID); canonical != nil {
			m.Roles = append(m.Roles, canonical)
		}
	}

	if link != nil && link.UserID == m.UserID && !m.HasRole(link.RoleID) {
		if canonical := srv.RoleByID(link.RoleID); canonical != nil {
			m.Roles = append(m.Roles, canonical)
		}
	}
}

func (b *Builder) findMember(srv *models.Server, profileID string) *models.Member {
	for _, m := range srv.Members {
		if m.ID == profileID {
			return m
		}
	}
	return nil
}

// Server finalizes and returns the single built aggregate, or nil when
// no rows were added. Groups and channels are ordered by OrderNumber,
// member roles by hierarchy; all sorts are stable.
func (b *Builder) Server() *models.Server {
	servers := b.Servers()
	if len(servers) == 0 {
		return nil
	}
	return servers[0]
}

// Servers finalizes and returns every built aggregate in first-seen
// order.
func (b *Builder) Servers() []*models.Server {
	out := make([]*models.Server, 0, len(b.order))
	for _, id := range b.order {
		srv := b.servers[id]
		finalize(srv)
		out = append(out, srv)
	}
	return out
}

func finalize(srv *models.Server) {
	sort.SliceStable(srv.ChannelGroups, func(i, j int) bool {
		return srv.ChannelGroups[i].OrderNumber < srv.ChannelGroups[j].OrderNumber
	})
	for _, g := range srv.ChannelGroups {
		sort.SliceStable(g.Channels, func(i, j int) bool {
			return g.Channels[i].OrderNumber < g.Channels[j].OrderNumber
		})
	}
	for _, m := range srv.Members {
		m.SortRoles()
	}
}

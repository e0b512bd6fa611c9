package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ServerType is the visibility class of a server.
type ServerType int

const (
	ServerTypePublic ServerType = iota
	ServerTypePrivate
	ServerTypeCommunity
)

// Server is the root of the aggregate: the flat server row plus its
// fully materialized roles, channel groups and members.
//
// The three slices are always non-nil on a materialized aggregate,
// even when empty.
type Server struct {
	ID                   string     `json:"id"`
	Name                 string     `json:"name"`
	InvitationCode       string     `json:"invitation_code"`
	CustomInvitationCode string     `json:"custom_invitation_code"`
	Description          string     `json:"description"`
	OwnerID              string     `json:"owner_id"`
	IconURL              string     `json:"icon_url"`
	BannerURL            string     `json:"banner_url"`
	ServerType           ServerType `json:"server_type"`
	CreatedAt            time.Time  `json:"created_at"`

	ChannelGroups []*ChannelGroup `json:"channel_groups"`
	Members       []*Member       `json:"members"`
	Roles         []*Role         `json:"roles"`
}

// RoleByID returns the canonical role with the given id, or nil.
func (s *Server) RoleByID(roleID string) *Role {
	for _, r := range s.Roles {
		if r.ID == roleID {
			return r
		}
	}
	return nil
}

// RoleByName returns the canonical role with the given name, or nil.
func (s *Server) RoleByName(name string) *Role {
	for _, r := range s.Roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// GroupByID returns the channel group with the given id, or nil.
func (s *Server) GroupByID(groupID string) *ChannelGroup {
	for _, g := range s.ChannelGroups {
		if g.ID == groupID {
			return g
		}
	}
	return nil
}

// MemberByUserID returns the member owned by userID, or nil.
func (s *Server) MemberByUserID(userID string) *Member {
	for _, m := range s.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// HasMember reports whether userID belongs to this server.
func (s *Server) HasMember(userID string) bool {
	return s.MemberByUserID(userID) != nil
}

// RemoveMembersByUserID drops every member whose user id is in userIDs.
func (s *Server) RemoveMembersByUserID(userIDs ...string) {
	drop := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		drop[id] = true
	}

	kept := s.Members[:0]
	for _, m := range s.Members {
		if !drop[m.UserID] {
			kept = append(kept, m)
		}
	}
	s.Members = kept
}

// Clone returns a deep copy of the aggregate's structure: roles,
// members (with their role copies) and channel groups. Mutations patch
// a clone and publish it wholesale, so a reader holding the previous
// instance never observes a half-patched state. Permission and message
// entries are shared; they are never edited in place.
func (s *Server) Clone() *Server {
	cp := *s
	cp.Roles = make([]*Role, len(s.Roles))
	for i, r := range s.Roles {
		cp.Roles[i] = r.Clone()
	}
	cp.Members = make([]*Member, len(s.Members))
	for i, m := range s.Members {
		cp.Members[i] = m.Clone()
	}
	cp.ChannelGroups = make([]*ChannelGroup, len(s.ChannelGroups))
	for i, g := range s.ChannelGroups {
		cp.ChannelGroups[i] = g.Clone()
	}
	return &cp
}

// CreateServerRequest creates a new server owned by the caller.
type CreateServerRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	IconURL     string     `json:"icon_url"`
	ServerType  ServerType `json:"server_type"`
}

// Validate checks the server name (1-100 chars) and type.
func (r *CreateServerRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	nameLen := utf8.RuneCountInString(r.Name)
	if nameLen < 1 || nameLen > 100 {
		return fmt.Errorf("server name must be between 1 and 100 characters")
	}
	if r.ServerType < ServerTypePublic || r.ServerType > ServerTypeCommunity {
		return fmt.Errorf("invalid server type")
	}
	return nil
}

// UpdateServerInfoRequest is a partial update: nil fields are untouched.
type UpdateServerInfoRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// Validate checks the optional fields.
func (r *UpdateServerInfoRequest) Validate() error {
	if r.Name != nil {
		trimmed := strings.TrimSpace(*r.Name)
		nameLen := utf8.RuneCountInString(trimmed)
		if nameLen < 1 || nameLen > 100 {
			return fmt.Errorf("server name must be between 1 and 100 characters")
		}
		*r.Name = trimmed
	}
	if r.Description != nil && utf8.RuneCountInString(*r.Description) > 1000 {
		return fmt.Errorf("description must be at most 1000 characters")
	}
	if r.Name == nil && r.Description == nil {
		return fmt.Errorf("nothing to update")
	}
	return nil
}

// KickMembersRequest removes one or more members in a single operation.
type KickMembersRequest struct {
	UserIDs []string `json:"user_ids"`
}

// Validate checks at least one target is named.
func (r *KickMembersRequest) Validate() error {
	if len(r.UserIDs) == 0 {
		return fmt.Errorf("at least one user id is required")
	}
	return nil
}

// InviteRequest emails an invitation code to an address.
type InviteRequest struct {
	Email string `json:"email"`
}

// Validate checks the address.
func (r *InviteRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	if r.Email == "" || !strings.Contains(r.Email, "@") {
		return fmt.Errorf("a valid email is required")
	}
	return nil
}

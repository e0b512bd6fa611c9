package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Default structure every new server starts with.
const (
	DefaultChannelGroupName = "Text Channels"
	DefaultChannelName      = "general"
)

// ChannelGroup collects channels under a heading, ordered by
// OrderNumber within the server.
type ChannelGroup struct {
	ID          string     `json:"id"`
	ServerID    string     `json:"server_id"`
	Name        string     `json:"name"`
	OrderNumber int        `json:"order_number"`
	Channels    []*Channel `json:"channels"`
}

// Clone returns a copy of the group with its own channel copies.
func (g *ChannelGroup) Clone() *ChannelGroup {
	cp := *g
	cp.Channels = make([]*Channel, len(g.Channels))
	for i, c := range g.Channels {
		cp.Channels[i] = c.Clone()
	}
	return &cp
}

// ChannelByID returns the channel with the given id, or nil.
func (g *ChannelGroup) ChannelByID(channelID string) *Channel {
	for _, c := range g.Channels {
		if c.ID == channelID {
			return c
		}
	}
	return nil
}

// Channel is a text channel inside a group. Messages is transient:
// hydrated from the message store after structural load, never part of
// the channel row itself.
type Channel struct {
	ID             string         `json:"id"`
	ChannelGroupID string         `json:"channel_group_id"`
	Name           string         `json:"name"`
	OrderNumber    int            `json:"order_number"`
	Messages       []*ChatMessage `json:"messages,omitempty"`
}

// Clone returns a copy of the channel with its own message slice.
// Message entries are immutable and safe to share.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.Messages = make([]*ChatMessage, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

// AddChannelGroupRequest creates a channel group.
type AddChannelGroupRequest struct {
	Name        string `json:"name"`
	OrderNumber int    `json:"order_number"`
}

// Validate checks the group name (1-100 chars).
func (r *AddChannelGroupRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	nameLen := utf8.RuneCountInString(r.Name)
	if nameLen < 1 || nameLen > 100 {
		return fmt.Errorf("channel group name must be between 1 and 100 characters")
	}
	return nil
}

// AddChannelRequest creates a channel inside an existing group.
type AddChannelRequest struct {
	ChannelGroupID string `json:"channel_group_id"`
	Name           string `json:"name"`
	OrderNumber    int    `json:"order_number"`
}

// Validate checks the target group and the channel name.
func (r *AddChannelRequest) Validate() error {
	if strings.TrimSpace(r.ChannelGroupID) == "" {
		return fmt.Errorf("channel group id is required")
	}
	r.Name = strings.TrimSpace(r.Name)
	nameLen := utf8.RuneCountInString(r.Name)
	if nameLen < 1 || nameLen > 100 {
		return fmt.Errorf("channel name must be between 1 and 100 characters")
	}
	return nil
}

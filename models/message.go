package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// ChatMessage is one message in a channel.
type ChatMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	ServerID  string    `json:"server_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateMessageRequest posts a message to a channel.
type CreateMessageRequest struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

// Validate checks the channel and content (1-2000 chars).
func (r *CreateMessageRequest) Validate() error {
	if strings.TrimSpace(r.ChannelID) == "" {
		return fmt.Errorf("channel id is required")
	}
	r.Content = strings.TrimSpace(r.Content)
	contentLen := utf8.RuneCountInString(r.Content)
	if contentLen < 1 || contentLen > 2000 {
		return fmt.Errorf("message content must be between 1 and 2000 characters")
	}
	return nil
}

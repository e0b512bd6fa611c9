package repository

import (
	"context"

	"github.com/commsapp/server/models"
)

// MessageRepository persists chat messages. The server service uses it
// to hydrate each channel's transient message list after a structural
// aggregate load.
type MessageRepository interface {
	Insert(ctx context.Context, msg *models.ChatMessage) (int64, error)
	// GetServerMessages returns all messages of a server keyed by
	// channel id, oldest first within each channel.
	GetServerMessages(ctx context.Context, serverID string) (map[string][]*models.ChatMessage, error)
}

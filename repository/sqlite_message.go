package repository

import (
	"context"
	"fmt"

	"github.com/commsapp/server/database"
	"github.com/commsapp/server/models"
)

type sqliteMessageRepo struct {
	db database.TxQuerier
}

// NewSQLiteMessageRepo creates a MessageRepository.
func NewSQLiteMessageRepo(db database.TxQuerier) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

func (r *sqliteMessageRepo) Insert(ctx context.Context, msg *models.ChatMessage) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, server_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.ServerID, msg.SenderID, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert message: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteMessageRepo) GetServerMessages(ctx context.Context, serverID string) (map[string][]*models.ChatMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, channel_id, server_id, sender_id, content, created_at
		FROM messages
		WHERE server_id = ?
		ORDER BY created_at ASC`, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	byChannel := make(map[string][]*models.ChatMessage)
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.ServerID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		byChannel[m.ChannelID] = append(byChannel[m.ChannelID], &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return byChannel, nil
}

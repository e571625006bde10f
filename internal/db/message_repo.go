package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"civicwatch/internal/types"
)

// MessageRepository provides read access to the messages table. Workers only
// ever read messages; creation belongs to the front-of-house API.
type MessageRepository struct {
	db DBTX
}

// NewMessageRepository creates a new MessageRepository backed by the given
// database connection (pool or transaction).
func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

var _ types.MessageStore = (*MessageRepository)(nil)

// Find returns the message with the given id.
func (r *MessageRepository) Find(ctx context.Context, id string) (*types.Message, error) {
	var (
		m          types.Message
		interest   *string
		attachment *string
		mimeType   *string
		thumbnail  *string
		recipients []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, header, text, interest, created_on, expire_on,
		        attachment, mime_type, thumbnail, municipality, recipients
		 FROM messages WHERE id = $1`,
		id,
	).Scan(
		&m.ID,
		&m.Header,
		&m.Text,
		&interest,
		&m.CreatedOn,
		&m.ExpireOn,
		&attachment,
		&mimeType,
		&thumbnail,
		&m.Municipality,
		&recipients,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundMessage,
				fmt.Sprintf("message %s not found", id), nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to find message", err)
	}

	if interest != nil {
		m.Interest = *interest
	}
	if attachment != nil {
		m.Attachment = *attachment
	}
	if mimeType != nil {
		m.MimeType = *mimeType
	}
	if thumbnail != nil {
		m.Thumbnail = *thumbnail
	}
	if err := json.Unmarshal(recipients, &m.Recipients); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode message recipients", err)
	}
	return &m, nil
}

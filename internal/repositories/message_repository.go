package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"mail-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	ListChannelMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]models.Message, error)
	EditMessage(ctx context.Context, messageID int64, newContent string, shadow *string, priorContent string, editedAt time.Time) error
	SoftDeleteMessage(ctx context.Context, messageID, deletedBy int64, at time.Time) error
	EditHistory(ctx context.Context, messageID int64) ([]models.MessageEdit, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, channel_id, sender_id, content, shadow, is_encrypted, state, reply_to, mentions, attachments, created_at, edited_at, deleted_at, deleted_by`

// CreateMessage stores a message row.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	var created models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (channel_id, sender_id, content, shadow, is_encrypted, reply_to, mentions, attachments)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
         RETURNING `+messageColumns,
		msg.ChannelID, msg.SenderID, msg.Content, msg.Shadow, msg.IsEncrypted,
		msg.ReplyTo, msg.Mentions, msg.Attachments,
	).StructScan(&created)
	return created, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListChannelMessages returns up to limit messages of a channel,
// newest first. A non-zero beforeID pages backwards through history.
func (r *MessageRepo) ListChannelMessages(ctx context.Context, channelID, beforeID int64, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
         WHERE channel_id=$1 AND ($2 = 0 OR id < $2)
         ORDER BY id DESC LIMIT $3`,
		channelID, beforeID, limit)
	return msgs, err
}

// EditMessage replaces the content, appends the prior content to the
// edit history, and marks the message edited, in one transaction.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID int64, newContent string, shadow *string, priorContent string, editedAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET content=$2, shadow=$3, state='edited', edited_at=$4 WHERE id=$1 AND state <> 'deleted'`,
		messageID, newContent, shadow, editedAt)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO message_edits (message_id, prior_content, edited_at) VALUES ($1, $2, $3)`,
		messageID, priorContent, editedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// SoftDeleteMessage redacts the message in place. The row is retained
// so reply chains and ordering stay intact.
func (r *MessageRepo) SoftDeleteMessage(ctx context.Context, messageID, deletedBy int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages
         SET content=$2, shadow=NULL, is_encrypted=FALSE, state='deleted', deleted_at=$3, deleted_by=$4
         WHERE id=$1 AND state <> 'deleted'`,
		messageID, models.RedactionPlaceholder, at, deletedBy)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// EditHistory returns prior contents, oldest first.
func (r *MessageRepo) EditHistory(ctx context.Context, messageID int64) ([]models.MessageEdit, error) {
	var edits []models.MessageEdit
	err := r.db.SelectContext(ctx, &edits,
		`SELECT id, message_id, prior_content, edited_at FROM message_edits WHERE message_id=$1 ORDER BY id ASC`,
		messageID)
	return edits, err
}

var _ MessageRepository = (*MessageRepo)(nil)

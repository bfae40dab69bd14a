package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"mail-service/internal/models"
)

// ReceiptRepository abstracts reactions and read receipts. Both merge
// on explicit upsert keys rather than last-writer-wins rows.
type ReceiptRepository interface {
	AddReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error)
	ListReactions(ctx context.Context, messageID int64) ([]models.Reaction, error)
	UpsertReceipts(ctx context.Context, channelID int64, messageIDs []int64, userID int64, readAt time.Time) error
	LastReadAt(ctx context.Context, channelID, userID int64) (time.Time, bool, error)
}

// ReceiptRepo is a sqlx implementation of ReceiptRepository.
type ReceiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo constructs a ReceiptRepo.
func NewReceiptRepo(db *sqlx.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

// AddReaction upserts the (message, user, emoji) triple. It reports
// whether a new row was inserted; re-adding an existing triple is a
// successful no-op.
func (r *ReceiptRepo) AddReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
         ON CONFLICT (message_id, user_id, emoji) DO NOTHING`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RemoveReaction deletes the triple, reporting whether a row existed.
func (r *ReceiptRepo) RemoveReaction(ctx context.Context, messageID, userID int64, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`,
		messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListReactions returns the reactions on a message.
func (r *ReceiptRepo) ListReactions(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	var reactions []models.Reaction
	err := r.db.SelectContext(ctx, &reactions,
		`SELECT message_id, user_id, emoji, created_at FROM reactions WHERE message_id=$1 ORDER BY created_at ASC`,
		messageID)
	return reactions, err
}

// UpsertReceipts records read receipts for the given messages. The
// GREATEST guard enforces read monotonicity at write time: an incoming
// receipt older than the stored one is ignored.
func (r *ReceiptRepo) UpsertReceipts(ctx context.Context, channelID int64, messageIDs []int64, userID int64, readAt time.Time) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, messageID := range messageIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO read_receipts (channel_id, message_id, user_id, read_at) VALUES ($1, $2, $3, $4)
             ON CONFLICT (message_id, user_id)
             DO UPDATE SET read_at = GREATEST(read_receipts.read_at, EXCLUDED.read_at)`,
			channelID, messageID, userID, readAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LastReadAt returns the user's read watermark for a channel. The
// second return is false when the user has no receipt in the channel.
func (r *ReceiptRepo) LastReadAt(ctx context.Context, channelID, userID int64) (time.Time, bool, error) {
	var readAt sql.NullTime
	err := r.db.GetContext(ctx, &readAt,
		`SELECT MAX(read_at) FROM read_receipts WHERE channel_id=$1 AND user_id=$2`,
		channelID, userID)
	if err != nil {
		return time.Time{}, false, err
	}
	if !readAt.Valid {
		return time.Time{}, false, nil
	}
	return readAt.Time, true, nil
}

var _ ReceiptRepository = (*ReceiptRepo)(nil)

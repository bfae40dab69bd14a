package models

import (
	"time"

	"github.com/lib/pq"
)

// MessageState is the lifecycle tag of a message. Deleted messages are
// retained with redacted content so replies keep resolving.
type MessageState string

const (
	MessageActive  MessageState = "active"
	MessageEdited  MessageState = "edited"
	MessageDeleted MessageState = "deleted"
)

// RedactionPlaceholder replaces the content of soft-deleted messages.
const RedactionPlaceholder = "This message was deleted"

// Message is a single message in a channel. Content holds ciphertext
// when IsEncrypted is set; Shadow keeps a searchable plaintext copy
// for public channels only.
type Message struct {
	ID          int64          `db:"id" json:"id"`
	ChannelID   int64          `db:"channel_id" json:"channel_id"`
	SenderID    int64          `db:"sender_id" json:"sender_id"`
	Content     string         `db:"content" json:"content"`
	Shadow      *string        `db:"shadow" json:"-"`
	IsEncrypted bool           `db:"is_encrypted" json:"is_encrypted"`
	State       MessageState   `db:"state" json:"state"`
	ReplyTo     *int64         `db:"reply_to" json:"reply_to,omitempty"`
	Mentions    pq.Int64Array  `db:"mentions" json:"mentions,omitempty"`
	Attachments pq.StringArray `db:"attachments" json:"attachments,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	EditedAt    *time.Time     `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt   *time.Time     `db:"deleted_at" json:"deleted_at,omitempty"`
	DeletedBy   *int64         `db:"deleted_by" json:"deleted_by,omitempty"`
}

// Deleted reports whether the message has been soft-deleted.
func (m Message) Deleted() bool { return m.State == MessageDeleted }

// MessageEdit is one entry of a message's edit history.
type MessageEdit struct {
	ID           int64     `db:"id" json:"id"`
	MessageID    int64     `db:"message_id" json:"message_id"`
	PriorContent string    `db:"prior_content" json:"prior_content"`
	EditedAt     time.Time `db:"edited_at" json:"edited_at"`
}

// Reaction is the unique (message, user, emoji) triple.
type Reaction struct {
	MessageID int64     `db:"message_id" json:"message_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReadReceipt marks a message as read by a user. For a given
// (channel, user) the maximum read_at only moves forward.
type ReadReceipt struct {
	ChannelID int64     `db:"channel_id" json:"channel_id"`
	MessageID int64     `db:"message_id" json:"message_id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

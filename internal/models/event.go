package models

import "time"

// Server-to-client event types.
const (
	EventNewMessage        = "new_message"
	EventMessageEdited     = "message_edited"
	EventMessageDeleted    = "message_deleted"
	EventReactionAdded     = "reaction_added"
	EventReactionRemoved   = "reaction_removed"
	EventMessagesRead      = "messages_read"
	EventUserTyping        = "user_typing"
	EventUserStoppedTyping = "user_stopped_typing"
	EventUserStatusChanged = "user_status_changed"
)

// Client-to-server event types.
const (
	ClientJoinChannel    = "join_channel"
	ClientLeaveChannel   = "leave_channel"
	ClientTypingStart    = "typing_start"
	ClientTypingStop     = "typing_stop"
	ClientUpdatePresence = "update_presence"
	ClientMarkAsRead     = "mark_as_read"
)

// Event is broadcast through websockets to connected clients.
type Event struct {
	Type       string     `json:"type"`
	ChannelID  int64      `json:"channel_id,omitempty"`
	Message    *Message   `json:"message,omitempty"`
	MessageID  int64      `json:"message_id,omitempty"`
	MessageIDs []int64    `json:"message_ids,omitempty"`
	UserID     int64      `json:"user_id,omitempty"`
	Emoji      string     `json:"emoji,omitempty"`
	Status     string     `json:"status,omitempty"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// ClientEvent is what a connected client sends over its websocket.
type ClientEvent struct {
	Type       string  `json:"type"`
	ChannelID  int64   `json:"channel_id,omitempty"`
	MessageIDs []int64 `json:"message_ids,omitempty"`
	Status     string  `json:"status,omitempty"`
}

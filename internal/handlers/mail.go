package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mail-service/internal/middleware"
	"mail-service/internal/models"
	"mail-service/internal/service"
)

// MailHandler exposes the messaging service over HTTP. It is thin
// plumbing: parse, call the service, map the error taxonomy to a
// status code.
type MailHandler struct {
	svc *service.Messenger
}

// NewMailHandler builds a MailHandler.
func NewMailHandler(svc *service.Messenger) *MailHandler {
	return &MailHandler{svc: svc}
}

// CreateChannel creates a channel; direct-channel creation is
// idempotent per member pair.
func (h *MailHandler) CreateChannel(c *gin.Context) {
	var req struct {
		Kind      string  `json:"kind" binding:"required"`
		MemberIDs []int64 `json:"member_ids"`
		Name      *string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	channel, err := h.svc.CreateChannel(c.Request.Context(), service.CreateChannelParams{
		TenantID:  middleware.TenantID(c),
		Kind:      models.ChannelKind(req.Kind),
		CreatorID: middleware.UserID(c),
		MemberIDs: req.MemberIDs,
		Name:      req.Name,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

// ListChannels returns the caller's channels with unread counts.
func (h *MailHandler) ListChannels(c *gin.Context) {
	channels, err := h.svc.ListUserChannels(c.Request.Context(), middleware.UserID(c), middleware.TenantID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channels": channels})
}

// JoinChannel adds the caller to a public channel.
func (h *MailHandler) JoinChannel(c *gin.Context) {
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	if err := h.svc.JoinChannel(c.Request.Context(), channelID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// LeaveChannel soft-deactivates the caller's membership.
func (h *MailHandler) LeaveChannel(c *gin.Context) {
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	if err := h.svc.LeaveChannel(c.Request.Context(), channelID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages returns a page of channel history for a member.
func (h *MailHandler) ListMessages(c *gin.Context) {
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	beforeID, _ := strconv.ParseInt(c.Query("before"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.svc.ListMessages(c.Request.Context(), channelID, middleware.UserID(c), beforeID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage sends a message to a channel.
func (h *MailHandler) PostMessage(c *gin.Context) {
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	var req struct {
		Content     string   `json:"content" binding:"required"`
		Attachments []string `json:"attachments"`
		ReplyTo     *int64   `json:"reply_to"`
		Mentions    []int64  `json:"mentions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), service.SendMessageParams{
		ChannelID:   channelID,
		SenderID:    middleware.UserID(c),
		Content:     req.Content,
		Attachments: req.Attachments,
		ReplyTo:     req.ReplyTo,
		Mentions:    req.Mentions,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// messagePath parses the channel and message ids from the route.
func messagePath(c *gin.Context) (channelID, messageID int64, ok bool) {
	if channelID, ok = pathID(c, "channel_id"); !ok {
		return 0, 0, false
	}
	if messageID, ok = pathID(c, "message_id"); !ok {
		return 0, 0, false
	}
	return channelID, messageID, true
}

// EditMessage replaces a message's content within the edit window.
func (h *MailHandler) EditMessage(c *gin.Context) {
	channelID, messageID, ok := messagePath(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.svc.EditMessage(c.Request.Context(), channelID, messageID, middleware.UserID(c), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// EditHistory returns the prior contents of an edited message.
func (h *MailHandler) EditHistory(c *gin.Context) {
	channelID, messageID, ok := messagePath(c)
	if !ok {
		return
	}
	edits, err := h.svc.EditHistory(c.Request.Context(), channelID, messageID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"edits": edits})
}

// DeleteMessage soft-deletes a message.
func (h *MailHandler) DeleteMessage(c *gin.Context) {
	channelID, messageID, ok := messagePath(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(c.Request.Context(), channelID, messageID, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddReaction upserts a reaction on a message.
func (h *MailHandler) AddReaction(c *gin.Context) {
	channelID, messageID, ok := messagePath(c)
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.AddReaction(c.Request.Context(), channelID, messageID, middleware.UserID(c), req.Emoji); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListReactions returns the reactions on a message.
func (h *MailHandler) ListReactions(c *gin.Context) {
	channelID, messageID, ok := messagePath(c)
	if !ok {
		return
	}
	reactions, err := h.svc.ListReactions(c.Request.Context(), channelID, messageID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

// RemoveReaction deletes a reaction from a message.
func (h *MailHandler) RemoveReaction(c *gin.Context) {
	channelID, messageID, ok := messagePath(c)
	if !ok {
		return
	}
	emoji := c.Query("emoji")
	if emoji == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emoji is required"})
		return
	}
	if err := h.svc.RemoveReaction(c.Request.Context(), channelID, messageID, middleware.UserID(c), emoji); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MarkAsRead records read receipts for the given messages.
func (h *MailHandler) MarkAsRead(c *gin.Context) {
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	var req struct {
		MessageIDs []int64 `json:"message_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.MarkAsRead(c.Request.Context(), channelID, req.MessageIDs, middleware.UserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReadState returns the caller's read watermark for a channel.
func (h *MailHandler) ReadState(c *gin.Context) {
	channelID, ok := pathID(c, "channel_id")
	if !ok {
		return
	}
	readAt, found, err := h.svc.LastReadAt(c.Request.Context(), channelID, middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"read_at": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"read_at": readAt})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

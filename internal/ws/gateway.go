package ws

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"mail-service/internal/models"
	"mail-service/internal/observability"
	"mail-service/internal/session"
)

const authTimeout = 5 * time.Second

// SessionResolver validates a bearer credential.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (session.Identity, error)
}

// Presence is the slice of the presence store the gateway drives.
type Presence interface {
	Connect(ctx context.Context, userID int64, connID string) (bool, error)
	Disconnect(ctx context.Context, userID int64, connID string) (bool, error)
	LastSeen(ctx context.Context, userID int64) (time.Time, bool, error)
}

// Messaging is the slice of the messaging service the gateway calls
// for client-initiated events.
type Messaging interface {
	CheckMembership(ctx context.Context, channelID, userID int64) (bool, error)
	MarkAsRead(ctx context.Context, channelID int64, messageIDs []int64, userID int64) error
	ContactIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Gateway accepts persistent client connections, authenticates them
// against the session store, and keeps the connection registry and
// presence bookkeeping in sync.
type Gateway struct {
	hub      *Hub
	sessions SessionResolver
	presence Presence
	svc      Messaging
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, sessions SessionResolver, presence Presence, svc Messaging, log *zap.Logger) *Gateway {
	return &Gateway{
		hub:      hub,
		sessions: sessions,
		presence: presence,
		svc:      svc,
		log:      log,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: authTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
}

// Handle authenticates and upgrades the connection, then services it
// until disconnect. Authentication happens during the HTTP handshake
// within a bounded timeout; a failed handshake leaves no partial
// state behind.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("mail-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()
	ident, err := g.sessions.Resolve(authCtx, bearerToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	sock, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := newConn(uuid.NewString(), ident.UserID, ident.TenantID, sock)
	go conn.writeLoop()
	g.hub.Register(conn)

	observability.IncWSActive()
	observability.IncWSEvent("connect")
	g.log.Info("ws connected",
		zap.String("conn_id", conn.ID),
		zap.Int64("user_id", conn.UserID),
		zap.String("request_id", observability.RequestIDFromRequest(c.Request)),
		zap.String("ip", observability.IPFromRequest(c.Request)))

	// The request context dies with the handler; connection-scoped
	// work gets its own root.
	connCtx := context.Background()

	first, err := g.presence.Connect(connCtx, conn.UserID, conn.ID)
	if err != nil {
		g.log.Warn("presence connect failed", zap.Int64("user_id", conn.UserID), zap.Error(err))
	}
	if first {
		g.broadcastStatus(connCtx, conn.UserID, "online", nil)
	}

	go g.readLoop(connCtx, conn)
}

func (g *Gateway) readLoop(ctx context.Context, conn *Conn) {
	defer g.teardown(ctx, conn)

	conn.sock.SetReadLimit(1 << 16)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var ev models.ClientEvent
		if err := conn.sock.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("error")
			}
			return
		}
		g.handleClientEvent(ctx, conn, ev)
	}
}

func (g *Gateway) handleClientEvent(ctx context.Context, conn *Conn, ev models.ClientEvent) {
	observability.IncWSEvent(ev.Type)

	switch ev.Type {
	case models.ClientJoinChannel:
		// A failed membership check refuses the join silently; it is
		// not a protocol error.
		ok, err := g.svc.CheckMembership(ctx, ev.ChannelID, conn.UserID)
		if err != nil {
			g.log.Warn("membership check failed", zap.Int64("channel_id", ev.ChannelID), zap.Error(err))
			return
		}
		if ok {
			g.hub.JoinChannel(conn, ev.ChannelID)
		}

	case models.ClientLeaveChannel:
		g.hub.LeaveChannel(conn, ev.ChannelID)

	case models.ClientTypingStart, models.ClientTypingStop:
		if !g.hub.InChannel(conn, ev.ChannelID) {
			return
		}
		eventType := models.EventUserTyping
		if ev.Type == models.ClientTypingStop {
			eventType = models.EventUserStoppedTyping
		}
		g.hub.SendToChannelExcept(ev.ChannelID, conn.UserID, models.Event{
			Type:      eventType,
			ChannelID: ev.ChannelID,
			UserID:    conn.UserID,
		})

	case models.ClientUpdatePresence:
		g.broadcastStatus(ctx, conn.UserID, ev.Status, nil)

	case models.ClientMarkAsRead:
		if err := g.svc.MarkAsRead(ctx, ev.ChannelID, ev.MessageIDs, conn.UserID); err != nil {
			g.log.Warn("mark as read failed",
				zap.Int64("channel_id", ev.ChannelID),
				zap.Int64("user_id", conn.UserID),
				zap.Error(err))
		}

	default:
		g.log.Debug("unknown client event", zap.String("type", ev.Type))
	}
}

// teardown is idempotent: the hub unregister and the presence
// disconnect both tolerate an already-removed connection.
func (g *Gateway) teardown(ctx context.Context, conn *Conn) {
	g.hub.Unregister(conn)
	conn.close()

	observability.DecWSActive()
	observability.IncWSEvent("disconnect")

	last, err := g.presence.Disconnect(ctx, conn.UserID, conn.ID)
	if err != nil {
		g.log.Warn("presence disconnect failed", zap.Int64("user_id", conn.UserID), zap.Error(err))
	}
	if last {
		var lastSeen *time.Time
		if ts, ok, err := g.presence.LastSeen(ctx, conn.UserID); err == nil && ok {
			lastSeen = &ts
		}
		g.broadcastStatus(ctx, conn.UserID, "offline", lastSeen)
	}
}

// broadcastStatus fans a presence change out to the user's contacts.
func (g *Gateway) broadcastStatus(ctx context.Context, userID int64, status string, lastSeen *time.Time) {
	contacts, err := g.svc.ContactIDs(ctx, userID)
	if err != nil {
		g.log.Warn("resolve contacts failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	ev := models.Event{
		Type:     models.EventUserStatusChanged,
		UserID:   userID,
		Status:   status,
		LastSeen: lastSeen,
	}
	for _, contactID := range contacts {
		g.hub.SendToUser(contactID, ev)
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

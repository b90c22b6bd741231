package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/nestfest/vote-service/internal/broadcast"
	"github.com/nestfest/vote-service/internal/domain"
	"github.com/nestfest/vote-service/internal/gateway"
	"github.com/nestfest/vote-service/internal/registry"
)

const (
	pongWait   = 60 * time.Second
	maxMsgSize = 4096
)

// Handler upgrades HTTP requests to vote sockets and runs each socket's
// read loop. One goroutine per connection reads; the hub's write pump
// sends.
type Handler struct {
	hub      *Hub
	service  *gateway.Service
	registry *registry.Registry
	verifier *Verifier
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, service *gateway.Service, reg *registry.Registry, verifier *Verifier) *Handler {
	h := &Handler{
		hub:      hub,
		service:  service,
		registry: reg,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// origin policy is enforced at the edge proxy
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	hub.OnDrop(func(connectionID string) { reg.Untrack(connectionID) })
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Identify(r)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	connectionID := uuid.NewString()
	now := time.Now()

	h.registry.Track(connectionID, identity.UserID, identity.Role, now)
	h.hub.Register(connectionID, conn)

	zlog.Info().
		Str("connection_id", connectionID).
		Str("user_id", identity.UserID).
		Bool("anonymous", identity.Anonymous()).
		Msg("connection opened")

	go h.readLoop(conn, connectionID, identity, clientAddr(r), r.UserAgent(), sessionID(r))
}

func (h *Handler) readLoop(conn *websocket.Conn, connectionID string, identity Identity, ip, userAgent, session string) {
	defer func() {
		h.hub.Unregister(connectionID)
		h.registry.Untrack(connectionID)
		zlog.Info().Str("connection_id", connectionID).Msg("connection closed")
	}()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.registry.RecordActivity(connectionID, time.Now())
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Debug().Err(err).Str("connection_id", connectionID).Msg("socket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.registry.RecordError(connectionID, time.Now())
			h.hub.SendTo(connectionID, newErrorFrame(domain.CodeValidation, "malformed message"))
			continue
		}

		h.dispatch(connectionID, identity, ip, userAgent, session, msg)
	}
}

func (h *Handler) dispatch(connectionID string, identity Identity, ip, userAgent, session string, msg ClientMessage) {
	now := time.Now()

	switch msg.Type {
	case msgCastVote:
		h.registry.RecordActivity(connectionID, now)
		h.handleVote(connectionID, identity, ip, userAgent, session, msg)

	case msgSubscribe:
		h.registry.RecordActivity(connectionID, now)
		h.handleSubscribe(connectionID, identity, msg.Audience)

	case msgUnsubscribe:
		h.registry.RecordActivity(connectionID, now)
		if msg.Audience != "" {
			h.hub.Unsubscribe(connectionID, msg.Audience)
		}

	case msgPing:
		h.registry.RecordActivity(connectionID, now)
		h.hub.SendTo(connectionID, pongFrame{Type: "pong", Timestamp: now.UTC()})

	default:
		h.registry.RecordError(connectionID, now)
		h.hub.SendTo(connectionID, newErrorFrame(domain.CodeValidation, "unknown message type"))
	}
}

func (h *Handler) handleVote(connectionID string, identity Identity, ip, userAgent, session string, msg ClientMessage) {
	res := h.service.CastVote(context.Background(), gateway.VoteRequest{
		ConnectionID:  connectionID,
		CompetitionID: msg.CompetitionID,
		SubmissionID:  msg.SubmissionID,
		VoteType:      msg.VoteType,
		UserID:        identity.UserID,
		Role:          identity.Role,
		SessionID:     session,
		IPAddress:     ip,
		UserAgent:     userAgent,
		Weight:        msg.Weight,
	})

	if res.Accepted {
		h.hub.SendTo(connectionID, newVoteAck(res.VoteID, res.NewCount, res.Timestamp))
		return
	}
	h.hub.SendTo(connectionID, newVoteRejection(res.Code, res.Message, res.Alerts))
}

func (h *Handler) handleSubscribe(connectionID string, identity Identity, audience string) {
	if audience == "" {
		h.hub.SendTo(connectionID, newErrorFrame(domain.CodeValidation, "audience is required"))
		return
	}
	if audience == broadcast.OpsAudience && !identity.CanJoinOps() {
		h.hub.SendTo(connectionID, newErrorFrame(domain.CodeForbidden, "ops audience requires an operator role"))
		return
	}
	h.hub.Subscribe(connectionID, audience)
}

func clientAddr(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func sessionID(r *http.Request) string {
	if s := r.Header.Get("X-Session-Id"); s != "" {
		return strings.TrimSpace(s)
	}
	return r.URL.Query().Get("session")
}

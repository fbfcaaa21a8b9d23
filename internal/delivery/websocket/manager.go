package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"wordchain-server/internal/delivery/http/middleware"
	"wordchain-server/internal/domain"
	"wordchain-server/internal/syncengine"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Типы сообщений, которые получает клиент
const (
	MessageStories      = "stories"
	MessageStoryChanged = "story_changed"
	MessageStoryRemoved = "story_removed"
)

const (
	sendBufferSize      = 64
	broadcastBufferSize = 256
	maxMessageSize      = 512
	pongWait            = 60 * time.Second
	pingPeriod          = 54 * time.Second
	writeWait           = 10 * time.Second
	trackTimeout        = 5 * time.Second
)

// SessionOpener открывает сессию синхронизации участника.
type SessionOpener interface {
	OpenSession(ctx context.Context, participantID uuid.UUID) (*syncengine.Session, []*domain.Story, error)
}

// Message - сообщение клиенту.
type Message struct {
	Type    string      `json:"type"`
	StoryID *uuid.UUID  `json:"storyId,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

type delivery struct {
	message Message
	targets []uuid.UUID
}

// Client - одно websocket-подключение участника.
type Client struct {
	ID            uuid.UUID
	ParticipantID uuid.UUID

	conn    *websocket.Conn
	hub     *Hub
	send    chan []byte
	session *syncengine.Session
	// tracked трогает только цикл run
	tracked map[uuid.UUID]struct{}
}

// Hub раздает изменения историй подключенным участникам.
// Реализует syncengine.StoryObserver.
type Hub struct {
	sessions SessionOpener
	logger   *zap.Logger
	upgrader websocket.Upgrader

	clients    map[uuid.UUID]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan delivery
	done       chan struct{}
}

var _ syncengine.StoryObserver = (*Hub)(nil)

// NewHub creates a hub. Пустой allowedOrigins пропускает любой Origin.
func NewHub(sessions SessionOpener, allowedOrigins []string, logger *zap.Logger) *Hub {
	h := &Hub{
		sessions:   sessions,
		logger:     logger.Named("LiveHub"),
		clients:    make(map[uuid.UUID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan delivery, broadcastBufferSize),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowedOrigins) == 0 ||
				slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// Run обрабатывает подключения до отмены ctx. Запускается в отдельной горутине.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, client := range h.clients {
				h.drop(client)
			}
			h.logger.Info("Live hub stopped")
			return

		case client := <-h.register:
			h.clients[client.ID] = client
			h.logger.Info("Client connected",
				zap.String("clientID", client.ID.String()),
				zap.String("participantID", client.ParticipantID.String()))

		case client := <-h.unregister:
			if _, ok := h.clients[client.ID]; ok {
				h.drop(client)
				h.logger.Info("Client disconnected", zap.String("clientID", client.ID.String()))
			}

		case d := <-h.broadcast:
			data, err := json.Marshal(d.message)
			if err != nil {
				h.logger.Error("Failed to marshal live message", zap.String("type", d.message.Type), zap.Error(err))
				continue
			}
			for _, client := range h.clients {
				if !slices.Contains(d.targets, client.ParticipantID) {
					continue
				}
				select {
				case client.send <- data:
				default:
					h.logger.Warn("Client send buffer full, disconnecting", zap.String("clientID", client.ID.String()))
					h.drop(client)
					continue
				}
				if d.message.StoryID != nil {
					h.follow(client, d.message.Type, *d.message.StoryID)
				}
			}
		}
	}
}

// drop убирает клиента. Вызывается только из run.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client.ID)
	close(client.send)
	client.session.Close()
}

// follow держит подписки сессии в соответствии с историями, о которых узнал клиент.
func (h *Hub) follow(client *Client, messageType string, storyID uuid.UUID) {
	switch messageType {
	case MessageStoryRemoved:
		delete(client.tracked, storyID)
	case MessageStoryChanged:
		if _, ok := client.tracked[storyID]; ok {
			return
		}
		client.tracked[storyID] = struct{}{}
		session := client.session
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), trackTimeout)
			defer cancel()
			if err := session.Track(ctx, storyID); err != nil && !errors.Is(err, domain.ErrConfiguration) {
				h.logger.Warn("Failed to track story for live client",
					zap.String("storyID", storyID.String()), zap.Error(err))
			}
		}()
	}
}

// StoryChanged вызывается движком синхронно, поэтому не блокирует.
func (h *Hub) StoryChanged(story domain.StorySnapshot) {
	targets := []uuid.UUID{story.CreatorID}
	if story.PartnerID != nil {
		targets = append(targets, *story.PartnerID)
	}
	id := story.ID
	h.enqueue(delivery{message: Message{Type: MessageStoryChanged, StoryID: &id, Payload: story}, targets: targets})
}

func (h *Hub) StoryRemoved(storyID uuid.UUID, participants []uuid.UUID) {
	h.enqueue(delivery{message: Message{Type: MessageStoryRemoved, StoryID: &storyID}, targets: participants})
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.broadcast <- d:
	default:
		h.logger.Warn("Live broadcast queue full, dropping update", zap.String("type", d.message.Type))
	}
}

// ServeWS открывает сессию участника и переводит соединение на websocket.
// Первое сообщение - текущий список историй участника.
func (h *Hub) ServeWS(c *gin.Context) {
	participantID, ok := middleware.ParticipantFromContext(c)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	logFields := []zap.Field{zap.String("participantID", participantID.String())}

	session, stories, err := h.sessions.OpenSession(c.Request.Context(), participantID)
	if err != nil {
		h.logger.Error("Failed to open sync session", append(logFields, zap.Error(err))...)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "Story backend is unavailable"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", append(logFields, zap.Error(err))...)
		session.Close()
		return
	}

	client := &Client{
		ID:            uuid.New(),
		ParticipantID: participantID,
		conn:          conn,
		hub:           h,
		send:          make(chan []byte, sendBufferSize),
		session:       session,
		tracked:       make(map[uuid.UUID]struct{}, len(stories)),
	}
	snaps := make([]domain.StorySnapshot, 0, len(stories))
	for _, s := range stories {
		client.tracked[s.ID] = struct{}{}
		snaps = append(snaps, s.Snapshot())
	}
	initial, err := json.Marshal(Message{Type: MessageStories, Payload: snaps})
	if err != nil {
		h.logger.Error("Failed to marshal initial story list", append(logFields, zap.Error(err))...)
		session.Close()
		_ = conn.Close()
		return
	}
	client.send <- initial

	select {
	case h.register <- client:
	case <-h.done:
		session.Close()
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump читает только управляющие кадры: клиент ничего не присылает, кроме pong и close.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("Websocket read error", zap.String("clientID", c.ID.String()), zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

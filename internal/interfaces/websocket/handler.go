package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ngoclaw/wagent/internal/domain/entity"
	"github.com/ngoclaw/wagent/internal/infrastructure/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 鉴权由 HTTP 中间件完成
	},
}

// MessageType 消息类型
type MessageType string

const (
	MessageTypeEvent MessageType = "event"
	MessageTypeError MessageType = "error"
	MessageTypePing  MessageType = "ping"
	MessageTypePong  MessageType = "pong"
)

// WSMessage WebSocket 消息
type WSMessage struct {
	Type      MessageType         `json:"type"`
	Event     *entity.DomainEvent `json:"event,omitempty"`
	Content   string              `json:"content,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// Client 运营侧订阅者; InstanceID/SessionID 为空表示不过滤
type Client struct {
	ID         string
	InstanceID string
	SessionID  string
	conn       *websocket.Conn
	send       chan []byte
	hub        *Hub
	logger     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// trySend 非阻塞投递; 已关闭或缓冲满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wants 客户端是否订阅该事件
func (c *Client) wants(ev entity.DomainEvent) bool {
	if c.InstanceID != "" && ev.InstanceID != c.InstanceID {
		return false
	}
	if c.SessionID != "" && ev.SessionID != c.SessionID {
		return false
	}
	return true
}

// Hub WebSocket 连接中心，把事件总线上的领域事件推送给订阅者
type Hub struct {
	clients map[string]*Client
	events  chan entity.DomainEvent
	logger  *zap.Logger
	mu      sync.RWMutex
}

// NewHub 创建连接中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		events:  make(chan entity.DomainEvent, 256),
		logger:  logger.With(zap.String("component", "ws-hub")),
	}
}

// Attach 订阅全部事件
func (h *Hub) Attach(bus eventbus.Bus) func() {
	return bus.Subscribe(eventbus.Wildcard, h.Handle)
}

// Handle 事件入队; 满时丢弃，总线分发不被慢客户端拖住
func (h *Hub) Handle(_ context.Context, ev entity.DomainEvent) {
	select {
	case h.events <- ev:
	default:
		h.logger.Debug("Event feed full, dropping", zap.String("type", string(ev.Type)))
	}
}

// Run 运行连接中心
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return
		case ev := <-h.events:
			h.broadcast(ev)
		}
	}
}

func (h *Hub) broadcast(ev entity.DomainEvent) {
	data := mustMarshal(&WSMessage{
		Type:      MessageTypeEvent,
		Event:     &ev,
		Timestamp: time.Now().Unix(),
	})

	var slow []*Client
	h.mu.RLock()
	for _, client := range h.clients {
		if !client.wants(ev) {
			continue
		}
		if !client.trySend(data) {
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Dropping slow client", zap.String("client_id", client.ID))
		h.remove(client)
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("instance_id", client.InstanceID),
	)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID]
	delete(h.clients, client.ID)
	h.mu.Unlock()
	client.close()
	if ok {
		h.logger.Info("Client disconnected", zap.String("client_id", client.ID))
	}
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler WebSocket 处理器
type Handler struct {
	hub    *Hub
	logger *zap.Logger
}

// NewHandler 创建 WebSocket 处理器
func NewHandler(hub *Hub, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: logger,
	}
}

// ServeWS 处理 WebSocket 连接: /ws/events?instance_id=&session_id=
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:         uuid.NewString(),
		InstanceID: r.URL.Query().Get("instance_id"),
		SessionID:  r.URL.Query().Get("session_id"),
		conn:       conn,
		send:       make(chan []byte, 256),
		hub:        h.hub,
		logger:     h.logger,
	}

	h.hub.add(client)

	// 启动读写协程
	go client.writePump()
	go client.readPump()
}

// readPump 只处理 ping 与断开
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			c.trySend(mustMarshal(&WSMessage{Type: MessageTypePong, Timestamp: time.Now().Unix()}))
		}
	}
}

// writePump 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustMarshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

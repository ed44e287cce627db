package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"wisefido-fall/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	clientSendSize = 16
)

// 推送消息类型
const (
	MessageTypeAlert = "alert"
	MessageTypeHelp  = "help"
)

// HubMessage websocket 推送消息
type HubMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// hubClient 单个 websocket 连接
type hubClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub 向所有前端连接推送报警状态变化和求助信号
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*hubClient
	upgrader websocket.Upgrader
	current  func() models.AlertState
	logger   *zap.Logger

	messagesSent    atomic.Uint64
	messagesDropped atomic.Uint64
}

// NewHub 创建 websocket hub
// current 用于新连接建立时推送当前状态
func NewHub(current func() models.AlertState, logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*hubClient),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		current: current,
		logger:  logger,
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnAlertChanged 实现 alert.ChangeFunc
func (h *Hub) OnAlertChanged(state models.AlertState) {
	h.Broadcast(HubMessage{Type: MessageTypeAlert, Data: state})
}

// OnHelpRequested 实现 alert.HelpFunc
func (h *Hub) OnHelpRequested(req models.HelpRequest) {
	h.Broadcast(HubMessage{Type: MessageTypeHelp, Data: req})
}

// Broadcast 非阻塞推送；客户端发送队列满时丢弃
func (h *Hub) Broadcast(msg HubMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("Failed to marshal hub message", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- data:
			h.messagesSent.Add(1)
		default:
			h.messagesDropped.Add(1)
			h.logger.Warn("Websocket client too slow, dropping message",
				zap.String("client_id", c.id),
				zap.String("type", msg.Type),
			)
		}
	}
}

// ServeHTTP 升级 websocket 连接
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	c := &hubClient{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan []byte, clientSendSize),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	// 注册后再推送当前状态，不会漏掉变化；客户端按 version 去重排序
	if h.current != nil {
		if data, err := json.Marshal(HubMessage{Type: MessageTypeAlert, Data: h.current()}); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}

	h.logger.Info("Websocket client connected",
		zap.String("client_id", c.id),
		zap.Int("client_count", count),
	)

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop 只处理控制帧，连接关闭时注销客户端
func (h *Hub) readLoop(c *hubClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		count := len(h.clients)
		h.mu.Unlock()
		close(c.send)

		h.logger.Info("Websocket client disconnected",
			zap.String("client_id", c.id),
			zap.Int("client_count", count),
		)
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

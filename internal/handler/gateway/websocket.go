package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/conversation"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Conversations 入站帧驱动的对话引擎接口
type Conversations interface {
	Greet(ctx context.Context, query, replyTo string) (*session.History, error)
	HandleReply(ctx context.Context, reply conversation.Reply) (*session.History, error)
	Dispatch(ctx context.Context, action conversation.Action) error
}

// WebSocketHandler WebSocket 会话网关
type WebSocketHandler struct {
	hub           *Hub
	conversations Conversations
	substitutes   conversation.NameSubstitutes
	upgrader      websocket.Upgrader

	// work 的生命周期长于发起它的连接
	work context.Context
}

// NewWebSocketHandler 创建 WebSocket 处理器。入站帧触发的生成运行在 work 上。
func NewWebSocketHandler(work context.Context, hub *Hub, conversations Conversations, substitutes conversation.NameSubstitutes) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		conversations: conversations,
		substitutes:   substitutes,
		work:          work,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

type greetMessage struct {
	Character string `json:"character"`
	ReplyTo   string `json:"replyTo"`
}

type replyMessage struct {
	RepliedTo   string   `json:"repliedTo"`
	Author      string   `json:"author"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
	Edited      bool     `json:"edited,omitempty"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	ID        string      `json:"id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// connection 串行化对单个 websocket 的写入
type connection struct {
	conn   *websocket.Conn
	events <-chan Event
	direct chan outgoingMessage
}

func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	c := &connection{
		conn:   conn,
		events: events,
		direct: make(chan outgoingMessage, subscriberBuffer),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go h.writeLoop(ctx, cancel, c)

	c.send(outgoingMessage{Type: "connected"})
	log.Debug().Str("remote", r.RemoteAddr).Msg("websocket connected")

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, c, &msg)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, c *connection, msg *inboundMessage) {
	switch msg.Type {
	case "greet":
		var greet greetMessage
		if err := json.Unmarshal(msg.Data, &greet); err != nil || greet.Character == "" {
			c.sendError(msg.ID, "invalid greet payload")
			return
		}
		go func() {
			if _, err := h.conversations.Greet(h.work, greet.Character, greet.ReplyTo); err != nil {
				c.sendError(msg.ID, err.Error())
			}
		}()

	case "reply":
		var reply replyMessage
		if err := json.Unmarshal(msg.Data, &reply); err != nil || reply.RepliedTo == "" {
			c.sendError(msg.ID, "invalid reply payload")
			return
		}
		turn := h.substitutes.Turn(conversation.Inbound{
			PlatformName: reply.Author,
			Content:      reply.Content,
			Attachments:  reply.Attachments,
			Edited:       reply.Edited,
		})
		go func() {
			_, err := h.conversations.HandleReply(h.work, conversation.Reply{RepliedTo: reply.RepliedTo, Turn: turn})
			if err != nil {
				c.sendError(msg.ID, err.Error())
			}
		}()

	case "action":
		var action conversation.Action
		if err := json.Unmarshal(msg.Data, &action); err != nil || !action.Kind.Valid() {
			c.sendError(msg.ID, "invalid action payload")
			return
		}
		if err := h.conversations.Dispatch(ctx, action); err != nil {
			c.sendError(msg.ID, err.Error())
		}

	default:
		c.sendError(msg.ID, "unsupported message type: "+msg.Type)
	}
}

// writeLoop 统一负责写入：事件、直接回复与 ping。
func (h *WebSocketHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, c *connection) {
	defer cancel()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			err = c.write(outgoingMessage{Type: ev.Type, Data: ev, Timestamp: ev.Timestamp})
		case msg := <-c.direct:
			err = c.write(msg)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err = c.conn.WriteMessage(websocket.PingMessage, nil)
		}
		if err != nil {
			log.Debug().Err(err).Msg("websocket write failed")
			c.conn.Close()
			return
		}
	}
}

func (c *connection) write(msg outgoingMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return errors.Wrap(c.conn.WriteJSON(msg), "write json")
}

func (c *connection) send(msg outgoingMessage) {
	select {
	case c.direct <- msg:
	default:
		log.Warn().Str("type", msg.Type).Msg("websocket direct queue full")
	}
}

func (c *connection) sendError(id, message string) {
	c.send(outgoingMessage{Type: "error", ID: id, Data: map[string]string{"message": message}})
}

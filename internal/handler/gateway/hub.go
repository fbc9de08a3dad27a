// Package gateway 是聊天界面层：把对话视图渲染为事件推送给 websocket 与 SSE
// 订阅者，并把收到的帧交回对话引擎。
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/service/conversation"
)

// 广播给订阅者的事件类型
const (
	EventMessageCreate = "message.create"
	EventMessageUpdate = "message.update"
	EventMessagePin    = "message.pin"
)

const subscriberBuffer = 64

// Event 一次已渲染消息的变更
type Event struct {
	Type      string            `json:"type"`
	MessageID string            `json:"messageId"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	View      conversation.View `json:"view"`
	Timestamp int64             `json:"timestamp"`
}

// Hub 把渲染后的消息分发给所有订阅者，是对话引擎的 Presenter。
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	now         func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		now:         time.Now,
	}
}

// Subscribe 注册新的监听者，监听者离开后必须调用返回的 cancel。
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers 返回当前监听者数量
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Send 分配消息 ID 并广播新消息
func (h *Hub) Send(_ context.Context, replyTo string, v conversation.View) (string, error) {
	id := uuid.NewString()
	h.broadcast(Event{Type: EventMessageCreate, MessageID: id, ReplyTo: replyTo, View: v})
	return id, nil
}

// Edit 广播已有消息的新内容
func (h *Hub) Edit(_ context.Context, messageID string, v conversation.View) error {
	h.broadcast(Event{Type: EventMessageUpdate, MessageID: messageID, View: v})
	return nil
}

// Pin 广播消息的置顶副本
func (h *Hub) Pin(_ context.Context, replyTo string, v conversation.View) error {
	h.broadcast(Event{Type: EventMessagePin, MessageID: uuid.NewString(), ReplyTo: replyTo, View: v})
	return nil
}

// broadcast 从不阻塞，缓冲区已满的订阅者会错过该事件
func (h *Hub) broadcast(ev Event) {
	ev.Timestamp = h.now().UnixMilli()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("message_id", ev.MessageID).Str("type", ev.Type).Msg("subscriber too slow, dropping event")
		}
	}
}

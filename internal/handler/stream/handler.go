package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/handler/gateway"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler 通过 Server-Sent Events 推送消息事件
type Handler struct {
	hub       *gateway.Hub
	heartbeat time.Duration
}

// New 创建事件流处理器
func New(hub *gateway.Hub) *Handler {
	return &Handler{hub: hub, heartbeat: defaultHeartbeat}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

// handleEvents 保持连接并转发所有事件，直到客户端断开。?message= 只推送指定消息。
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	filter := r.URL.Query().Get("message")
	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEEvent(w, flusher, "status", map[string]string{"message": "stream established"}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("events stream closed")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && ev.MessageID != filter && ev.ReplyTo != filter {
				continue
			}
			if err := utils.SendSSEEvent(w, flusher, ev.Type, ev); err != nil {
				return
			}
		case t := <-ticker.C:
			if err := utils.SendSSEEvent(w, flusher, "heartbeat", map[string]string{
				"time": t.UTC().Format(time.RFC3339),
			}); err != nil {
				return
			}
		}
	}
}

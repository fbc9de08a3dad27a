package chat

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
	chatService "github.com/zhouzirui/z-tavern/roleplay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/conversation"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Engine 对话引擎中 HTTP 需要的部分
type Engine interface {
	Greet(ctx context.Context, query, replyTo string) (*session.History, error)
	HandleReply(ctx context.Context, reply conversation.Reply) (*session.History, error)
	Dispatch(ctx context.Context, action conversation.Action) error
	AddExample(ctx context.Context, messageID string) (character.Character, error)
}

// Sessions 会话只读访问
type Sessions interface {
	Get(ctx context.Context, messageID string) (*session.History, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	engine      Engine
	sessions    Sessions
	substitutes conversation.NameSubstitutes
}

// New 创建聊天处理器
func New(engine Engine, sessions Sessions, substitutes conversation.NameSubstitutes) *Handler {
	return &Handler{
		engine:      engine,
		sessions:    sessions,
		substitutes: substitutes,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chats", h.handleGreet)
	r.Get("/chats/{messageID}", h.handleGet)
	r.Post("/chats/{messageID}/replies", h.handleReply)
	r.Post("/chats/{messageID}/actions", h.handleAction)
	r.Post("/chats/{messageID}/example", h.handleAddExample)
}

// handleGreet 按模糊名称找到角色并开始对话
func (h *Handler) handleGreet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Character string `json:"character"`
		ReplyTo   string `json:"replyTo"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Character) == "" {
		utils.RespondError(w, http.StatusBadRequest, "character is required")
		return
	}

	history, err := h.engine.Greet(r.Context(), payload.Character, payload.ReplyTo)
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, history)
}

// handleGet 返回消息对应的会话
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	history, err := h.sessions.Get(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, history)
}

// handleReply 回复某条消息，同步等待生成完成
func (h *Handler) handleReply(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Author      string   `json:"author"`
		Content     string   `json:"content"`
		Attachments []string `json:"attachments,omitempty"`
		Edited      bool     `json:"edited,omitempty"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Content == "" && len(payload.Attachments) == 0 {
		utils.RespondError(w, http.StatusBadRequest, "content is required")
		return
	}

	turn := h.substitutes.Turn(conversation.Inbound{
		PlatformName: payload.Author,
		Content:      payload.Content,
		Attachments:  payload.Attachments,
		Edited:       payload.Edited,
	})
	history, err := h.engine.HandleReply(r.Context(), conversation.Reply{
		RepliedTo: chi.URLParam(r, "messageID"),
		Turn:      turn,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, history)
}

// handleAction 把按钮操作交给消息的交互循环
func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind conversation.ActionKind `json:"kind"`
		Text string                  `json:"text,omitempty"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || !payload.Kind.Valid() {
		utils.RespondError(w, http.StatusBadRequest, "invalid action")
		return
	}

	err := h.engine.Dispatch(r.Context(), conversation.Action{
		MessageID: chi.URLParam(r, "messageID"),
		Kind:      payload.Kind,
		Text:      payload.Text,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleAddExample 把当前选项加入角色的示例消息
func (h *Handler) handleAddExample(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.AddExample(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, c)
}

func respondErr(w http.ResponseWriter, err error) {
	utils.RespondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, character.ErrNotFound),
		errors.Is(err, chatService.ErrSessionNotFound),
		errors.Is(err, conversation.ErrNoActiveLoop):
		return http.StatusNotFound
	case errors.Is(err, session.ErrGenerationInFlight),
		errors.Is(err, session.ErrNoChoices):
		return http.StatusConflict
	case errors.Is(err, stream.ErrInvalidRequest):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

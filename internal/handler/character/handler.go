package character

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/pkg/utils"
)

// Handler 角色管理的HTTP处理器
type Handler struct {
	characters character.Store
	metrics    *metrics.Metrics
}

// New 创建角色处理器
func New(characters character.Store, m *metrics.Metrics) *Handler {
	return &Handler{
		characters: characters,
		metrics:    m,
	}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleList)
	r.Post("/characters", h.handleCreate)
	r.Patch("/characters/{name}", h.handleEdit)
	r.Delete("/characters/{name}", h.handleDelete)
}

type createRequest struct {
	Name        string  `json:"name"`
	Greeting    *string `json:"greeting,omitempty"`
	Description *string `json:"description,omitempty"`
	Emoji       *string `json:"emoji,omitempty"`
	Avatar      *string `json:"avatar,omitempty"`
}

// handleList 列出所有角色
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.characters.List())
}

// handleCreate 创建或覆盖角色
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	c := character.New(payload.Name, payload.Greeting, payload.Description, payload.Emoji, payload.Avatar)
	h.save(r, c)
	utils.RespondJSON(w, http.StatusCreated, c)
}

// handleEdit 只替换请求中给出的字段
func (h *Handler) handleEdit(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	c, ok := h.characters.Get(name)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, character.ErrNotFound.Error())
		return
	}

	var patch character.Patch
	if err := utils.DecodeJSON(r, &patch); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c.Apply(patch)
	h.save(r, c)
	utils.RespondJSON(w, http.StatusOK, c)
}

// handleDelete 删除角色，已有会话保留自己的副本
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := h.characters.Remove(r.Context(), name)
	if err != nil {
		h.persistFailed(err, name)
	}
	if !removed {
		utils.RespondError(w, http.StatusNotFound, character.ErrNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) save(r *http.Request, c character.Character) {
	if err := h.characters.Put(r.Context(), c); err != nil {
		h.persistFailed(err, c.Name)
	}
}

// persistFailed 内存中的修改仍然生效，只记录告警
func (h *Handler) persistFailed(err error, name string) {
	h.metrics.PersistFailed("characters")
	log.Warn().Err(err).Str("character", name).Msg("failed to persist characters")
}

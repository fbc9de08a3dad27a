package conversation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

// ActionKind enumerates the interactions a rendered message accepts.
type ActionKind string

const (
	ActionPageBack    ActionKind = "prev"
	ActionPageForward ActionKind = "next"
	ActionPin         ActionKind = "pin"
	ActionEdit        ActionKind = "edit"
	ActionRegenerate  ActionKind = "regenerate"
)

// Action targets the loop of one rendered message. Text is only read for
// ActionEdit; an empty Text is a cancelled edit.
type Action struct {
	MessageID string     `json:"messageId"`
	Kind      ActionKind `json:"kind"`
	Text      string     `json:"text,omitempty"`
}

func (k ActionKind) Valid() bool {
	switch k {
	case ActionPageBack, ActionPageForward, ActionPin, ActionEdit, ActionRegenerate:
		return true
	}
	return false
}

type loop struct {
	messageID string
	actions   chan Action
	done      chan struct{}
}

const actionBuffer = 8

func (e *Engine) startLoop(messageID string) {
	l := &loop{
		messageID: messageID,
		actions:   make(chan Action, actionBuffer),
		done:      make(chan struct{}),
	}

	e.mu.Lock()
	if prev, ok := e.loops[messageID]; ok {
		e.mu.Unlock()
		log.Debug().Str("message_id", prev.messageID).Msg("interaction loop already running")
		return
	}
	e.loops[messageID] = l
	e.mu.Unlock()

	e.wg.Add(1)
	e.metrics.LoopStarted()
	go e.run(l)
}

func (e *Engine) run(l *loop) {
	defer e.wg.Done()
	defer e.metrics.LoopStopped()
	defer func() {
		e.mu.Lock()
		if e.loops[l.messageID] == l {
			delete(e.loops, l.messageID)
		}
		e.mu.Unlock()
		close(l.done)
	}()

	ctx, cancel := context.WithTimeout(e.base, e.timeout)
	defer cancel()

	logger := log.With().Str("message_id", l.messageID).Logger()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("interaction loop finished")
			return
		case action := <-l.actions:
			e.handle(logger.WithContext(ctx), l.messageID, action)
		}
	}
}

// handle applies one action to the session behind messageID. Failures are
// logged and rendered; the loop keeps going.
func (e *Engine) handle(ctx context.Context, messageID string, action Action) {
	logger := zerolog.Ctx(ctx).With().Str("action", string(action.Kind)).Logger()

	h, err := e.sessions.Get(ctx, messageID)
	if err != nil {
		logger.Warn().Err(err).Msg("session lookup failed")
		return
	}

	switch action.Kind {
	case ActionPageBack:
		if err := h.PageBackward(); err != nil {
			e.renderError(ctx, logger, messageID, h, err)
			return
		}
		e.persist(ctx, h)
		e.render(ctx, logger, messageID, activeView(h, true))

	case ActionPageForward:
		needGeneration, err := h.PageForward()
		if err != nil {
			e.renderError(ctx, logger, messageID, h, err)
			return
		}
		if needGeneration {
			e.generateChoice(ctx, logger, messageID, h)
			return
		}
		e.persist(ctx, h)
		e.render(ctx, logger, messageID, activeView(h, true))

	case ActionRegenerate:
		if err := h.Regenerate(); err != nil {
			e.renderError(ctx, logger, messageID, h, err)
			return
		}
		e.generateChoice(ctx, logger, messageID, h)

	case ActionPin:
		if _, err := h.ActiveChoice(); err != nil {
			e.renderError(ctx, logger, messageID, h, err)
			return
		}
		if err := e.presenter.Pin(ctx, messageID, pinView(h)); err != nil {
			logger.Warn().Err(err).Msg("pin failed")
		}

	case ActionEdit:
		if action.Text == "" {
			e.render(ctx, logger, messageID, activeView(h, true))
			return
		}
		if err := h.EditChoice(h.CurrentPage, action.Text); err != nil {
			e.renderError(ctx, logger, messageID, h, err)
			return
		}
		e.persist(ctx, h)
		e.render(ctx, logger, messageID, editedView(h))

	default:
		e.renderError(ctx, logger, messageID, h, fmt.Errorf("unknown action %q", action.Kind))
	}
}

// generateChoice streams a new choice into messageID. h must be generating.
// The loop expiring mid-stream does not cut the generation short.
func (e *Engine) generateChoice(ctx context.Context, logger zerolog.Logger, messageID string, h *session.History) {
	ctx = context.WithoutCancel(ctx)
	page, _ := h.Pending()
	e.render(ctx, logger, messageID, pendingView(h, page, stream.Snapshot{}))

	snapshot, err := e.generate(ctx, h.Prompt, func(s stream.Snapshot) {
		e.render(ctx, logger, messageID, pendingView(h, page, s))
	})
	if err != nil {
		logger.Error().Err(err).Msg("generation could not be constructed")
		h.CancelGeneration()
		e.renderError(ctx, logger, messageID, h, err)
		return
	}

	if err := h.Commit(chat.AssistantTurn(h.Character.Name, snapshot.Content), snapshot.Elapsed); err != nil {
		e.renderError(ctx, logger, messageID, h, err)
		return
	}
	e.persist(ctx, h)
	e.render(ctx, logger, messageID, activeView(h, true))
}

func (e *Engine) render(ctx context.Context, logger zerolog.Logger, messageID string, v View) {
	if err := e.presenter.Edit(ctx, messageID, v); err != nil {
		logger.Warn().Err(err).Msg("render failed")
	}
}

func (e *Engine) renderError(ctx context.Context, logger zerolog.Logger, messageID string, h *session.History, err error) {
	logger.Warn().Err(err).Msg("action failed")
	e.render(ctx, logger, messageID, withNotice(activeView(h, true), err))
}

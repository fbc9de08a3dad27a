// Package conversation drives roleplay conversations: greeting, replies,
// and the per-message interaction loops that page, edit, pin and regenerate
// choices.
package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-tavern/roleplay/internal/metrics"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/character"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
	"github.com/zhouzirui/z-tavern/roleplay/internal/model/session"
	"github.com/zhouzirui/z-tavern/roleplay/internal/service/stream"
)

// DefaultTimeout bounds how long a rendered message accepts actions.
const DefaultTimeout = 24 * time.Hour

// ErrNoActiveLoop is returned when an action targets a message nobody listens on.
var ErrNoActiveLoop = errors.New("no active interaction for message")

// Presenter renders views on the chat surface.
type Presenter interface {
	Send(ctx context.Context, replyTo string, v View) (string, error)
	Edit(ctx context.Context, messageID string, v View) error
	Pin(ctx context.Context, replyTo string, v View) error
}

// SessionStore is the subset of the session store the engine needs.
type SessionStore interface {
	Get(ctx context.Context, messageID string) (*session.History, error)
	Put(ctx context.Context, h *session.History) error
}

// Runner streams one generation.
type Runner interface {
	Run(ctx context.Context, turns []chat.Turn, onPartial func(stream.Snapshot)) (stream.Snapshot, error)
}

// Reply is a user turn answering a rendered message.
type Reply struct {
	RepliedTo string
	Turn      chat.Turn
}

// Options wires the engine's collaborators.
type Options struct {
	Sessions   SessionStore
	Characters character.Store
	Runner     Runner
	Presenter  Presenter
	Metrics    *metrics.Metrics
	Timeout    time.Duration
	Now        func() time.Time
}

// Engine owns the interaction loops of every live message.
type Engine struct {
	sessions   SessionStore
	characters character.Store
	runner     Runner
	presenter  Presenter
	metrics    *metrics.Metrics
	timeout    time.Duration
	now        func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	loops map[string]*loop
}

func New(opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		sessions:   opts.Sessions,
		characters: opts.Characters,
		runner:     opts.Runner,
		presenter:  opts.Presenter,
		metrics:    opts.Metrics,
		timeout:    opts.Timeout,
		now:        opts.Now,
		base:       base,
		cancel:     cancel,
		loops:      make(map[string]*loop),
	}
}

// Close stops every interaction loop and waits for them to exit. Sessions
// stay in the store.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Active reports whether messageID currently has a loop.
func (e *Engine) Active(messageID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.loops[messageID]
	return ok
}

// Greet resolves query to a character, renders its greeting in reply to
// replyTo and starts a conversation on the new message.
func (e *Engine) Greet(ctx context.Context, query, replyTo string) (*session.History, error) {
	c, ok := e.characters.Resolve(query)
	if !ok {
		return nil, errors.Wrapf(character.ErrNotFound, "resolve %q", query)
	}

	probe := session.FromCharacter(c, "")
	messageID, err := e.presenter.Send(ctx, replyTo, activeView(probe, true))
	if err != nil {
		return nil, errors.Wrap(err, "send greeting")
	}

	h := session.FromCharacter(c, messageID)
	e.persist(ctx, h)
	e.startLoop(messageID)

	log.Info().Str("character", c.Name).Str("message_id", messageID).Msg("conversation started")
	return h, nil
}

// HandleReply answers a reply to a rendered message with a freshly generated
// message. The replied-to session is left untouched; the new message starts
// its own branch. Cancelling ctx after the reply was accepted does not cut
// the generation short.
func (e *Engine) HandleReply(ctx context.Context, reply Reply) (*session.History, error) {
	h, err := e.sessions.Get(ctx, reply.RepliedTo)
	if err != nil {
		return nil, errors.Wrapf(err, "reply to %s", reply.RepliedTo)
	}
	if err := h.Ingest(reply.Turn); err != nil {
		return nil, err
	}
	// A started generation runs to the end of its stream even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	messageID, err := e.presenter.Send(ctx, reply.RepliedTo, placeholderView(h))
	if err != nil {
		return nil, errors.Wrap(err, "send placeholder")
	}
	logger := log.With().Str("session", reply.RepliedTo).Str("message_id", messageID).Logger()

	snapshot, err := e.generate(ctx, h.Prompt, func(s stream.Snapshot) {
		if err := e.presenter.Edit(ctx, messageID, streamingView(h, s)); err != nil {
			logger.Warn().Err(err).Msg("render partial")
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("generation could not be constructed")
		if rerr := e.presenter.Edit(ctx, messageID, withNotice(placeholderView(h), err)); rerr != nil {
			logger.Warn().Err(rerr).Msg("render error")
		}
		return nil, err
	}

	h.ResetForNewTurn()
	if err := h.Commit(chat.AssistantTurn(h.Character.Name, snapshot.Content), snapshot.Elapsed); err != nil {
		return nil, err
	}
	h.ID = messageID
	e.persist(ctx, h)

	if err := e.presenter.Edit(ctx, messageID, activeView(h, true)); err != nil {
		logger.Warn().Err(err).Msg("render reply")
	}
	e.startLoop(messageID)
	return h, nil
}

// AddExample appends the active choice of a session to the live character's
// example messages.
func (e *Engine) AddExample(ctx context.Context, messageID string) (character.Character, error) {
	h, err := e.sessions.Get(ctx, messageID)
	if err != nil {
		return character.Character{}, err
	}
	active, err := h.ActiveChoice()
	if err != nil {
		return character.Character{}, err
	}

	c, ok := e.characters.Get(h.Character.Name)
	if !ok {
		return character.Character{}, errors.Wrapf(character.ErrNotFound, "character %q", h.Character.Name)
	}
	c.AddExample(active)
	if err := e.characters.Put(ctx, c); err != nil {
		e.metrics.PersistFailed("characters")
		log.Warn().Err(err).Str("character", c.Name).Msg("failed to persist characters")
	}
	return c, nil
}

// Dispatch hands an action to the loop owning its target message.
func (e *Engine) Dispatch(ctx context.Context, action Action) error {
	e.mu.Lock()
	l, ok := e.loops[action.MessageID]
	e.mu.Unlock()
	if !ok {
		return ErrNoActiveLoop
	}

	select {
	case l.actions <- action:
		return nil
	case <-l.done:
		return ErrNoActiveLoop
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) generate(ctx context.Context, turns []chat.Turn, onPartial func(stream.Snapshot)) (stream.Snapshot, error) {
	start := e.now()
	snapshot, err := e.runner.Run(ctx, turns, onPartial)
	switch {
	case err != nil:
		e.metrics.ObserveGeneration(metrics.OutcomeInvalid, 0)
	case snapshot.Failed:
		e.metrics.ObserveGeneration(metrics.OutcomeFailed, e.now().Sub(start))
	default:
		e.metrics.ObserveGeneration(metrics.OutcomeOK, e.now().Sub(start))
	}
	return snapshot, err
}

func (e *Engine) persist(ctx context.Context, h *session.History) {
	if err := e.sessions.Put(ctx, h); err != nil {
		e.metrics.PersistFailed("chats")
		log.Warn().Err(err).Str("session", h.ID).Msg("failed to persist sessions")
	}
}

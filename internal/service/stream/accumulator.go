// Package stream turns a generator's fragment stream into throttled partial
// snapshots and one final, displayable snapshot.
package stream

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-tavern/roleplay/internal/model/chat"
)

// DefaultInterval is the minimum spacing between partial snapshots.
const DefaultInterval = time.Second

const failureFormat = "Någonting gick fel, skyll på OpenAI!: %v"

var (
	// ErrStreamEnded is an alternative benign end-of-stream signal to io.EOF.
	ErrStreamEnded = errors.New("stream ended")
	// ErrInvalidRequest marks a generation that could not be constructed.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// FragmentStream yields text fragments until io.EOF or ErrStreamEnded.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Generator starts a generation for the given prompt.
type Generator interface {
	Generate(ctx context.Context, turns []chat.Turn) (FragmentStream, error)
}

// Snapshot is the accumulated text at some point of a generation. Elapsed is
// seconds since the request started, truncated to one decimal.
type Snapshot struct {
	Content string
	Elapsed float64
	Final   bool
	Failed  bool
}

// Accumulator drives one generation at a time per call to Run.
type Accumulator struct {
	generator Generator
	interval  time.Duration
	now       func() time.Time
}

type Option func(*Accumulator)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(a *Accumulator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Accumulator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAccumulator(generator Generator, opts ...Option) *Accumulator {
	a := &Accumulator{
		generator: generator,
		interval:  DefaultInterval,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run streams a generation for turns. onPartial, if set, receives at most one
// snapshot per interval; the first one only after a full interval has passed.
// Transport failures are folded into the returned final snapshot; only a
// generation that could not be constructed is returned as an error.
func (a *Accumulator) Run(ctx context.Context, turns []chat.Turn, onPartial func(Snapshot)) (Snapshot, error) {
	start := a.now()

	fragments, err := a.generator.Generate(ctx, turns)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return Snapshot{}, err
		}
		return a.failure(start, err), nil
	}
	defer func() {
		if cerr := fragments.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("close fragment stream")
		}
	}()

	limiter := rate.NewLimiter(rate.Every(a.interval), 1)
	limiter.AllowN(start, 1)

	var buf strings.Builder
	for {
		if err := ctx.Err(); err != nil {
			return a.failure(start, err), nil
		}

		fragment, err := fragments.Recv()
		if errors.Is(err, io.EOF) || errors.Is(err, ErrStreamEnded) {
			break
		}
		if err != nil {
			return a.failure(start, err), nil
		}
		if fragment == "" {
			continue
		}

		buf.WriteString(fragment)
		now := a.now()
		if onPartial != nil && limiter.AllowN(now, 1) {
			onPartial(Snapshot{Content: buf.String(), Elapsed: Elapsed(start, now)})
		}
	}

	return Snapshot{
		Content: buf.String(),
		Elapsed: Elapsed(start, a.now()),
		Final:   true,
	}, nil
}

func (a *Accumulator) failure(start time.Time, err error) Snapshot {
	log.Warn().Err(err).Msg("generation failed")
	return Snapshot{
		Content: fmt.Sprintf(failureFormat, err),
		Elapsed: Elapsed(start, a.now()),
		Final:   true,
		Failed:  true,
	}
}

// Elapsed returns the seconds between start and end truncated to one decimal.
func Elapsed(start, end time.Time) float64 {
	tenths := end.Sub(start) / (100 * time.Millisecond)
	if tenths < 0 {
		return 0
	}
	return float64(tenths) / 10
}

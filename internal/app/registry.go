package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"word-guess-service/internal/domain"
	"word-guess-service/internal/judge"
)

const (
	gameIDMin = 100000
	gameIDMax = 999999

	defaultTick        = time.Second
	defaultSettleDelay = 5 * time.Second
)

// Options tune session timing. Tests compress both to keep runs fast.
type Options struct {
	Tick        time.Duration // timer re-check interval
	SettleDelay time.Duration // pause between finished and redirected
	Clock       func() time.Time
}

// Registry mints sessions with unique identifiers and is the only place new
// sessions are created, including auto-chained successors. Sessions are
// never removed, so clients holding a finished id can still observe the
// redirect.
type Registry struct {
	judge  judge.Judge
	themes ThemePool
	opts   Options

	mu    sync.RWMutex
	games map[int]*Session
	rnd   *rand.Rand
}

// NewRegistry builds an empty registry.
func NewRegistry(j judge.Judge, themes ThemePool, opts Options) *Registry {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		judge:  j,
		themes: themes,
		opts:   opts,
		games:  make(map[int]*Session),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Create validates the proposed answer with the judge, mints a fresh id and
// stores a new waiting session. An unusable theme fails the whole creation
// with no registry change.
func (r *Registry) Create(ctx context.Context, params domain.GameParams) (int, error) {
	verdict, err := r.judge.ValidateTheme(ctx, params.Answer)
	if err != nil {
		return 0, fmt.Errorf("validate theme: %w", err)
	}
	if !verdict.Usable {
		return 0, domain.ErrThemeRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.mintIDLocked()
	r.games[id] = newSession(id, verdict, params, r.judge, r.themes, r, r.opts.Clock, r.opts.Tick, r.opts.SettleDelay)
	return id, nil
}

// mintIDLocked samples the id range and retries on collision.
func (r *Registry) mintIDLocked() int {
	for {
		id := gameIDMin + r.rnd.Intn(gameIDMax-gameIDMin+1)
		if _, taken := r.games[id]; !taken {
			return id
		}
	}
}

// Get looks up a session by id.
func (r *Registry) Get(id int) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.games[id]
	return session, ok
}

// List returns the admin overview of every session.
func (r *Registry) List() map[int]Summary {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.games))
	ids := make([]int, 0, len(r.games))
	for id, session := range r.games {
		ids = append(ids, id)
		sessions = append(sessions, session)
	}
	r.mu.RUnlock()

	out := make(map[int]Summary, len(sessions))
	for i, session := range sessions {
		out[ids[i]] = session.summary()
	}
	return out
}

// PinNextAnswer pins the successor answer of a session and, if the session
// already finished, force-completes the visible redirect.
func (r *Registry) PinNextAnswer(id int, answer string) error {
	session, ok := r.Get(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.PinNextAnswer(answer)
	session.ForceRedirectIfFinished()
	return nil
}

// mintSuccessor implements the session's chain callback.
func (r *Registry) mintSuccessor(ctx context.Context, params domain.GameParams) (int, error) {
	return r.Create(ctx, params)
}

// internal/session/registry.go
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tabrelay/internal/browser"
	"github.com/xkilldash9x/tabrelay/internal/config"
	"github.com/xkilldash9x/tabrelay/internal/observability"
)

var (
	// ErrNotFound is returned for ids that were never issued or are closed.
	ErrNotFound = errors.New("session not found")
	// ErrCapacity is returned when limits.max_sessions sessions are open.
	ErrCapacity = errors.New("session capacity reached")
	// ErrShutdown is returned by Create once Shutdown has started.
	ErrShutdown = errors.New("session registry is shut down")
	// ErrThrottled is returned when the creation rate limit could not admit
	// the request before its context ended.
	ErrThrottled = errors.New("session creation throttled")
)

// Session binds an id to one live tab.
type Session struct {
	ID         string
	Tab        browser.Tab
	CreatedAt  time.Time
	InitialURL string
	Logger     *zap.Logger
}

// Info is the listing view of a session.
type Info struct {
	ID         string    `json:"session_id"`
	CreatedAt  time.Time `json:"created_at"`
	InitialURL string    `json:"initial_url"`
}

// Registry maps session ids to tabs. It is safe for concurrent use.
type Registry struct {
	logger *zap.Logger
	engine browser.Engine
	cfg    config.Interface

	limiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*Session
	// pending counts creations that hold a capacity slot but are not stored yet.
	pending int
	closed  bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewRegistry returns an empty registry drawing tabs from engine.
func NewRegistry(engine browser.Engine, cfg config.Interface, logger *zap.Logger) *Registry {
	limits := cfg.Limits()
	limiter := rate.NewLimiter(rate.Inf, 0)
	if limits.CreateRate > 0 {
		burst := limits.CreateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(limits.CreateRate), burst)
	}

	return &Registry{
		logger:   logger.Named("registry"),
		engine:   engine,
		cfg:      cfg,
		limiter:  limiter,
		sessions: make(map[string]*Session),
	}
}

// Create opens a tab, navigates it to url and registers it under a fresh id.
//
// Navigation failures are logged and the session is still returned, on
// whatever page the tab ended up, unless session.strict_navigation is set.
func (r *Registry) Create(ctx context.Context, url string) (string, *Session, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		observability.SessionsCreated.WithLabelValues("throttled").Inc()
		return "", nil, fmt.Errorf("%w: %v", ErrThrottled, err)
	}

	if err := r.reserve(); err != nil {
		observability.SessionsCreated.WithLabelValues("rejected").Inc()
		return "", nil, err
	}
	defer r.release()

	tab, err := r.engine.NewTab(ctx)
	if err != nil {
		observability.SessionsCreated.WithLabelValues("failed").Inc()
		if !errors.Is(err, browser.ErrEngine) {
			err = fmt.Errorf("%w: %v", browser.ErrEngine, err)
		}
		return "", nil, err
	}

	id := uuid.NewString()
	logger := r.logger.With(zap.String("session_id", id), zap.String("tab_id", tab.ID()))

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.Network().NavigationTimeout)
	navErr := tab.Navigate(navCtx, url)
	cancel()
	if navErr != nil {
		if r.cfg.Session().StrictNavigation {
			r.closeTab(ctx, tab, logger)
			observability.SessionsCreated.WithLabelValues("failed").Inc()
			return "", nil, fmt.Errorf("%w: %v", browser.ErrEngine, navErr)
		}
		logger.Warn("Initial navigation failed; keeping session.", zap.String("url", url), zap.Error(navErr))
	}

	s := &Session{
		ID:         id,
		Tab:        tab,
		CreatedAt:  time.Now().UTC(),
		InitialURL: url,
		Logger:     logger,
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.closeTab(ctx, tab, logger)
		return "", nil, ErrShutdown
	}
	r.sessions[id] = s
	r.mu.Unlock()

	observability.SessionsCreated.WithLabelValues("created").Inc()
	observability.ActiveSessions.Inc()
	logger.Info("Session created.", zap.String("url", url))
	return id, s, nil
}

func (r *Registry) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShutdown
	}
	if max := r.cfg.Limits().MaxSessions; max > 0 && len(r.sessions)+r.pending >= max {
		return ErrCapacity
	}
	r.pending++
	return nil
}

func (r *Registry) release() {
	r.mu.Lock()
	r.pending--
	r.mu.Unlock()
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Close removes the session and releases its tab. Unknown ids are a no-op and
// tab errors are only logged.
func (r *Registry) Close(ctx context.Context, id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.closeTab(ctx, s.Tab, s.Logger)
	observability.ActiveSessions.Dec()
	observability.SessionsClosed.Inc()
	s.Logger.Info("Session closed.", zap.Int("remaining", r.Len()))
}

func (r *Registry) closeTab(ctx context.Context, tab browser.Tab, logger *zap.Logger) {
	// The caller's request may already be gone; the tab still has to be released.
	if err := tab.Close(browser.Detach(ctx)); err != nil {
		logger.Warn("Failed to close tab.", zap.Error(err))
	}
}

// List returns all live sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{ID: s.ID, CreatedAt: s.CreatedAt, InitialURL: s.InitialURL})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown closes every session concurrently and then the engine. Only the
// first call does anything; later calls return its result.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.shutdownOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		sessions := make([]*Session, 0, len(r.sessions))
		for _, s := range r.sessions {
			sessions = append(sessions, s)
		}
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()

		r.logger.Info("Shutting down session registry.", zap.Int("sessions", len(sessions)))

		g, gctx := errgroup.WithContext(ctx)
		for _, s := range sessions {
			s := s
			g.Go(func() error {
				r.closeTab(gctx, s.Tab, s.Logger)
				observability.ActiveSessions.Dec()
				observability.SessionsClosed.Inc()
				return nil
			})
		}
		_ = g.Wait()

		if err := r.engine.Shutdown(ctx); err != nil {
			r.shutdownErr = fmt.Errorf("failed to shut down browser engine: %w", err)
			r.logger.Error("Browser engine shutdown failed.", zap.Error(err))
		}
	})
	return r.shutdownErr
}

// Package worker keeps the open conversation views of this process and runs
// their chat sends on a bounded, per-view fair worker pool.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"personachat/internal/chatlog"
	"personachat/internal/conversation"
	"personachat/internal/models"
)

var (
	// ErrViewNotFound is returned for unknown or expired view ids.
	ErrViewNotFound = errors.New("view not found")
	// ErrRegistryFull is returned when max_views views are already open.
	ErrRegistryFull = errors.New("too many open views")
)

const (
	defaultIdleTTL = 30 * time.Minute
	minSweepPeriod = time.Second
	maxSweepPeriod = time.Minute
)

// ManagerConfig controls view lifetime and per-view behaviour.
type ManagerConfig struct {
	IdleTTL           time.Duration
	MaxViews          int
	ScrollThreshold   float64
	OnInvalidIdentity func(characterID string)
}

// Manager is the registry of open views.
type Manager struct {
	dispatcher *Dispatcher
	cfg        ManagerConfig
	logger     *slog.Logger
	now        func() time.Time

	mu    sync.Mutex
	views map[string]*viewState

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewManager(dispatcher *Dispatcher, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultIdleTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		views:      make(map[string]*viewState),
		stopCh:     make(chan struct{}),
	}
	go m.runSweeper()
	return m
}

// Open creates a view for a freshly fetched profile and seeds its controller.
func (m *Manager) Open(profile *models.Profile) (*View, error) {
	if profile == nil {
		return nil, errors.New("profile required")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate view id: %w", err)
	}
	viewID := id.String()

	controller := conversation.New(profile.ID, m.dispatcher.ForView(viewID),
		conversation.WithLogger(m.logger.With("view", viewID)),
		conversation.WithLogOptions(chatlog.WithScrollPolicy(chatlog.ScrollPolicy{Threshold: m.scrollThreshold()})),
		conversation.WithInvalidIdentityHook(m.cfg.OnInvalidIdentity),
	)
	controller.Seed(profile)

	now := m.now()
	view := &View{
		ID:          viewID,
		CharacterID: profile.ID,
		Persona:     profile.Persona(),
		Controller:  controller,
		CreatedAt:   now,
	}

	m.mu.Lock()
	if m.cfg.MaxViews > 0 && len(m.views) >= m.cfg.MaxViews {
		m.mu.Unlock()
		return nil, ErrRegistryFull
	}
	m.views[viewID] = &viewState{view: view, lastUsed: now}
	m.mu.Unlock()

	m.logger.Info("view opened", "view", viewID, "character", profile.ID)
	return view, nil
}

// Get returns an open view and marks it as used.
func (m *Manager) Get(viewID string) (*View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.views[viewID]
	if !ok {
		return nil, ErrViewNotFound
	}
	state.touch(m.now())
	return state.view, nil
}

// Close discards a view. Closing an unknown view is a no-op.
func (m *Manager) Close(viewID string) {
	m.mu.Lock()
	_, ok := m.views[viewID]
	delete(m.views, viewID)
	m.mu.Unlock()
	if ok {
		m.dispatcher.CancelView(viewID)
		m.logger.Info("view closed", "view", viewID)
	}
}

// Len returns the number of open views.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.views)
}

// Stop ends the idle sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) scrollThreshold() float64 {
	if m.cfg.ScrollThreshold > 0 {
		return m.cfg.ScrollThreshold
	}
	return chatlog.DefaultThreshold
}

func (m *Manager) runSweeper() {
	period := m.cfg.IdleTTL / 4
	if period < minSweepPeriod {
		period = minSweepPeriod
	}
	if period > maxSweepPeriod {
		period = maxSweepPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// sweep discards views idle for longer than IdleTTL. Views with a send in
// flight are kept until it resolves.
func (m *Manager) sweep() int {
	now := m.now()
	var expired []string

	m.mu.Lock()
	for id, state := range m.views {
		if state.idle(now, m.cfg.IdleTTL) {
			expired = append(expired, id)
			delete(m.views, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.dispatcher.CancelView(id)
	}
	if len(expired) > 0 {
		m.logger.Info("idle views discarded", "count", len(expired))
	}
	return len(expired)
}

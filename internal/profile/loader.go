// Package profile resolves which character a page is for and loads its
// persona, turn counts and history from the chat API.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"personachat/internal/chatapi"
	"personachat/internal/models"
)

const (
	DefaultName        = "Unnamed"
	DefaultProfileText = "No profile yet"
)

// Fetcher loads a profile from the remote API.
type Fetcher interface {
	FetchProfile(ctx context.Context, characterID string) (*models.Profile, error)
}

type localEntry struct {
	persona *models.Profile
	expires time.Time
}

// Loader serves persona metadata from a two-level cache and always fetches
// turn counts and history fresh. Concurrent fetches for one character share a
// single request.
type Loader struct {
	fetcher Fetcher
	cache   *Cache
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	local map[string]localEntry
}

// NewLoader builds a loader. cache may be nil.
func NewLoader(fetcher Fetcher, cache *Cache, ttl time.Duration, logger *slog.Logger) *Loader {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher: fetcher,
		cache:   cache,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
		local:   make(map[string]localEntry),
	}
}

// Start subscribes to invalidations from other replicas until ctx ends.
func (l *Loader) Start(ctx context.Context) error {
	return l.cache.startListener(ctx, l.dropLocal)
}

// Persona returns display metadata for the profile screen.
func (l *Loader) Persona(ctx context.Context, characterID string) (*models.Profile, error) {
	if characterID == "" {
		return nil, ErrMissingIdentity
	}
	if p, ok := l.loadLocal(characterID); ok {
		return p, nil
	}
	if p, ok := l.cache.load(ctx, characterID); ok {
		applyDefaults(p)
		l.storeLocal(p)
		return p.Persona(), nil
	}
	p, err := l.fetch(ctx, characterID)
	if err != nil {
		return nil, err
	}
	return p.Persona(), nil
}

// Load fetches the full profile, bypassing every cache. The persona part of
// the result refreshes the caches.
func (l *Loader) Load(ctx context.Context, characterID string) (*models.Profile, error) {
	if characterID == "" {
		return nil, ErrMissingIdentity
	}
	return l.fetch(ctx, characterID)
}

// Invalidate drops a character from every cache level and tells other
// replicas to do the same.
func (l *Loader) Invalidate(ctx context.Context, characterID string) {
	l.dropLocal(characterID)
	l.cache.invalidate(ctx, characterID)
	l.cache.publishInvalidation(ctx, characterID)
}

func (l *Loader) fetch(ctx context.Context, characterID string) (*models.Profile, error) {
	v, err, shared := l.group.Do(characterID, func() (interface{}, error) {
		// callers share this fetch, so one caller leaving must not fail the rest
		p, err := l.fetcher.FetchProfile(context.WithoutCancel(ctx), characterID)
		if err != nil {
			return nil, err
		}
		p.ID = characterID
		applyDefaults(p)
		l.storeLocal(p)
		l.cache.store(context.WithoutCancel(ctx), p)
		return p, nil
	})
	if err != nil {
		if chatapi.KindOf(err) == chatapi.KindNotFound {
			l.dropLocal(characterID)
			l.cache.invalidate(ctx, characterID)
		}
		return nil, fmt.Errorf("load profile %s: %w", characterID, err)
	}
	if shared {
		l.logger.Debug("profile fetch shared", "character", characterID)
	}
	return v.(*models.Profile).Clone(), nil
}

func (l *Loader) loadLocal(characterID string) (*models.Profile, bool) {
	l.mu.RLock()
	entry, ok := l.local[characterID]
	l.mu.RUnlock()
	if !ok || l.now().After(entry.expires) {
		return nil, false
	}
	return entry.persona.Clone(), true
}

func (l *Loader) storeLocal(p *models.Profile) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.local[p.ID] = localEntry{persona: p.Persona(), expires: l.now().Add(l.ttl)}
}

func (l *Loader) dropLocal(characterID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.local, characterID)
}

func applyDefaults(p *models.Profile) {
	if strings.TrimSpace(p.Name) == "" {
		p.Name = DefaultName
	}
	if strings.TrimSpace(p.ProfileText) == "" {
		p.ProfileText = DefaultProfileText
	}
}

// Describe maps a profile error onto the HTTP status and the blocking message
// shown on the profile screen.
func Describe(err error) (int, string) {
	if errors.Is(err, ErrMissingIdentity) {
		return http.StatusBadRequest, "No character ID was given. Open this page from a character link."
	}
	switch chatapi.KindOf(err) {
	case chatapi.KindNotFound, chatapi.KindForbidden:
		return http.StatusNotFound, "This character could not be found or is not available."
	default:
		return http.StatusBadGateway, "The profile could not be loaded. Please try again later."
	}
}

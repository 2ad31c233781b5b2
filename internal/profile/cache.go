package profile

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"personachat/internal/models"
	"personachat/internal/redis"
)

const (
	personaKeyPrefix       = "profile:persona:"
	redisInvalidateChannel = "profile:invalidate"
	defaultCacheTTL        = 5 * time.Minute
)

type invalidateMessage struct {
	CharacterID string `json:"character_id"`
}

// Cache keeps persona metadata in redis and fans out invalidations to other
// replicas. A nil *Cache, or one without a client, is a no-op cache.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps client. A nil client yields a disabled cache.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

func (c *Cache) load(ctx context.Context, characterID string) (*models.Profile, bool) {
	if !c.enabled() || characterID == "" {
		return nil, false
	}
	raw, err := c.client.Get(ctx, personaKeyPrefix+characterID)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("profile cache load failed", "character", characterID, "error", err)
		}
		return nil, false
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		c.logger.Warn("profile cache decode failed", "character", characterID, "error", err)
		return nil, false
	}
	return &p, true
}

func (c *Cache) store(ctx context.Context, persona *models.Profile) {
	if !c.enabled() || persona == nil || persona.ID == "" {
		return
	}
	data, err := json.Marshal(persona.Persona())
	if err != nil {
		c.logger.Warn("profile cache marshal failed", "character", persona.ID, "error", err)
		return
	}
	if err := c.client.Set(ctx, personaKeyPrefix+persona.ID, data, c.ttl); err != nil {
		c.logger.Warn("profile cache store failed", "character", persona.ID, "error", err)
	}
}

func (c *Cache) invalidate(ctx context.Context, characterID string) {
	if !c.enabled() || characterID == "" {
		return
	}
	if err := c.client.Del(ctx, personaKeyPrefix+characterID); err != nil && !errors.Is(err, redis.ErrCacheMiss) {
		c.logger.Warn("profile cache invalidate failed", "character", characterID, "error", err)
	}
}

// publishInvalidation broadcasts an invalidation to every replica.
func (c *Cache) publishInvalidation(ctx context.Context, characterID string) {
	if !c.enabled() || characterID == "" {
		return
	}
	payload, err := json.Marshal(invalidateMessage{CharacterID: characterID})
	if err != nil {
		return
	}
	if err := c.client.Publish(ctx, redisInvalidateChannel, payload); err != nil {
		c.logger.Warn("profile publish invalidation failed", "character", characterID, "error", err)
	}
}

// startListener delivers invalidations published by any replica until ctx ends.
func (c *Cache) startListener(ctx context.Context, handler func(characterID string)) error {
	if !c.enabled() || handler == nil {
		return nil
	}
	sub, err := c.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		return err
	}
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					c.logger.Warn("profile invalidation decode failed", "error", err)
					continue
				}
				handler(inv.CharacterID)
			}
		}
	}()
	return nil
}

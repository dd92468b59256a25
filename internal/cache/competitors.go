package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/practicepulse/ranking-cli/internal/model"
	"github.com/practicepulse/ranking-cli/internal/store"
	"github.com/practicepulse/ranking-cli/pkg/places"
)

// Competitors caches discovered competitor lists per specialty/location
// market. Cache failures never propagate: a failed read is a miss, a failed
// write drops the entry. Discovery results must survive store outages.
type Competitors struct {
	store store.Store
	ttl   time.Duration
}

// New creates a competitor cache with the given TTL.
func New(s store.Store, ttl time.Duration) *Competitors {
	return &Competitors{store: s, ttl: ttl}
}

// Key builds the canonical cache key for a market. Specialty and location
// are lowercased with whitespace collapsed so "Austin,  TX" and "austin, tx"
// share an entry.
func Key(specialty, location string) string {
	return canonical(specialty) + ":" + canonical(location)
}

func canonical(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Get returns the cached competitor list for a market, or nil on a miss.
// Store errors are logged and treated as misses.
func (c *Competitors) Get(ctx context.Context, specialty, location string) []places.CompetitorIdentity {
	key := Key(specialty, location)
	entry, err := c.store.GetCompetitorCache(ctx, key)
	if err != nil {
		zap.L().Warn("competitor cache read failed, treating as miss",
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}
	if entry == nil {
		return nil
	}
	zap.L().Debug("competitor cache hit",
		zap.String("key", key),
		zap.Int("count", entry.Count),
	)
	return entry.Competitors
}

// Set stores a discovered competitor list. Store errors are logged and the
// entry is dropped.
func (c *Competitors) Set(ctx context.Context, specialty, location string, competitors []places.CompetitorIdentity) {
	now := time.Now().UTC()
	entry := &model.CompetitorCacheEntry{
		Key:         Key(specialty, location),
		Specialty:   canonical(specialty),
		Location:    canonical(location),
		Competitors: competitors,
		Count:       len(competitors),
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if err := c.store.SetCompetitorCache(ctx, entry); err != nil {
		zap.L().Warn("competitor cache write failed, entry dropped",
			zap.String("key", entry.Key),
			zap.Error(err),
		)
	}
}

// Invalidate removes one market's entry; it reports whether an entry
// existed.
func (c *Competitors) Invalidate(ctx context.Context, specialty, location string) (bool, error) {
	return c.store.DeleteCompetitorCache(ctx, Key(specialty, location))
}

// CleanupExpired removes every entry past its TTL and returns the count.
func (c *Competitors) CleanupExpired(ctx context.Context) (int, error) {
	return c.store.DeleteExpiredCompetitorCaches(ctx)
}

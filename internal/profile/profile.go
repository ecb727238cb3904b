// ABOUTME: Profile lookup for participant display names and avatars
// ABOUTME: HTTP, static and caching implementations of the Lookup interface

package profile

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/hostchat/internal/dedupe"
)

// ErrNotFound is returned when no profile exists for a user ID.
var ErrNotFound = errors.New("profile not found")

// PlaceholderName is shown for participants whose profile cannot be resolved.
const PlaceholderName = "Unknown user"

// Profile is the public part of a marketplace user.
type Profile struct {
	UserID      string
	DisplayName string
	AvatarURL   string
}

// Lookup resolves user IDs to profiles.
type Lookup interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// DisplayName resolves userID through lookup, falling back to PlaceholderName
// when the lookup fails or the profile has no name.
func DisplayName(ctx context.Context, lookup Lookup, userID string) string {
	if lookup == nil {
		return PlaceholderName
	}
	p, err := lookup.GetProfile(ctx, userID)
	if err != nil || p == nil || strings.TrimSpace(p.DisplayName) == "" {
		return PlaceholderName
	}
	return p.DisplayName
}

// StaticLookup serves profiles from a fixed map, keyed by user ID.
type StaticLookup map[string]*Profile

// GetProfile returns the profile for userID or ErrNotFound.
func (s StaticLookup) GetProfile(_ context.Context, userID string) (*Profile, error) {
	p, ok := s[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// CachingLookup memoizes successful lookups for a TTL. Failures are not cached.
type CachingLookup struct {
	next   Lookup
	cache  *dedupe.Cache[string, *Profile]
	logger *slog.Logger
}

// NewCachingLookup wraps next with a cache of at most maxSize profiles.
func NewCachingLookup(next Lookup, ttl time.Duration, maxSize int, logger *slog.Logger) *CachingLookup {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingLookup{
		next:   next,
		cache:  dedupe.New[string, *Profile](ttl, maxSize),
		logger: logger.With("component", "profile_cache"),
	}
}

// GetProfile returns a cached profile or asks the wrapped Lookup.
func (c *CachingLookup) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := c.cache.Get(userID); ok {
		out := *p
		return &out, nil
	}

	p, err := c.next.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	stored := *p
	c.cache.Put(userID, &stored)
	c.logger.Debug("profile cached", "user_id", userID)
	return p, nil
}

// Close stops the cache's cleanup goroutine.
func (c *CachingLookup) Close() {
	c.cache.Close()
}

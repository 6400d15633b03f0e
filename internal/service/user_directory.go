package service

import (
	"context"
	"time"

	"locker-service/internal/models"
	"locker-service/internal/util"

	"go.uber.org/zap"
)

// UserCache is the Redis side of the directory
type UserCache interface {
	GetCachedUser(ctx context.Context, userID string) (*models.User, error)
	CacheUser(ctx context.Context, user *models.User, ttl time.Duration) error
}

// UserSource is the authoritative users collection
type UserSource interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// UserDirectory resolves display name and email for a user, best-effort
type UserDirectory struct {
	cache  UserCache
	source UserSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewUserDirectory creates a directory reading through cache to source. cache may be nil.
func NewUserDirectory(cache UserCache, source UserSource, ttl time.Duration) *UserDirectory {
	return &UserDirectory{
		cache:  cache,
		source: source,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Lookup never fails the caller: any miss or error is reported as ok=false
func (d *UserDirectory) Lookup(ctx context.Context, userID string) (models.User, bool) {
	if userID == "" {
		return models.User{}, false
	}

	ctx, span := util.StartSpan(ctx, "UserDirectory.Lookup")
	defer span.End()

	if d.cache != nil {
		cached, err := d.cache.GetCachedUser(ctx, userID)
		if err != nil {
			d.logger.Warn("User cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if cached != nil {
			return *cached, true
		}
	}

	if d.source == nil {
		return models.User{}, false
	}

	user, err := d.source.GetUser(ctx, userID)
	if err != nil {
		d.logger.Warn("User lookup failed", zap.String("user_id", userID), zap.Error(err))
		return models.User{}, false
	}
	if user == nil {
		return models.User{}, false
	}

	if d.cache != nil {
		if err := d.cache.CacheUser(ctx, user, d.ttl); err != nil {
			d.logger.Warn("User cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return *user, true
}

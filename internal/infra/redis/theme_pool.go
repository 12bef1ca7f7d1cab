package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"word-guess-service/internal/domain"
	"word-guess-service/internal/infra/memory"
)

const themesKey = "game:themes"

// ThemePool keeps the theme list in a Redis set and picks with SRANDMEMBER,
// falling back to a loader when the set is empty or expired. Cache fills are
// deduped with singleflight.
type ThemePool struct {
	client *redis.Client
	loader memory.ThemeLoader
	ttl    time.Duration
	sf     singleflight.Group
}

func NewThemePool(client *redis.Client, loader memory.ThemeLoader, ttl time.Duration) *ThemePool {
	return &ThemePool{client: client, loader: loader, ttl: ttl}
}

func (p *ThemePool) Pick(ctx context.Context) (string, error) {
	theme, err := p.client.SRandMember(ctx, themesKey).Result()
	if err == nil && theme != "" {
		return theme, nil
	}
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("pick theme: %w", err)
	}

	_, err, _ = p.sf.Do(themesKey, func() (interface{}, error) {
		// Re-check in case another goroutine filled the set.
		if n, err := p.client.SCard(ctx, themesKey).Result(); err == nil && n > 0 {
			return nil, nil
		}

		themes, err := p.loader.LoadThemes(ctx)
		if err != nil {
			return nil, err
		}
		if len(themes) == 0 {
			return nil, domain.ErrNoThemes
		}

		members := make([]interface{}, len(themes))
		for i, t := range themes {
			members[i] = t
		}
		pipe := p.client.Pipeline()
		pipe.SAdd(ctx, themesKey, members...)
		if p.ttl > 0 {
			pipe.Expire(ctx, themesKey, p.ttl)
		}
		_, err = pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		return "", err
	}

	theme, err = p.client.SRandMember(ctx, themesKey).Result()
	if err != nil {
		return "", fmt.Errorf("pick theme: %w", err)
	}
	return theme, nil
}

package entomology

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vectorwatch/platform/pkg/common/models"
)

const cachePrefix = "metrics:"

func cacheKey(district string, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%s:%s", cachePrefix, district, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
}

// districtPattern matches every cached window of district. Glob
// metacharacters in the district name are escaped.
func districtPattern(district string) string {
	escaped := make([]byte, 0, len(district))
	for i := 0; i < len(district); i++ {
		switch c := district[i]; c {
		case '*', '?', '[', ']', '\\':
			escaped = append(escaped, '\\', c)
		default:
			escaped = append(escaped, c)
		}
	}
	return cachePrefix + string(escaped) + ":*"
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.MetricsResponse, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.MetricsResponse{}, false, nil
	}
	if err != nil {
		return models.MetricsResponse{}, false, err
	}
	var resp models.MetricsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.MetricsResponse{}, false, fmt.Errorf("decoding cached metrics: %w", err)
	}
	return resp, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value models.MetricsResponse) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

func (c *RedisCache) InvalidateDistrict(ctx context.Context, district string) error {
	iter := c.client.Scan(ctx, 0, districtPattern(district), 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

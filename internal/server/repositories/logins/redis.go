// Package logins implements the login-history window over Redis. A list per
// user plus LTRIM gives the bounded most-recent-N retention policy without
// any sweep job.
package logins

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mzakharov/filevault/internal/server/models"
)

// RedisRepository implements Repository over a Redis list per user.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository wraps an existing Redis client.
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{client: client}
}

func key(userID string) string {
	return fmt.Sprintf("logins:%s", userID)
}

func (r *RedisRepository) Append(ctx context.Context, rec *models.LoginRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal login record: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key(rec.UserID), data)
	pipe.LTrim(ctx, key(rec.UserID), 0, WindowSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) Recent(ctx context.Context, userID string) ([]*models.LoginRecord, error) {
	raw, err := r.client.LRange(ctx, key(userID), 0, WindowSize-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	result := make([]*models.LoginRecord, 0, len(raw))
	for _, item := range raw {
		rec := &models.LoginRecord{}
		if err := json.Unmarshal([]byte(item), rec); err != nil {
			return nil, fmt.Errorf("unmarshal login record: %w", err)
		}
		result = append(result, rec)
	}
	return result, nil
}

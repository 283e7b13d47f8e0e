package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("session not found")

type RedisSession struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisSession(redisClient *redis.Client, cfg *config.Config) *RedisSession {
	return &RedisSession{redis: redisClient, cfg: cfg}
}

func sessionKey(token string) string {
	return fmt.Sprintf("session:%s", token)
}

func (s *RedisSession) Set(ctx context.Context, token string, userID int64) error {
	return s.redis.Set(ctx, sessionKey(token), userID, s.cfg.SessionExpiration).Err()
}

func (s *RedisSession) Get(ctx context.Context, token string) (userID int64, err error) {
	res, err := s.redis.Get(ctx, sessionKey(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotFound
		}
		return 0, err
	}

	userID, err = strconv.ParseInt(res, 10, 64)
	if err != nil {
		return 0, errors.New("can't parse session value")
	}

	return userID, nil
}

func (s *RedisSession) Delete(ctx context.Context, token string) error {
	return s.redis.Del(ctx, sessionKey(token)).Err()
}

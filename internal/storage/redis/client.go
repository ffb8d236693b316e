package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// GetSessionUser возвращает владельца сессии. Пустая строка — сессии нет
// (истекла или отозвана auth-сервисом); это не ошибка.
func (c *Client) GetSessionUser(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) SetSessionUser(ctx context.Context, sessionID, userID string, ttl time.Duration) error {
	return c.cli.Set(ctx, sessionKeyPrefix+sessionID, userID, ttl).Err()
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, sessionKeyPrefix+sessionID).Err()
}

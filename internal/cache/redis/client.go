package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/newsprism/backend/pkg/logger"
)

const keyPrefix = "newsprism:"

// ErrLocked is returned by AcquireStageLock while another process holds the lock.
var ErrLocked = errors.New("stage lock is held by another run")

type Client struct {
	client *redis.Client
	logger *zap.Logger
}

func NewClient(host string, port int, password string, db int, log *zap.Logger) (*Client, error) {
	log = logger.OrNop(log).Named("redis")

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, logger: log}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func embeddingKey(textHash string) string { return keyPrefix + "embedding:" + textHash }
func counterKey(stage, outcome string) string {
	return keyPrefix + "runs:" + stage + ":" + outcome
}
func lockKey(stage string) string { return keyPrefix + "lock:" + stage }

func (c *Client) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, embeddingKey(textHash), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set embedding cache: %w", err)
	}

	c.logger.Debug("Embedding cached", zap.String("text_hash", textHash))
	return nil
}

func (c *Client) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embeddingKey(textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding cache: %w", err)
	}

	var embedding []float32
	err = json.Unmarshal(data, &embedding)
	if err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal embedding: %w", err)
	}

	c.logger.Debug("Embedding cache hit", zap.String("text_hash", textHash))
	return embedding, true, nil
}

// IncrementRunCounter counts finished stage runs by outcome across processes.
func (c *Client) IncrementRunCounter(ctx context.Context, stage, outcome string) error {
	return c.client.Incr(ctx, counterKey(stage, outcome)).Err()
}

func (c *Client) RunCounter(ctx context.Context, stage, outcome string) (int64, error) {
	val, err := c.client.Get(ctx, counterKey(stage, outcome)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// AcquireStageLock takes a cross-process lock for a stage. The returned
// release func only deletes the key if this holder still owns it.
func (c *Client) AcquireStageLock(ctx context.Context, stage, owner string, ttl time.Duration) (func(context.Context) error, error) {
	ok, err := c.client.SetNX(ctx, lockKey(stage), owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire stage lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, c.client, []string{lockKey(stage)}, owner).Err()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to release stage lock: %w", err)
		}
		return nil
	}
	return release, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

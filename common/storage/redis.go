package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	presence "github.com/Mayor78/mtbm-attendance-sub000"
	"github.com/Mayor78/mtbm-attendance-sub000/models"
)

// RedisQueueStore persists pending submissions in a single hash keyed by item
// id. Redis with AOF enabled survives process restarts, which is the
// durability the queue needs on an edge gateway.
type RedisQueueStore struct {
	client   *redis.Client
	queueKey string
}

func NewRedisQueueStore(client *redis.Client) *RedisQueueStore {
	env := os.Getenv(presence.Env_Env)
	return &RedisQueueStore{
		client:   client,
		queueKey: "presence-" + env + "-queue",
	}
}

func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// Fall back to a plain address
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: failed to connect: %w", err)
	}
	return client, nil
}

func (s *RedisQueueStore) Load(ctx context.Context) ([]*models.QueueItem, error) {
	entries, err := s.client.HGetAll(ctx, s.queueKey).Result()
	if err != nil {
		return nil, err
	}
	items := make([]*models.QueueItem, 0, len(entries))
	for _, entry := range entries {
		item := new(models.QueueItem)
		if err = json.Unmarshal([]byte(entry), item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	sortQueueItems(items)
	return items, nil
}

func (s *RedisQueueStore) Put(ctx context.Context, item *models.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.queueKey, item.Id.String(), data).Err()
}

func (s *RedisQueueStore) Remove(ctx context.Context, id uuid.UUID) error {
	return s.client.HDel(ctx, s.queueKey, id.String()).Err()
}

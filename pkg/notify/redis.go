package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher fans notifications out over Redis pub/sub, one channel per
// clinician
type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger *logger.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection
func NewRedisPublisher(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.WithComponent("notify").Infof("Publishing notifications to redis at %s", cfg.Addr())
	return NewRedisPublisherFromClient(client, cfg.ChannelPrefix, log), nil
}

// NewRedisPublisherFromClient wraps an existing client
func NewRedisPublisherFromClient(client *redis.Client, prefix string, log *logger.Logger) *RedisPublisher {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisPublisher{
		client: client,
		prefix: prefix,
		logger: log,
	}
}

// Channel returns the pub/sub channel for a clinician
func (p *RedisPublisher) Channel(clinicianID string) string {
	return fmt.Sprintf("%s:%s", p.prefix, clinicianID)
}

// Publish sends n to its clinician's channel as JSON
func (p *RedisPublisher) Publish(ctx context.Context, n *types.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	channel := p.Channel(n.ClinicianID)
	receivers, err := p.client.Publish(ctx, channel, data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.WithComponent("notify").WithFields(map[string]interface{}{
		"channel":         channel,
		"notification_id": n.ID,
		"receivers":       receivers,
	}).Debug("Published notification")
	return nil
}

// Ping checks the Redis connection
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

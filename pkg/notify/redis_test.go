package notify

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/medrex/scheduling-engine/pkg/config"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"github.com/medrex/scheduling-engine/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logger.Logger {
	return logger.NewWithOutput("debug", io.Discard)
}

func redisConfig(t *testing.T, mr *miniredis.Miniredis) config.RedisConfig {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	return config.RedisConfig{Host: mr.Host(), Port: port, PoolSize: 2, ChannelPrefix: "clinic"}
}

func TestRedisPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	publisher, err := NewRedisPublisher(ctx, redisConfig(t, mr), testLogger())
	require.NoError(t, err)
	defer publisher.Close()

	assert.Equal(t, "clinic:dr-a", publisher.Channel("dr-a"))

	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()

	sub := subscriber.Subscribe(ctx, publisher.Channel("dr-a"))
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	sent := &types.Notification{
		ID:          "n-1",
		ClinicianID: "dr-a",
		Title:       "New referral",
		Message:     "Pat One was referred to you",
		CreatedAt:   time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, publisher.Publish(ctx, sent))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "clinic:dr-a", msg.Channel)

		var received types.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &received))
		assert.Equal(t, sent.ID, received.ID)
		assert.Equal(t, sent.Title, received.Title)
		assert.True(t, sent.CreatedAt.Equal(received.CreatedAt))
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestRedisPublisher_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	publisher := NewRedisPublisherFromClient(client, "", testLogger())
	defer publisher.Close()

	assert.Equal(t, "notifications:dr-b", publisher.Channel("dr-b"))
	assert.NoError(t, publisher.Ping(context.Background()))

	// publishing with no subscribers still succeeds
	assert.NoError(t, publisher.Publish(context.Background(), &types.Notification{ID: "n-2", ClinicianID: "dr-b"}))
}

func TestRedisPublisher_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	publisher := NewRedisPublisherFromClient(client, "clinic", testLogger())
	defer publisher.Close()

	mr.Close()

	ctx := context.Background()
	assert.Error(t, publisher.Ping(ctx))
	assert.Error(t, publisher.Publish(ctx, &types.Notification{ID: "n-3", ClinicianID: "dr-a"}))

	_, err := NewRedisPublisher(ctx, cfg, testLogger())
	assert.Error(t, err)
}

package eventing

import (
	"context"
	"testing"
	"time"

	"github.com/agentuity/go-sessions/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHeaders(t *testing.T) {
	h := Headers{}
	h.Set("key", "value")
	assert.Equal(t, "value", h.Get("key"))
	assert.Equal(t, "", h.Get("nonexistent"))
	h.Set("key2", "value2")
	assert.ElementsMatch(t, []string{"key", "key2"}, h.Keys())
}

func TestCheckForWildcards(t *testing.T) {
	assert.NoError(t, checkForWildcards("notebook.sessions"))
	assert.ErrorContains(t, checkForWildcards("notebook.*"), "wildcards")
	assert.ErrorContains(t, checkForWildcards("notebook.[ab]"), "wildcards")
}

func TestNewPubRedisMessage(t *testing.T) {
	msg := newPubRedisMessage(context.Background(), []byte("data"), []PublishOption{
		WithHeader("session-type", "impala"),
		func(o *publishOptions) { o.Headers = append(o.Headers, []string{"single"}) },
	})
	assert.Equal(t, []byte("data"), msg.Data())
	assert.Equal(t, Headers{"session-type": "impala"}, msg.Headers())
}

func TestRedisPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client, err := NewRedisClient(ctx, logger.NewTestLogger(), newTestRedis(t))
	require.NoError(t, err)
	defer client.Close()

	received := make(chan Message, 1)
	sub, err := client.Subscribe(ctx, "notebook.sessions", func(ctx context.Context, msg Message) {
		received <- msg
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, "notebook.sessions", []byte("hello"), WithHeader("session-type", "hive")))

	select {
	case msg := <-received:
		assert.Equal(t, "notebook.sessions", msg.Subject())
		assert.Equal(t, []byte("hello"), msg.Data())
		assert.Equal(t, "hive", msg.Headers().Get("session-type"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisRejectsWildcards(t *testing.T) {
	client, err := NewRedisClient(context.Background(), logger.NewTestLogger(), newTestRedis(t))
	require.NoError(t, err)
	defer client.Close()

	assert.Error(t, client.Publish(context.Background(), "notebook.*", nil))
	_, err = client.Subscribe(context.Background(), "notebook.*", func(context.Context, Message) {})
	assert.Error(t, err)
}

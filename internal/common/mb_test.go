package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPostExchangePublishConsume(t *testing.T) {
	connURL := TestRabbitMQ(t)

	mb, err := NewMessageBroker(connURL)
	assert.NoError(t, err)
	defer mb.Close()

	err = SetupPostExchange(mb)
	assert.NoError(t, err)

	msgs, err := mb.Consume(PostCleanupKey, PostExchange, PostCleanupQueue)
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := []byte(`{"key":"my-first-post:1700000000000"}`)
	err = mb.Publish(ctx, payload, PostCleanupKey, PostExchange)
	assert.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, payload, msg.Body)
		assert.Equal(t, "application/json", msg.ContentType)
		assert.NoError(t, msg.Ack(false))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

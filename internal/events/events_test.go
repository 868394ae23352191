package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/smallbiznis/gigpay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func TestRouterDeliversPublishedJSON(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	log := zap.NewNop()
	logger := NewLoggerAdapter(log)

	pub, sub, err := NewPubSub(PubSubParams{Lifecycle: lc, Config: config.Config{}, Log: log, Logger: logger})
	require.NoError(t, err)
	router, err := NewRouter(lc, logger, log)
	require.NoError(t, err)

	received := make(chan map[string]string, 1)
	attempts := 0
	router.AddNoPublisherHandler("test.handler", "test.topic", sub, func(msg *message.Message) error {
		attempts++
		if attempts == 1 {
			return assert.AnError
		}
		var payload map[string]string
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return err
		}
		received <- payload
		return nil
	})

	lc.RequireStart()
	defer lc.RequireStop()
	<-router.Running()

	require.NoError(t, PublishJSON(context.Background(), pub, "test.topic", "", map[string]string{"booking_id": "42"}))

	select {
	case payload := <-received:
		assert.Equal(t, "42", payload["booking_id"])
		assert.Equal(t, 2, attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("message was not delivered")
	}
}

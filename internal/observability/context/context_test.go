package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	assert.Len(t, id, 26)

	again, same := EnsureCorrelationID(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, id, CorrelationIDFromContext(again))
}

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), " admin ", "ops-1")
	role, ref := ActorFromContext(ctx)
	assert.Equal(t, "admin", role)
	assert.Equal(t, "ops-1", ref)

	role, ref = ActorFromContext(context.Background())
	assert.Empty(t, role)
	assert.Empty(t, ref)
}

package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureContextKeepsExistingID(t *testing.T) {
	ctx := WithContext(context.Background(), "fixed")
	_, id := EnsureContext(ctx)
	assert.Equal(t, "fixed", id)
}

func TestEnsureContextGeneratesID(t *testing.T) {
	ctx, id := EnsureContext(context.Background())
	assert.Len(t, id, 32)
	assert.Equal(t, id, FromContext(ctx))
}

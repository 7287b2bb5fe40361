package http

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTraceIDs_RoundTripThroughContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetCorrelationID(ctx))
	assert.Empty(t, GetCausationID(ctx))

	ctx = WithCorrelationID(ctx, "cor-1")
	ctx = WithCausationID(ctx, "cau-2")
	assert.Equal(t, "cor-1", GetCorrelationID(ctx))
	assert.Equal(t, "cau-2", GetCausationID(ctx))
}

func TestGenerateTraceIDs_PrefixedAndUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		cor, cau := GenerateCorrelationID(), GenerateCausationID()
		assert.True(t, strings.HasPrefix(cor, "cor-"), cor)
		assert.True(t, strings.HasPrefix(cau, "cau-"), cau)
		for _, id := range []string{cor[4:], cau[4:]} {
			_, dup := seen[id]
			assert.False(t, dup, id)
			seen[id] = struct{}{}
		}
	}
}

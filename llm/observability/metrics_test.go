package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordWithNoopProviders(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	ctx, span := m.StartGeneration(context.Background(), "premium")
	defer span.End()

	assert.NotPanics(t, func() {
		m.RecordAttempt(ctx, AttemptAttrs{Tier: "premium", Model: "large", Attempt: 1, Duration: time.Millisecond, Err: errors.New("boom")})
		m.RecordFallback(ctx, "premium", "balanced")
		m.RecordAttempt(ctx, AttemptAttrs{Tier: "balanced", Model: "mid", Attempt: 1, TokensIn: 10, TokensOut: 5, Cost: 0.01, Duration: time.Millisecond})
	})
}

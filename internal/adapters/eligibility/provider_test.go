package eligibility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-hub/internal/infra/cache"
	"engagement-hub/internal/infra/config"
)

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func (brokenCounter) Count(context.Context, string) (int64, error) {
	return 0, errors.New("redis down")
}

func testPolicy(now time.Time) config.Policy {
	policy := config.DefaultPolicy()
	policy.Accounts = []config.Account{
		{ID: "active", DailyLimit: 2},
		{ID: "unlimited"},
		{ID: "suspended", Suspended: true},
		{ID: "warming", WarmupUntil: now.Add(time.Hour)},
		{ID: "warmed", WarmupUntil: now.Add(-time.Hour)},
	}
	return policy
}

func TestIsEligible(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := NewProvider(testPolicy(now), cache.NewMemory(), zerolog.Nop(), WithClock(func() time.Time { return now }))

	cases := map[string]bool{
		"active":    true,
		"unlimited": true,
		"suspended": false,
		"warming":   false,
		"warmed":    true,
		"missing":   false,
	}
	for id, want := range cases {
		got, err := p.IsEligible(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, want, got, id)
	}
}

func TestDailyLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	p := NewProvider(testPolicy(now), cache.NewMemory(), zerolog.Nop(), WithClock(func() time.Time { return now }))

	require.NoError(t, p.RecordPublish(ctx, "active"))
	ok, err := p.IsEligible(ctx, "active")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.RecordPublish(ctx, "active"))
	ok, err = p.IsEligible(ctx, "active")
	require.NoError(t, err)
	assert.False(t, ok, "лимит исчерпан")

	now = now.Add(2 * time.Hour)
	ok, err = p.IsEligible(ctx, "active")
	require.NoError(t, err)
	assert.True(t, ok, "новый день начинает счёт заново")
}

func TestCounterErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	p := NewProvider(testPolicy(now), brokenCounter{}, zerolog.Nop())

	_, err := p.IsEligible(ctx, "active")
	require.Error(t, err)

	ok, err := p.IsEligible(ctx, "unlimited")
	require.NoError(t, err, "без лимита счётчик не читается")
	assert.True(t, ok)

	require.Error(t, p.RecordPublish(ctx, "active"))
}

func TestCounterKey(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "publish:acct-1:2026-01-02", counterKey("acct-1", at))
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	raw := []byte(`
thresholds:
  publish_eligibility: 5
  recommend: 8
accounts:
  - id: acct1
    bot_token: "123:abc"
    daily_limit: 10
    warmup_until: 2026-01-01T00:00:00Z
  - id: acct2
    bot_token_env: ACCT2_TOKEN
    suspended: true
`)
	policy, err := ParsePolicy(raw)
	require.NoError(t, err)
	assert.Equal(t, 5.0, policy.Thresholds.PublishEligibility)
	assert.Equal(t, 8.0, policy.Thresholds.Recommend)
	assert.Equal(t, DefaultMaxContentLength, policy.MaxContentLength)
	require.Len(t, policy.Accounts, 2)

	acct, ok := policy.Account("acct1")
	require.True(t, ok)
	assert.Equal(t, "123:abc", acct.Token())
	assert.Equal(t, 10, acct.DailyLimit)
	assert.Equal(t, 2026, acct.WarmupUntil.Year())

	t.Setenv("ACCT2_TOKEN", "456:def")
	acct2, ok := policy.Account("acct2")
	require.True(t, ok)
	assert.True(t, acct2.Suspended)
	assert.Equal(t, "456:def", acct2.Token())

	_, ok = policy.Account("missing")
	assert.False(t, ok)
}

func TestParsePolicyRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"threshold out of range": "thresholds: {publish_eligibility: 11}",
		"missing account id":     "accounts: [{bot_token: x}]",
		"duplicate account":      "accounts: [{id: a}, {id: a}]",
		"negative limit":         "accounts: [{id: a, daily_limit: -1}]",
		"zero content length":    "max_content_length: 0",
		"broken yaml":            "thresholds: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestLoadPolicyMissingFileUsesDefaults(t *testing.T) {
	policy, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestLoadPolicyFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_content_length: 500\n"), 0o600))
	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 500, policy.MaxContentLength)
	assert.Equal(t, 6.0, policy.Thresholds.PublishEligibility)
}

package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierString(t *testing.T) {
	assert.Equal(t, "PUBLIC", TierPublic.String())
	assert.Equal(t, "REGISTERED", TierRegistered.String())
	assert.Equal(t, "PREMIUM", TierPremium.String())
}

func TestTierAtLeast(t *testing.T) {
	assert.True(t, TierPublic.AtLeast(TierPublic))
	assert.False(t, TierPublic.AtLeast(TierRegistered))
	assert.False(t, TierPublic.AtLeast(TierPremium))

	assert.True(t, TierRegistered.AtLeast(TierPublic))
	assert.True(t, TierRegistered.AtLeast(TierRegistered))
	assert.False(t, TierRegistered.AtLeast(TierPremium))

	assert.True(t, TierPremium.AtLeast(TierPublic))
	assert.True(t, TierPremium.AtLeast(TierRegistered))
	assert.True(t, TierPremium.AtLeast(TierPremium))
}

func TestParseTier(t *testing.T) {
	for input, want := range map[string]Tier{
		"PUBLIC":     TierPublic,
		"registered": TierRegistered,
		" Premium ":  TierPremium,
	} {
		got, err := ParseTier(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, err := ParseTier("gold")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestValidKeyFormat(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"lowercase hex", "kp_0123456789abcdef0123456789abcdef", true},
		{"uppercase hex", "kp_0123456789ABCDEF0123456789ABCDEF", true},
		{"mixed case hex", "kp_0123456789AbCdEf0123456789aBcDeF", true},
		{"31 hex digits", "kp_0123456789abcdef0123456789abcde", false},
		{"33 hex digits", "kp_0123456789abcdef0123456789abcdef0", false},
		{"non-hex characters", "kp_0123456789abcdef0123456789abcdeg", false},
		{"missing prefix", "0123456789abcdef0123456789abcdef", false},
		{"wrong prefix", "ak_0123456789abcdef0123456789abcdef", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidKeyFormat(tt.key))
		})
	}
}

func TestGenerateKey(t *testing.T) {
	first, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, ValidKeyFormat(first), "generated key %q is malformed", first)

	second, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestKeyRegistryAddRejectsMalformed(t *testing.T) {
	reg := NewKeyRegistry()
	err := reg.Add("kp_short", TierRegistered, time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestResolveAbsentKeyIsPublic(t *testing.T) {
	reg := NewKeyRegistry()
	tier, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, TierPublic, tier)
}

func TestResolveMalformedKey(t *testing.T) {
	reg := NewKeyRegistry()
	tier, err := reg.Resolve("kp_0123456789abcdef0123456789abcde")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, TierPublic, tier)
}

func TestResolveUnknownKey(t *testing.T) {
	reg := NewKeyRegistry()
	tier, err := reg.Resolve("kp_0123456789abcdef0123456789abcdef")
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, TierPublic, tier)
}

func TestResolveRegisteredKey(t *testing.T) {
	reg := NewKeyRegistry()
	key := "kp_0123456789abcdef0123456789abcdef"
	require.NoError(t, reg.Add(key, TierRegistered, time.Time{}))

	tier, err := reg.Resolve(key)
	require.NoError(t, err)
	assert.Equal(t, TierRegistered, tier)
}

func TestResolveUppercaseKey(t *testing.T) {
	reg := NewKeyRegistry()
	key := "kp_0123456789ABCDEF0123456789ABCDEF"
	require.NoError(t, reg.Add(key, TierPremium, time.Time{}))

	tier, err := reg.Resolve(key)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)
}

func TestResolveExpiredKey(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	reg := NewKeyRegistry()
	reg.now = func() time.Time { return now }

	expired := "kp_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	live := "kp_bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	require.NoError(t, reg.Add(expired, TierPremium, now.Add(-time.Minute)))
	require.NoError(t, reg.Add(live, TierPremium, now.Add(time.Minute)))

	tier, err := reg.Resolve(expired)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, TierPublic, tier)

	tier, err = reg.Resolve(live)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, tier)
}

package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsKey_GenerateAndParseRoundtrip(t *testing.T) {
	for _, kt := range []AnalyticsKeyType{AnalyticsKeyWrite, AnalyticsKeyReadWrite} {
		key, err := GenerateAnalyticsKey(kt)
		require.NoError(t, err)

		parsedType, ok := ParseAnalyticsKey(key)
		require.True(t, ok)
		assert.Equal(t, kt, parsedType)
	}
}

func TestAnalyticsKey_Prefixes(t *testing.T) {
	writeKey, err := GenerateAnalyticsKey(AnalyticsKeyWrite)
	require.NoError(t, err)
	assert.True(t, len(writeKey) > len(analyticsWritePrefix))
	assert.Contains(t, writeKey, analyticsWritePrefix)

	rwKey, err := GenerateAnalyticsKey(AnalyticsKeyReadWrite)
	require.NoError(t, err)
	assert.Contains(t, rwKey, analyticsRWPrefix)
}

func TestAnalyticsKey_CanQuery(t *testing.T) {
	assert.False(t, AnalyticsKeyWrite.CanQuery())
	assert.True(t, AnalyticsKeyReadWrite.CanQuery())
}

func TestParseAnalyticsKey_RejectsWrongLengthSuffix(t *testing.T) {
	_, ok := ParseAnalyticsKey(analyticsWritePrefix + "tooshort")
	assert.False(t, ok)
}

func TestParseAnalyticsKey_RejectsUnknownPrefix(t *testing.T) {
	_, ok := ParseAnalyticsKey("not_a_loom_key_at_all")
	assert.False(t, ok)
}

func TestParseAnalyticsKey_RejectsNonHexSuffix(t *testing.T) {
	_, ok := ParseAnalyticsKey(analyticsWritePrefix + "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	assert.False(t, ok)
}

func TestSdkKey_LiteralScenario(t *testing.T) {
	keyType, env, random, ok := ParseSdkKey("loom_sdk_server_my_test_env_1234567890abcdef1234567890abcdef")
	require.True(t, ok)
	assert.Equal(t, SdkKeyServerSide, keyType)
	assert.Equal(t, "my_test_env", env)
	assert.Equal(t, "1234567890abcdef1234567890abcdef", random)
}

func TestSdkKey_LiteralScenarioRejectsTooShort(t *testing.T) {
	_, _, _, ok := ParseSdkKey("loom_sdk_client_prod_abc123")
	assert.False(t, ok)
}

func TestSdkKey_GenerateAndParseRoundtrip(t *testing.T) {
	for _, kt := range []SdkKeyType{SdkKeyClientSide, SdkKeyServerSide} {
		key, err := GenerateSdkKey(kt, "prod")
		require.NoError(t, err)

		parsedType, env, random, ok := ParseSdkKey(key)
		require.True(t, ok)
		assert.Equal(t, kt, parsedType)
		assert.Equal(t, "prod", env)
		assert.Len(t, random, 32)
	}
}

func TestSdkKey_EnvironmentNameMayContainUnderscores(t *testing.T) {
	key, err := GenerateSdkKey(SdkKeyServerSide, "my_test_env")
	require.NoError(t, err)

	_, env, _, ok := ParseSdkKey(key)
	require.True(t, ok)
	assert.Equal(t, "my_test_env", env)
}

func TestSdkKey_RejectsMissingSeparator(t *testing.T) {
	_, _, _, ok := ParseSdkKey(sdkClientPrefix + "1234567890abcdef1234567890abcdef")
	assert.False(t, ok)
}

func TestSdkKey_RejectsEmptyEnvironment(t *testing.T) {
	_, _, _, ok := ParseSdkKey(sdkClientPrefix + "_1234567890abcdef1234567890abcdef")
	assert.False(t, ok)
}

func TestSdkKey_GeneratedKeysAreUnique(t *testing.T) {
	key1, err := GenerateSdkKey(SdkKeyServerSide, "env")
	require.NoError(t, err)
	key2, err := GenerateSdkKey(SdkKeyServerSide, "env")
	require.NoError(t, err)
	assert.NotEqual(t, key1, key2)
}

func TestHashVerifyKey(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)

	hash := HashKey("loom_analytics_write_abc123", salt)
	assert.True(t, VerifyKey("loom_analytics_write_abc123", salt, hash))
	assert.False(t, VerifyKey("wrong-key", salt, hash))
}

func TestKeyLifecycle_RevokeAndTouch(t *testing.T) {
	var lifecycle KeyLifecycle
	assert.False(t, lifecycle.IsRevoked())

	now := time.Now()
	lifecycle.Touch(now)
	require.NotNil(t, lifecycle.LastUsedAt)

	lifecycle.Revoke(now)
	assert.True(t, lifecycle.IsRevoked())

	later := now.Add(time.Hour)
	lifecycle.Revoke(later)
	assert.Equal(t, now, *lifecycle.RevokedAt, "revoke is idempotent, first timestamp sticks")
}

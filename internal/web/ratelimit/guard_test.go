package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// failingLimiter simulates a remote store that is unreachable
type failingLimiter struct {
	calls int
}

func (f *failingLimiter) Allow(ctx context.Context, key string, policy Policy) (*Result, error) {
	f.calls++
	return nil, errors.New("dial tcp: connection refused")
}

func testPolicies(t *testing.T, policy Policy) Policies {
	policies, err := NewPolicies(map[Category]Policy{CategoryAuthSignIn: policy})
	require.NoError(t, err)
	return policies
}

func TestGuard_Apply_NotConfiguredFailsOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: time.Minute, Max: 2}),
		Logger:   zap.New(core),
	})
	defer guard.Close()

	for i := 0; i < 10; i++ {
		d := guard.Apply(context.Background(), CategoryAuthSignIn, "10.0.0.1")
		assert.True(t, d.Allowed())
		assert.True(t, d.Degraded())
		assert.Equal(t, OutcomeDegraded, d.Outcome)
		assert.Equal(t, SourceNone, d.Source)
		assert.Equal(t, 2, d.Result.Remaining)
		assert.ErrorIs(t, d.Reason, ErrNotConfigured)
	}

	assert.False(t, guard.RemoteConfigured())
	assert.Equal(t, 10, logs.FilterMessage("rate limiter remote store not configured").Len())
}

func TestGuard_Apply_RemoteErrorFailsOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	remote := &failingLimiter{}
	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: time.Minute, Max: 1}),
		Remote:   remote,
		Logger:   zap.New(core),
	})
	defer guard.Close()

	for i := 0; i < 3; i++ {
		d := guard.Apply(context.Background(), CategoryAuthSignIn, "10.0.0.1")
		assert.True(t, d.Allowed())
		assert.Equal(t, OutcomeDegraded, d.Outcome)
		require.Error(t, d.Reason)
		assert.Contains(t, d.Reason.Error(), "connection refused")
	}

	// No retries inside the limiter
	assert.Equal(t, 3, remote.calls)

	entries := logs.FilterMessage("rate limit check failed").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestGuard_Apply_DegradedResetUsesClock(t *testing.T) {
	clock := newFakeClock()
	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: 15 * time.Minute, Max: 5}),
		Remote:   &failingLimiter{},
		Now:      clock.Now,
	})
	defer guard.Close()

	d := guard.Apply(context.Background(), CategoryAuthSignIn, "10.0.0.1")
	require.Equal(t, OutcomeDegraded, d.Outcome)
	assert.Equal(t, clock.Now().Add(15*time.Minute), d.Result.ResetAt)

	clock.Advance(time.Minute)
	d = guard.Apply(context.Background(), CategoryAuthSignIn, "10.0.0.1")
	assert.Equal(t, clock.Now().Add(15*time.Minute), d.Result.ResetAt)
}

func TestGuard_Apply_RemoteDecides(t *testing.T) {
	client, _ := setupTestRedis(t)
	clock := newFakeClock()
	core, logs := observer.New(zapcore.WarnLevel)

	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: time.Second, Max: 2}),
		Remote:   newTestRedisLimiter(t, client, clock),
		Prefix:   "rl",
		Logger:   zap.New(core),
	})
	defer guard.Close()
	ctx := context.Background()

	d := guard.Apply(ctx, CategoryAuthSignIn, "student@example.com")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, SourceRemote, d.Source)
	assert.Equal(t, "rl:auth-signin:student@example.com", d.Key)
	assert.Equal(t, 1, d.Result.Remaining)

	d = guard.Apply(ctx, CategoryAuthSignIn, "student@example.com")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, 0, d.Result.Remaining)

	d = guard.Apply(ctx, CategoryAuthSignIn, "student@example.com")
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.False(t, d.Allowed())
	assert.Greater(t, d.Result.RetryAfter, 0)

	denials := logs.FilterMessage("rate limit exceeded").All()
	require.Len(t, denials, 1)
	loggedKey := denials[0].ContextMap()["key"].(string)
	assert.NotContains(t, loggedKey, "student@example.com")
	assert.Contains(t, denials[0].ContextMap(), "reset_at")

	clock.Advance(time.Second)

	d = guard.Apply(ctx, CategoryAuthSignIn, "student@example.com")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, 1, d.Result.Remaining)
}

func TestGuard_Apply_Identifier(t *testing.T) {
	client, _ := setupTestRedis(t)
	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: time.Minute, Max: 1}),
		Remote:   newTestRedisLimiter(t, client, newFakeClock()),
	})
	defer guard.Close()
	ctx := context.Background()

	d := guard.Apply(ctx, CategoryAuthSignIn, "ip:1.2.3.4", "course-42")
	assert.Equal(t, "auth-signin:ip:1.2.3.4:course-42", d.Key)
	assert.True(t, d.Allowed())

	d = guard.Apply(ctx, CategoryAuthSignIn, "ip:1.2.3.4", "course-43")
	assert.True(t, d.Allowed(), "identifiers partition the quota")

	d = guard.Apply(ctx, CategoryAuthSignIn, "ip:1.2.3.4", "course-42")
	assert.False(t, d.Allowed())
}

func TestGuard_Apply_Whitelist(t *testing.T) {
	remote := &failingLimiter{}
	whitelist := NewWhitelist("ip:127.0.0.1")
	guard := NewGuard(GuardConfig{
		Remote:    remote,
		Whitelist: whitelist,
	})
	defer guard.Close()

	d := guard.Apply(context.Background(), CategoryAPIGeneral, "ip:127.0.0.1")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, SourceWhitelist, d.Source)
	assert.Equal(t, 0, remote.calls)

	whitelist.Add("api-general:ip:10.0.0.9")
	d = guard.Apply(context.Background(), CategoryAPIGeneral, "ip:10.0.0.9")
	assert.Equal(t, SourceWhitelist, d.Source)

	whitelist.Remove("ip:127.0.0.1")
	d = guard.Apply(context.Background(), CategoryAPIGeneral, "ip:127.0.0.1")
	assert.Equal(t, OutcomeDegraded, d.Outcome)
	assert.Equal(t, 1, remote.calls)
}

func TestGuard_Apply_MemoryFallback(t *testing.T) {
	clock := newFakeClock()
	local := newTestMemoryLimiter(clock)
	defer local.Close()

	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: time.Second, Max: 2}),
		Local:    local,
		Fallback: FallbackMemory,
	})
	defer guard.Close()
	ctx := context.Background()

	d := guard.Apply(ctx, CategoryAuthSignIn, "k1")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, SourceMemory, d.Source)
	assert.ErrorIs(t, d.Reason, ErrNotConfigured)

	guard.Apply(ctx, CategoryAuthSignIn, "k1")

	d = guard.Apply(ctx, CategoryAuthSignIn, "k1")
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, 1, d.Result.RetryAfter)

	clock.Advance(time.Second)

	d = guard.Apply(ctx, CategoryAuthSignIn, "k1")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, 1, d.Result.Remaining)
}

func TestGuard_Apply_UnknownCategory(t *testing.T) {
	guard := NewGuard(GuardConfig{Remote: &failingLimiter{}})
	defer guard.Close()

	d := guard.Apply(context.Background(), Category(99), "key")
	assert.True(t, d.Allowed())
	assert.ErrorIs(t, d.Reason, ErrUnknownCategory)
}

func TestGuard_CheckLocal(t *testing.T) {
	clock := newFakeClock()
	local := newTestMemoryLimiter(clock)
	defer local.Close()

	remote := &failingLimiter{}
	guard := NewGuard(GuardConfig{
		Policies: testPolicies(t, Policy{Window: time.Minute, Max: 1}),
		Remote:   remote,
		Local:    local,
	})
	defer guard.Close()

	d := guard.CheckLocal(CategoryAuthSignIn, "key")
	assert.Equal(t, OutcomeAllowed, d.Outcome)
	assert.Equal(t, SourceMemory, d.Source)

	d = guard.CheckLocal(CategoryAuthSignIn, "key")
	assert.Equal(t, OutcomeDenied, d.Outcome)
	assert.Equal(t, 0, remote.calls)
}

func TestGuard_Defaults(t *testing.T) {
	guard := NewGuard(GuardConfig{})
	defer guard.Close()

	policy, ok := guard.Policies().Lookup(CategoryAPIGeneral)
	require.True(t, ok)
	assert.Equal(t, 100, policy.Max)
	assert.NotNil(t, guard.Whitelist())
}

func TestGuardContext(t *testing.T) {
	guard := NewGuard(GuardConfig{})
	defer guard.Close()

	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := NewContext(context.Background(), guard)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, guard, got)
}

func TestParseFallbackMode(t *testing.T) {
	mode, err := ParseFallbackMode("")
	require.NoError(t, err)
	assert.Equal(t, FallbackOpen, mode)

	mode, err = ParseFallbackMode("memory")
	require.NoError(t, err)
	assert.Equal(t, FallbackMemory, mode)

	_, err = ParseFallbackMode("closed")
	assert.Error(t, err)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "allowed", OutcomeAllowed.String())
	assert.Equal(t, "denied", OutcomeDenied.String())
	assert.Equal(t, "degraded", OutcomeDegraded.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

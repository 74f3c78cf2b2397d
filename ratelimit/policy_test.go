package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

func TestAdaptivePolicy_BeforeCallAllowsWhenNoState(t *testing.T) {
	policy := NewAdaptivePolicy(NewMemoryStateStore())

	err := policy.BeforeCall(context.Background(), Key{Source: core.SourceOura, MemberID: "member-1", Bucket: "sleep"})
	if err != nil {
		t.Fatalf("expected no error when no state exists, got %v", err)
	}
}

func TestAdaptivePolicy_AfterCallParsesHeadersAndPersistsState(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := Key{Source: core.SourceOura, MemberID: "member-1", Bucket: "sleep"}
	resetAt := now.Add(45 * time.Second)
	err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: 200,
		Headers: map[string]string{
			"X-RateLimit-Limit":     "5000",
			"X-RateLimit-Remaining": "4999",
			"X-RateLimit-Reset":     "1700000045",
		},
	})
	if err != nil {
		t.Fatalf("after call: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 5000 {
		t.Fatalf("expected limit 5000, got %d", state.Limit)
	}
	if state.Remaining != 4999 {
		t.Fatalf("expected remaining 4999, got %d", state.Remaining)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(resetAt) {
		t.Fatalf("expected reset at %s, got %+v", resetAt, state.ResetAt)
	}
}

func TestAdaptivePolicy_BlocksWhenThrottleWindowIsActive(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := Key{Source: core.SourceGarmin, MemberID: "member-1", Bucket: "activity"}
	until := now.Add(20 * time.Second)
	if err := store.Upsert(context.Background(), State{Key: key, ThrottledUntil: &until, Remaining: 0}); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	err := policy.BeforeCall(context.Background(), key)
	if err == nil {
		t.Fatalf("expected throttle error")
	}
	var throttledErr ThrottledError
	if !errors.As(err, &throttledErr) {
		t.Fatalf("expected ThrottledError, got %T", err)
	}
	if throttledErr.RetryAfter <= 0 {
		t.Fatalf("expected retry_after > 0")
	}
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("expected throttle to classify as a rate limit")
	}
}

func TestAdaptivePolicy_AfterCall429UsesRetryAfterAndAttempts(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := Key{Source: core.SourceOura, MemberID: "member-1", Bucket: "readiness"}
	if err := policy.AfterCall(context.Background(), key, ResponseMeta{
		StatusCode: 429,
		Headers: map[string]string{
			"Retry-After": "10",
		},
	}); err != nil {
		t.Fatalf("after call throttled: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", state.Attempts)
	}
	if state.ThrottledUntil == nil {
		t.Fatalf("expected throttled_until")
	}
	if got := state.ThrottledUntil.Sub(now); got != 10*time.Second {
		t.Fatalf("expected throttled window of 10s, got %s", got)
	}
	if state.RetryAfter == nil || *state.RetryAfter != 10*time.Second {
		t.Fatalf("expected retry_after 10s")
	}
}

func TestAdaptivePolicy_AdaptiveBackoffWithoutRetryAfter(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	policy.InitialBackoff = 2 * time.Second
	policy.MaxBackoff = 30 * time.Second
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := Key{Source: core.SourceOura, MemberID: "member-1", Bucket: "sleep"}
	if err := policy.AfterCall(context.Background(), key, ResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("first throttled call: %v", err)
	}

	now = now.Add(3 * time.Second)
	if err := policy.AfterCall(context.Background(), key, ResponseMeta{StatusCode: 429}); err != nil {
		t.Fatalf("second throttled call: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", state.Attempts)
	}
	if state.ThrottledUntil == nil {
		t.Fatalf("expected throttled_until")
	}
	if got := state.ThrottledUntil.Sub(now); got != 4*time.Second {
		t.Fatalf("expected adaptive delay of 4s, got %s", got)
	}
}

func TestAdaptivePolicy_ResetsAttemptsOnSuccessfulCall(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	key := Key{Source: core.SourceGarmin, MemberID: "member-1", Bucket: "sleep"}
	if err := store.Upsert(context.Background(), State{
		Key:      key,
		Attempts: 3,
		ThrottledUntil: func() *time.Time {
			value := now.Add(10 * time.Second)
			return &value
		}(),
	}); err != nil {
		t.Fatalf("seed throttled state: %v", err)
	}

	now = now.Add(12 * time.Second)
	if err := policy.AfterCall(context.Background(), key, ResponseMeta{StatusCode: 200}); err != nil {
		t.Fatalf("after successful call: %v", err)
	}

	state, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Attempts != 0 {
		t.Fatalf("expected attempts reset to zero, got %d", state.Attempts)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected throttle window cleared")
	}
}

func TestAdaptivePolicy_FetchGuardObservesSentinelErrors(t *testing.T) {
	store := NewMemoryStateStore()
	policy := NewAdaptivePolicy(store)
	now := time.Unix(1_700_000_000, 0).UTC()
	policy.Now = func() time.Time { return now }

	ctx := context.Background()
	if err := policy.BeforeFetch(ctx, core.SourceOura, "member-1", core.CategorySleep); err != nil {
		t.Fatalf("first fetch should be allowed: %v", err)
	}
	policy.AfterFetch(ctx, core.SourceOura, "member-1", core.CategorySleep,
		fmt.Errorf("%w: sleep throttled", core.ErrRateLimited))

	err := policy.BeforeFetch(ctx, core.SourceOura, "member-1", core.CategorySleep)
	if err == nil {
		t.Fatalf("expected throttle window after rate-limited fetch")
	}

	// Other categories keep their own buckets.
	if err := policy.BeforeFetch(ctx, core.SourceOura, "member-1", core.CategoryActivity); err != nil {
		t.Fatalf("activity bucket should be unaffected: %v", err)
	}

	// The blocked fetch must not extend the window.
	policy.AfterFetch(ctx, core.SourceOura, "member-1", core.CategorySleep, err)
	state, getErr := store.Get(ctx, Key{Source: core.SourceOura, MemberID: "member-1", Bucket: "sleep"})
	if getErr != nil {
		t.Fatalf("get state: %v", getErr)
	}
	if state.Attempts != 1 {
		t.Fatalf("expected attempts unchanged by blocked fetch, got %d", state.Attempts)
	}
}

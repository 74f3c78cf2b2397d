// Package ratelimit spaces out provider API calls per member. Garmin and
// Oura both throttle aggressively once a backfill window overlaps another
// client; the adaptive policy remembers throttle responses per (source,
// member, category) bucket and refuses fetches until the window clears.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/rebatewell/go-wearables/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies one throttle bucket. Bucket is the data category for sync
// fetches; other callers may use their own bucket names.
type Key struct {
	Source   core.Source
	MemberID string
	Bucket   string
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

// ResponseMeta is the throttle-relevant slice of one provider response.
// RetryAfter, when set, wins over the Retry-After header.
type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

type ThrottledError struct {
	Source     core.Source
	MemberID   string
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: %s bucket %q throttled for %s",
		e.Source,
		strings.TrimSpace(e.Bucket),
		e.RetryAfter,
	)
}

// Unwrap lets callers classify the throttle like any provider rate limit.
func (e ThrottledError) Unwrap() error {
	return core.ErrRateLimited
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"source": string(e.Source),
		"bucket": strings.TrimSpace(e.Bucket),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ServiceErrorRateLimited).
		WithMetadata(metadata)
}

type AdaptivePolicy struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

func (p *AdaptivePolicy) BeforeCall(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return nil
	}
	state, err := p.Store.Get(ctx, normalizeKey(key))
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := p.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Source: state.Key.Source, MemberID: state.Key.MemberID, Bucket: state.Key.Bucket, RetryAfter: until.Sub(now)}
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return ThrottledError{Source: state.Key.Source, MemberID: state.Key.MemberID, Bucket: state.Key.Bucket, RetryAfter: state.ResetAt.Sub(now)}
	}
	return nil
}

func (p *AdaptivePolicy) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	if p == nil || p.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	now := p.now()
	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	seen := observeHeaders(&state, res, now)

	if throttles(res.StatusCode, state.Remaining, seen) {
		state.Attempts++
		delay := p.nextBackoff(state.Attempts)
		if state.RetryAfter != nil {
			delay = *state.RetryAfter
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	return p.Store.Upsert(ctx, state)
}

// headerSignals records which throttle headers a response carried so a
// "remaining: 0" verdict only fires when the provider actually said so.
type headerSignals struct {
	limit      bool
	remaining  bool
	resetAt    bool
	retryAfter bool
}

func observeHeaders(state *State, res ResponseMeta, now time.Time) headerSignals {
	var seen headerSignals
	if limit, ok := parseHeaderInt(res.Headers, "x-ratelimit-limit"); ok {
		state.Limit = limit
		seen.limit = true
	}
	if remaining, ok := parseHeaderInt(res.Headers, "x-ratelimit-remaining"); ok {
		state.Remaining = remaining
		seen.remaining = true
	}
	if resetAt, ok := parseHeaderResetAt(res.Headers); ok {
		state.ResetAt = &resetAt
		seen.resetAt = true
	}
	state.RetryAfter = nil
	if retryAfter, ok := parseRetryAfter(res, now); ok {
		state.RetryAfter = &retryAfter
		seen.retryAfter = true
	}
	return seen
}

// BeforeFetch and AfterFetch adapt the policy to the sync aggregator's
// guard hooks. The typed provider clients collapse responses into sentinel
// errors before the aggregator sees them, so the observation is derived
// from the error class rather than raw headers.
func (p *AdaptivePolicy) BeforeFetch(ctx context.Context, source core.Source, memberID string, category core.Category) error {
	return p.BeforeCall(ctx, Key{Source: source, MemberID: memberID, Bucket: string(category)})
}

func (p *AdaptivePolicy) AfterFetch(ctx context.Context, source core.Source, memberID string, category core.Category, fetchErr error) {
	if p == nil || p.Store == nil {
		return
	}
	var throttled ThrottledError
	if errors.As(fetchErr, &throttled) {
		// The fetch never happened; the existing throttle window stands.
		return
	}
	_ = p.AfterCall(ctx, Key{Source: source, MemberID: memberID, Bucket: string(category)}, observedMeta(fetchErr))
}

func observedMeta(err error) ResponseMeta {
	switch {
	case err == nil:
		return ResponseMeta{StatusCode: http.StatusOK}
	case errors.Is(err, core.ErrRateLimited):
		return ResponseMeta{StatusCode: http.StatusTooManyRequests}
	case errors.Is(err, core.ErrProviderUnavailable):
		return ResponseMeta{StatusCode: http.StatusServiceUnavailable}
	case errors.Is(err, core.ErrAuthExpired):
		return ResponseMeta{StatusCode: http.StatusUnauthorized}
	default:
		return ResponseMeta{StatusCode: http.StatusInternalServerError}
	}
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *AdaptivePolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if attempt <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay <= 0 {
		return p.defaultRetryHint()
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func (p *AdaptivePolicy) defaultRetryHint() time.Duration {
	if p != nil && p.DefaultRetryHint > 0 {
		return p.DefaultRetryHint
	}
	return 5 * time.Second
}

// throttles decides whether the response opens a throttle window. Server
// errors are availability problems, not quota, so they never throttle.
func throttles(statusCode int, remaining int, seen headerSignals) bool {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return true
	case statusCode >= 500:
		return false
	default:
		return remaining == 0 && (seen.remaining || seen.resetAt || seen.limit || seen.retryAfter)
	}
}

func parseRetryAfter(res ResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := headerValue(res.Headers, "retry-after")
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := httpDate(raw); err == nil {
		if retryAt.After(now) {
			return retryAt.Sub(now), true
		}
	}
	return 0, false
}

func parseHeaderInt(headers map[string]string, key string) (int, bool) {
	value := headerValue(headers, key)
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers map[string]string) (time.Time, bool) {
	value := headerValue(headers, "x-ratelimit-reset")
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func httpDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("ratelimit: empty date")
	}
	if parsed, err := time.Parse(time.RFC1123, value); err == nil {
		return parsed.UTC(), nil
	}
	if parsed, err := time.Parse(time.RFC1123Z, value); err == nil {
		return parsed.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("ratelimit: invalid http date")
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func normalizeKey(key Key) Key {
	return Key{
		Source:   core.Source(strings.TrimSpace(strings.ToLower(string(key.Source)))),
		MemberID: strings.TrimSpace(key.MemberID),
		Bucket:   strings.TrimSpace(strings.ToLower(key.Bucket)),
	}
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	normalized := normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalized)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key Key) string {
	return string(key.Source) + "|" + key.MemberID + "|" + key.Bucket
}

package sync

import (
	"context"
	"fmt"
	syncpkg "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

type fakeService struct {
	integration core.Integration
	credential  core.ActiveCredential
	resolveErr  error

	markedError  string
	markedSynced bool
	auditEntries []core.SyncAuditEntry
}

func (s *fakeService) ResolveCredential(_ context.Context, _ core.MemberRef, _ core.Source) (core.Integration, core.ActiveCredential, error) {
	if s.resolveErr != nil {
		return core.Integration{}, core.ActiveCredential{}, s.resolveErr
	}
	return s.integration, s.credential, nil
}

func (s *fakeService) MarkIntegrationError(_ context.Context, _ string, reason string) error {
	s.markedError = reason
	return nil
}

func (s *fakeService) MarkIntegrationSynced(_ context.Context, _ string, _ time.Time) error {
	s.markedSynced = true
	return nil
}

func (s *fakeService) RecordSyncAudit(_ context.Context, entry core.SyncAuditEntry) (core.SyncAuditEntry, error) {
	s.auditEntries = append(s.auditEntries, entry)
	return entry, nil
}

type fakeDataClient struct {
	sleep     []core.SleepRecord
	activity  []core.ActivityRecord
	readiness []core.ReadinessRecord

	sleepErr     error
	activityErr  error
	readinessErr error

	calls int64
}

func (c *fakeDataClient) FetchSleep(_ context.Context, _ core.ActiveCredential, _, _ string) ([]core.SleepRecord, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.sleep, c.sleepErr
}

func (c *fakeDataClient) FetchActivity(_ context.Context, _ core.ActiveCredential, _, _ string) ([]core.ActivityRecord, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.activity, c.activityErr
}

func (c *fakeDataClient) FetchReadiness(_ context.Context, _ core.ActiveCredential, _, _ string) ([]core.ReadinessRecord, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.readiness, c.readinessErr
}

func intPtr(v int) *int {
	return &v
}

func activeService() *fakeService {
	return &fakeService{
		integration: core.Integration{
			ID:       "integration_1",
			MemberID: "member_1",
			Source:   core.SourceOura,
			Status:   core.IntegrationStatusActive,
		},
		credential: core.ActiveCredential{
			TokenType:   core.TokenTypeBearer,
			AccessToken: "token_1",
		},
	}
}

func newTestAggregator(t *testing.T, service IntegrationService, client DataClient) *Aggregator {
	t.Helper()
	aggregator, err := NewAggregator(service, Config{
		WindowDays: 7,
		Now: func() time.Time {
			return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
		},
	}, WithClient(core.SourceOura, client))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return aggregator
}

func TestSyncRecent_AllCategoriesSucceed(t *testing.T) {
	service := activeService()
	client := &fakeDataClient{
		sleep: []core.SleepRecord{
			{Day: "2026-08-26", Score: intPtr(80)},
			{Day: "2026-08-27", Score: intPtr(90)},
		},
		activity: []core.ActivityRecord{
			{Day: "2026-08-26", Steps: 100, ActiveCalories: 300},
			{Day: "2026-08-27", Steps: 200, ActiveCalories: 400},
			{Day: "2026-08-28", Steps: 300, ActiveCalories: 500},
		},
		readiness: []core.ReadinessRecord{
			{Day: "2026-08-26", Score: intPtr(70)},
		},
	}
	aggregator := newTestAggregator(t, service, client)

	result, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.SourceOura)
	if err != nil {
		t.Fatalf("sync recent: %v", err)
	}
	if !result.Connected {
		t.Fatalf("expected connected result")
	}
	if result.RangeStart != "2026-08-21" || result.RangeEnd != "2026-08-28" {
		t.Fatalf("range = [%s, %s]", result.RangeStart, result.RangeEnd)
	}
	if len(result.Unavailable) != 0 {
		t.Fatalf("expected no unavailable categories, got %+v", result.Unavailable)
	}

	if result.Summary.AvgSleepScore == nil || *result.Summary.AvgSleepScore != 85 {
		t.Fatalf("avg sleep score = %v, want 85", result.Summary.AvgSleepScore)
	}
	if result.Summary.TotalSteps != 600 {
		t.Fatalf("total steps = %d, want 600", result.Summary.TotalSteps)
	}
	if result.Summary.AvgSteps != 200 {
		t.Fatalf("avg steps = %d, want 200", result.Summary.AvgSteps)
	}
	if result.Summary.TotalActiveCalories != 1200 {
		t.Fatalf("total active calories = %d, want 1200", result.Summary.TotalActiveCalories)
	}
	if result.Summary.AvgReadinessScore == nil || *result.Summary.AvgReadinessScore != 70 {
		t.Fatalf("avg readiness score = %v, want 70", result.Summary.AvgReadinessScore)
	}

	if !service.markedSynced {
		t.Fatalf("expected integration marked synced")
	}
	if len(service.auditEntries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(service.auditEntries))
	}
	if len(service.auditEntries[0].Categories) != 3 {
		t.Fatalf("audit categories = %+v", service.auditEntries[0].Categories)
	}
}

func TestSyncRecent_NotConnectedShortCircuits(t *testing.T) {
	service := &fakeService{
		resolveErr: fmt.Errorf("%w: oura for member member_1", core.ErrNotConnected),
	}
	client := &fakeDataClient{}
	aggregator := newTestAggregator(t, service, client)

	result, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.SourceOura)
	if err != nil {
		t.Fatalf("sync recent: %v", err)
	}
	if result.Connected {
		t.Fatalf("expected connected false")
	}
	if atomic.LoadInt64(&client.calls) != 0 {
		t.Fatalf("no fetch may run without an active integration, got %d calls", client.calls)
	}
	if len(service.auditEntries) != 0 {
		t.Fatalf("short circuit must not write an audit entry")
	}
}

func TestSyncRecent_SingleCategoryFailureIsIsolated(t *testing.T) {
	service := activeService()
	client := &fakeDataClient{
		sleep: []core.SleepRecord{
			{Day: "2026-08-26", Score: intPtr(80)},
		},
		activityErr: fmt.Errorf("%w: daily_activity returned 503", core.ErrProviderUnavailable),
		readiness: []core.ReadinessRecord{
			{Day: "2026-08-26", Score: intPtr(75)},
		},
	}
	aggregator := newTestAggregator(t, service, client)

	result, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.SourceOura)
	if err != nil {
		t.Fatalf("sync recent: %v", err)
	}

	if len(result.Sleep) != 1 || len(result.Readiness) != 1 {
		t.Fatalf("surviving categories lost: sleep=%d readiness=%d", len(result.Sleep), len(result.Readiness))
	}
	if result.Activity != nil {
		t.Fatalf("failed category must be absent, not empty: %+v", result.Activity)
	}
	reason, unavailable := result.Unavailable[core.CategoryActivity]
	if !unavailable || reason != "provider_unavailable" {
		t.Fatalf("unavailable = %+v", result.Unavailable)
	}

	// Zero-fill policy for the absent activity category.
	if result.Summary.TotalSteps != 0 || result.Summary.AvgSteps != 0 {
		t.Fatalf("activity aggregates must zero-fill: %+v", result.Summary)
	}
	if result.Summary.AvgSleepScore == nil {
		t.Fatalf("surviving sleep average lost")
	}

	if !service.markedSynced {
		t.Fatalf("partial success still counts as a sync")
	}
	if service.markedError != "" {
		t.Fatalf("non-auth failure must not mark the integration errored")
	}
}

func TestSyncRecent_AuthExpiredMarksIntegrationError(t *testing.T) {
	service := activeService()
	client := &fakeDataClient{
		sleepErr:     fmt.Errorf("%w: daily_sleep returned 401", core.ErrAuthExpired),
		activityErr:  fmt.Errorf("%w: daily_activity returned 401", core.ErrAuthExpired),
		readinessErr: fmt.Errorf("%w: daily_readiness returned 401", core.ErrAuthExpired),
	}
	aggregator := newTestAggregator(t, service, client)

	result, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.SourceOura)
	if err != nil {
		t.Fatalf("sync recent: %v", err)
	}
	if len(result.Unavailable) != 3 {
		t.Fatalf("expected all categories unavailable, got %+v", result.Unavailable)
	}
	for category, reason := range result.Unavailable {
		if reason != "auth_expired" {
			t.Fatalf("category %s reason = %q", category, reason)
		}
	}
	if service.markedError == "" {
		t.Fatalf("expected integration marked errored")
	}
	if service.markedSynced {
		t.Fatalf("all-failed sync must not mark synced")
	}
}

func TestSyncRecent_EmptyCategoriesAreNotFailures(t *testing.T) {
	service := activeService()
	client := &fakeDataClient{
		sleep:     []core.SleepRecord{},
		activity:  []core.ActivityRecord{},
		readiness: []core.ReadinessRecord{},
	}
	aggregator := newTestAggregator(t, service, client)

	result, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.SourceOura)
	if err != nil {
		t.Fatalf("sync recent: %v", err)
	}
	if len(result.Unavailable) != 0 {
		t.Fatalf("empty range is not a failure: %+v", result.Unavailable)
	}
	if result.Summary.AvgSleepScore != nil {
		t.Fatalf("avg sleep score must be nil on empty records, got %d", *result.Summary.AvgSleepScore)
	}
	if result.Summary.AvgReadinessScore != nil {
		t.Fatalf("avg readiness score must be nil on empty records")
	}
	if result.Summary.TotalSteps != 0 || result.Summary.AvgSteps != 0 || result.Summary.TotalActiveCalories != 0 {
		t.Fatalf("activity aggregates must be zero: %+v", result.Summary)
	}
}

func TestComputeSummary_MissingScoreCountsAsZero(t *testing.T) {
	summary := computeSummary(Result{
		Sleep: []core.SleepRecord{
			{Day: "2026-08-26", Score: intPtr(80)},
			{Day: "2026-08-27", Score: nil},
		},
	})
	// 80 + 0 over two records.
	if summary.AvgSleepScore == nil || *summary.AvgSleepScore != 40 {
		t.Fatalf("avg sleep score = %v, want 40", summary.AvgSleepScore)
	}
}

func TestComputeSummary_RoundsToNearest(t *testing.T) {
	summary := computeSummary(Result{
		Sleep: []core.SleepRecord{
			{Day: "2026-08-26", Score: intPtr(80)},
			{Day: "2026-08-27", Score: intPtr(91)},
		},
	})
	if summary.AvgSleepScore == nil || *summary.AvgSleepScore != 86 {
		t.Fatalf("avg sleep score = %v, want 86", summary.AvgSleepScore)
	}
}

func TestSyncRecent_RejectsBadInput(t *testing.T) {
	aggregator := newTestAggregator(t, activeService(), &fakeDataClient{})

	if _, err := aggregator.SyncRecent(context.Background(), core.MemberRef{}, core.SourceOura); err == nil {
		t.Fatalf("expected error for missing member id")
	}
	if _, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.Source("fitbit")); err == nil {
		t.Fatalf("expected error for unknown source")
	}
}

type fakeFetchGuard struct {
	mu       syncpkg.Mutex
	blocked  map[core.Category]error
	observed map[core.Category]error
}

func (g *fakeFetchGuard) BeforeFetch(_ context.Context, _ core.Source, _ string, category core.Category) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.blocked[category]; ok {
		return err
	}
	return nil
}

func (g *fakeFetchGuard) AfterFetch(_ context.Context, _ core.Source, _ string, category core.Category, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.observed == nil {
		g.observed = map[core.Category]error{}
	}
	g.observed[category] = err
}

func TestSyncRecent_GuardVetoMarksCategoryUnavailable(t *testing.T) {
	service := activeService()
	client := &fakeDataClient{
		sleep:    []core.SleepRecord{{Day: "2026-08-27", Score: intPtr(88)}},
		activity: []core.ActivityRecord{{Day: "2026-08-27", Steps: 4000}},
	}
	guard := &fakeFetchGuard{
		blocked: map[core.Category]error{
			core.CategoryReadiness: fmt.Errorf("%w: readiness bucket throttled", core.ErrRateLimited),
		},
	}

	aggregator, err := NewAggregator(service, Config{
		WindowDays: 7,
		Now: func() time.Time {
			return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
		},
	}, WithClient(core.SourceOura, client), WithFetchGuard(guard))
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}

	result, err := aggregator.SyncRecent(context.Background(), core.MemberRef{ID: "member_1"}, core.SourceOura)
	if err != nil {
		t.Fatalf("sync recent: %v", err)
	}
	if result.Unavailable[core.CategoryReadiness] != "rate_limited" {
		t.Fatalf("expected vetoed category marked rate_limited, got %+v", result.Unavailable)
	}
	if atomic.LoadInt64(&client.calls) != 2 {
		t.Fatalf("expected vetoed fetch to be skipped, got %d calls", client.calls)
	}
	if len(result.Sleep) != 1 || len(result.Activity) != 1 {
		t.Fatalf("expected permitted categories to proceed")
	}

	guard.mu.Lock()
	defer guard.mu.Unlock()
	if _, ok := guard.observed[core.CategoryReadiness]; ok {
		t.Fatalf("expected no observation for vetoed fetch")
	}
	if err := guard.observed[core.CategorySleep]; err != nil {
		t.Fatalf("expected success observation for sleep, got %v", err)
	}
}

package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/rebatewell/go-wearables/core"
)

type stubIntegrationBase struct {
	mu          sync.Mutex
	integration core.Integration
	found       bool
	findCalls   int
}

func (s *stubIntegrationBase) FindByMemberAndSource(_ context.Context, _ string, _ core.Source) (core.Integration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	return s.integration, s.found, nil
}

func (s *stubIntegrationBase) ListByMember(_ context.Context, _ string) ([]core.Integration, error) {
	return nil, nil
}

func (s *stubIntegrationBase) ListActiveBySource(_ context.Context, _ core.Source) ([]core.Integration, error) {
	return nil, nil
}

func (s *stubIntegrationBase) Upsert(_ context.Context, in core.UpsertIntegrationInput) (core.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integration = core.Integration{
		ID:       "integration_1",
		MemberID: in.Member.ID,
		Source:   in.Source,
		Status:   in.Status,
	}
	s.found = true
	return s.integration, nil
}

func (s *stubIntegrationBase) MarkStatus(_ context.Context, _ string, status core.IntegrationStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integration.Status = status
	s.integration.LastError = reason
	return nil
}

func (s *stubIntegrationBase) MarkSynced(_ context.Context, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	syncedAt := at
	s.integration.LastSyncAt = &syncedAt
	return nil
}

func newTestIntegrationCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedIntegrationStore_Find_MissFetchThenHit(t *testing.T) {
	base := &stubIntegrationBase{
		integration: core.Integration{
			ID:       "integration_1",
			MemberID: "member_1",
			Source:   core.SourceGarmin,
			Status:   core.IntegrationStatusActive,
		},
		found: true,
	}
	store, err := NewCachedIntegrationStore(base, newTestIntegrationCacheService(t))
	if err != nil {
		t.Fatalf("new cached integration store: %v", err)
	}

	if _, _, err := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceGarmin); err != nil {
		t.Fatalf("first find: %v", err)
	}
	if base.findCalls != 1 {
		t.Fatalf("expected first find to hit base store once, got %d", base.findCalls)
	}

	integration, found, err := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceGarmin)
	if err != nil {
		t.Fatalf("second find: %v", err)
	}
	if base.findCalls != 1 {
		t.Fatalf("expected second find to be a cache hit, base calls=%d", base.findCalls)
	}
	if !found || integration.ID != "integration_1" {
		t.Fatalf("cached integration = %+v found=%v", integration, found)
	}
}

func TestCachedIntegrationStore_NotFoundIsCachedToo(t *testing.T) {
	base := &stubIntegrationBase{}
	store, err := NewCachedIntegrationStore(base, newTestIntegrationCacheService(t))
	if err != nil {
		t.Fatalf("new cached integration store: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, found, findErr := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceOura)
		if findErr != nil {
			t.Fatalf("find %d: %v", i, findErr)
		}
		if found {
			t.Fatalf("find %d: expected not found", i)
		}
	}
	if base.findCalls != 1 {
		t.Fatalf("expected miss to be cached, base calls=%d", base.findCalls)
	}
}

func TestCachedIntegrationStore_UpsertInvalidates(t *testing.T) {
	base := &stubIntegrationBase{}
	store, err := NewCachedIntegrationStore(base, newTestIntegrationCacheService(t))
	if err != nil {
		t.Fatalf("new cached integration store: %v", err)
	}

	if _, found, _ := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceGarmin); found {
		t.Fatalf("expected empty store")
	}

	if _, err := store.Upsert(context.Background(), core.UpsertIntegrationInput{
		Member: core.MemberRef{ID: "member_1"},
		Source: core.SourceGarmin,
		Status: core.IntegrationStatusActive,
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	integration, found, err := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceGarmin)
	if err != nil {
		t.Fatalf("find after upsert: %v", err)
	}
	if !found || integration.Status != core.IntegrationStatusActive {
		t.Fatalf("expected fresh read after upsert, got %+v found=%v", integration, found)
	}
	if base.findCalls != 2 {
		t.Fatalf("expected upsert to invalidate the cached pair, base calls=%d", base.findCalls)
	}
}

func TestCachedIntegrationStore_MarkStatusInvalidatesByID(t *testing.T) {
	base := &stubIntegrationBase{}
	store, err := NewCachedIntegrationStore(base, newTestIntegrationCacheService(t))
	if err != nil {
		t.Fatalf("new cached integration store: %v", err)
	}

	integration, err := store.Upsert(context.Background(), core.UpsertIntegrationInput{
		Member: core.MemberRef{ID: "member_1"},
		Source: core.SourceGarmin,
		Status: core.IntegrationStatusActive,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, _, err := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceGarmin); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	if err := store.MarkStatus(context.Background(), integration.ID, core.IntegrationStatusRevoked, "member disconnect"); err != nil {
		t.Fatalf("mark status: %v", err)
	}

	refreshed, _, err := store.FindByMemberAndSource(context.Background(), "member_1", core.SourceGarmin)
	if err != nil {
		t.Fatalf("find after revoke: %v", err)
	}
	if refreshed.Status != core.IntegrationStatusRevoked {
		t.Fatalf("expected status write to invalidate the cache, got %s", refreshed.Status)
	}
}

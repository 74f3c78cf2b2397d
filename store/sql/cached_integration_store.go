package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/rebatewell/go-wearables/core"
)

const integrationCacheKeyPrefix = "go-wearables::integration::v1"

type cachedIntegration struct {
	Integration core.Integration
	Found       bool
}

// CachedIntegrationStore front-loads FindByMemberAndSource with a read-through
// cache. Writes go to the base store and invalidate the cached pair; id-keyed
// writes resolve their pair through keys, populated on every read and upsert.
type CachedIntegrationStore struct {
	base  core.IntegrationStore
	cache repositorycache.CacheService

	// integration id -> cache key, for invalidation on id-keyed writes.
	keys sync.Map
}

func NewCachedIntegrationStore(base core.IntegrationStore, cacheService repositorycache.CacheService) (*CachedIntegrationStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base integration store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: integration cache service is required")
	}
	return &CachedIntegrationStore{base: base, cache: cacheService}, nil
}

// IntegrationCacheKey returns the deterministic cache key contract for
// integration reads: go-wearables::integration::v1::<member_id>::<source>
// with each segment URL-path escaped.
func IntegrationCacheKey(memberID string, source core.Source) (string, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return "", fmt.Errorf("sqlstore: member id is required")
	}
	parsed, err := core.ParseSource(string(source))
	if err != nil {
		return "", err
	}
	segments := []string{
		url.PathEscape(memberID),
		url.PathEscape(string(parsed)),
	}
	return strings.Join(append([]string{integrationCacheKeyPrefix}, segments...), "::"), nil
}

func (s *CachedIntegrationStore) FindByMemberAndSource(ctx context.Context, memberID string, source core.Source) (core.Integration, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Integration{}, false, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	cacheKey, err := IntegrationCacheKey(memberID, source)
	if err != nil {
		return core.Integration{}, false, err
	}

	cached, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (cachedIntegration, error) {
		integration, found, fetchErr := s.base.FindByMemberAndSource(ctx, memberID, source)
		if fetchErr != nil {
			return cachedIntegration{}, fetchErr
		}
		return cachedIntegration{Integration: integration, Found: found}, nil
	})
	if err != nil {
		return core.Integration{}, false, err
	}
	if cached.Found && cached.Integration.ID != "" {
		s.keys.Store(cached.Integration.ID, cacheKey)
	}
	return cached.Integration, cached.Found, nil
}

func (s *CachedIntegrationStore) ListByMember(ctx context.Context, memberID string) ([]core.Integration, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	return s.base.ListByMember(ctx, memberID)
}

func (s *CachedIntegrationStore) ListActiveBySource(ctx context.Context, source core.Source) ([]core.Integration, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	return s.base.ListActiveBySource(ctx, source)
}

func (s *CachedIntegrationStore) Upsert(ctx context.Context, in core.UpsertIntegrationInput) (core.Integration, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	integration, err := s.base.Upsert(ctx, in)
	if err != nil {
		return core.Integration{}, err
	}

	cacheKey, keyErr := IntegrationCacheKey(in.Member.ID, in.Source)
	if keyErr != nil {
		return integration, nil
	}
	if integration.ID != "" {
		s.keys.Store(integration.ID, cacheKey)
	}
	if err := s.cache.Delete(ctx, cacheKey); err != nil {
		return core.Integration{}, err
	}
	return integration, nil
}

func (s *CachedIntegrationStore) MarkStatus(ctx context.Context, id string, status core.IntegrationStatus, reason string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	if err := s.base.MarkStatus(ctx, id, status, reason); err != nil {
		return err
	}
	return s.invalidateByID(ctx, id)
}

func (s *CachedIntegrationStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached integration store is not configured")
	}
	if err := s.base.MarkSynced(ctx, id, at); err != nil {
		return err
	}
	return s.invalidateByID(ctx, id)
}

func (s *CachedIntegrationStore) invalidateByID(ctx context.Context, id string) error {
	value, ok := s.keys.Load(strings.TrimSpace(id))
	if !ok {
		return nil
	}
	cacheKey, ok := value.(string)
	if !ok || cacheKey == "" {
		return nil
	}
	return s.cache.Delete(ctx, cacheKey)
}

var _ core.IntegrationStore = (*CachedIntegrationStore)(nil)

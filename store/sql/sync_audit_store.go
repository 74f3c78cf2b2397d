package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/rebatewell/go-wearables/core"
)

const defaultAuditListLimit = 50

// SyncAuditStore is append-only; entries record what a sync run produced and
// are never updated.
type SyncAuditStore struct {
	repo repository.Repository[*syncAuditRecord]
}

func NewSyncAuditStore(db *bun.DB) (*SyncAuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*syncAuditRecord](db, syncAuditHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid sync audit repository wiring: %w", err)
		}
	}
	return &SyncAuditStore{repo: repo}, nil
}

func (s *SyncAuditStore) Append(ctx context.Context, entry core.SyncAuditEntry) (core.SyncAuditEntry, error) {
	if s == nil || s.repo == nil {
		return core.SyncAuditEntry{}, fmt.Errorf("sqlstore: sync audit store is not configured")
	}
	entry.MemberID = strings.TrimSpace(entry.MemberID)
	if entry.MemberID == "" {
		return core.SyncAuditEntry{}, fmt.Errorf("sqlstore: member id is required")
	}
	parsed, err := core.ParseSource(string(entry.Source))
	if err != nil {
		return core.SyncAuditEntry{}, err
	}
	entry.Source = parsed
	if strings.TrimSpace(entry.RangeStart) == "" || strings.TrimSpace(entry.RangeEnd) == "" {
		return core.SyncAuditEntry{}, fmt.Errorf("sqlstore: audit range is required")
	}

	record := newSyncAuditRecord(entry, time.Now().UTC())
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.SyncAuditEntry{}, err
	}
	return created.toDomain(), nil
}

func (s *SyncAuditStore) ListByMember(ctx context.Context, memberID string, limit int) ([]core.SyncAuditEntry, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: sync audit store is not configured")
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, fmt.Errorf("sqlstore: member id is required")
	}
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("member_id", "=", memberID),
		repository.OrderBy("started_at DESC"),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Limit(limit)
		}),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.SyncAuditEntry, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

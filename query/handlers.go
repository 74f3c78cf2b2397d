package query

import (
	"context"

	"github.com/rebatewell/go-wearables/core"
)

// IntegrationReader is the read-only slice of the core facade the
// integration queries delegate to.
type IntegrationReader interface {
	ListIntegrations(ctx context.Context, member core.MemberRef) ([]core.Integration, error)
	GetIntegration(ctx context.Context, member core.MemberRef, source core.Source) (core.Integration, bool, error)
}

// SyncAuditReader matches the audit store surface directly; the facade does
// not wrap audit reads.
type SyncAuditReader interface {
	ListByMember(ctx context.Context, memberID string, limit int) ([]core.SyncAuditEntry, error)
}

// IntegrationLookup distinguishes "not connected" from an empty record.
type IntegrationLookup struct {
	Integration core.Integration
	Found       bool
}

type ListIntegrationsQuery struct {
	reader IntegrationReader
}

func NewListIntegrationsQuery(reader IntegrationReader) *ListIntegrationsQuery {
	return &ListIntegrationsQuery{reader: reader}
}

func (q *ListIntegrationsQuery) Query(ctx context.Context, msg ListIntegrationsMessage) ([]core.Integration, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: integration reader is required")
	}
	return q.reader.ListIntegrations(ctx, msg.Member)
}

type GetIntegrationQuery struct {
	reader IntegrationReader
}

func NewGetIntegrationQuery(reader IntegrationReader) *GetIntegrationQuery {
	return &GetIntegrationQuery{reader: reader}
}

func (q *GetIntegrationQuery) Query(ctx context.Context, msg GetIntegrationMessage) (IntegrationLookup, error) {
	if q == nil || q.reader == nil {
		return IntegrationLookup{}, queryDependencyError("query: integration reader is required")
	}
	integration, found, err := q.reader.GetIntegration(ctx, msg.Member, msg.Source)
	if err != nil {
		return IntegrationLookup{}, err
	}
	return IntegrationLookup{Integration: integration, Found: found}, nil
}

type ListSyncAuditQuery struct {
	reader SyncAuditReader
}

func NewListSyncAuditQuery(reader SyncAuditReader) *ListSyncAuditQuery {
	return &ListSyncAuditQuery{reader: reader}
}

func (q *ListSyncAuditQuery) Query(ctx context.Context, msg ListSyncAuditMessage) ([]core.SyncAuditEntry, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: sync audit reader is required")
	}
	return q.reader.ListByMember(ctx, msg.Member.ID, msg.Limit)
}

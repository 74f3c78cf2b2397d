package query

import (
	"context"
	"testing"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

type stubIntegrationReader struct {
	listFn func(ctx context.Context, member core.MemberRef) ([]core.Integration, error)
	getFn  func(ctx context.Context, member core.MemberRef, source core.Source) (core.Integration, bool, error)
}

func (s stubIntegrationReader) ListIntegrations(ctx context.Context, member core.MemberRef) ([]core.Integration, error) {
	return s.listFn(ctx, member)
}

func (s stubIntegrationReader) GetIntegration(ctx context.Context, member core.MemberRef, source core.Source) (core.Integration, bool, error) {
	return s.getFn(ctx, member, source)
}

type stubSyncAuditReader struct {
	listFn func(ctx context.Context, memberID string, limit int) ([]core.SyncAuditEntry, error)
}

func (s stubSyncAuditReader) ListByMember(ctx context.Context, memberID string, limit int) ([]core.SyncAuditEntry, error) {
	return s.listFn(ctx, memberID, limit)
}

func TestListIntegrationsQuery_DelegatesToReader(t *testing.T) {
	expected := []core.Integration{
		{ID: "int-1", MemberID: "member-1", Source: core.SourceGarmin, Status: core.IntegrationStatusActive},
		{ID: "int-2", MemberID: "member-1", Source: core.SourceOura, Status: core.IntegrationStatusRevoked},
	}
	reader := stubIntegrationReader{
		listFn: func(_ context.Context, member core.MemberRef) ([]core.Integration, error) {
			if member.ID != "member-1" {
				t.Fatalf("unexpected member %q", member.ID)
			}
			return expected, nil
		},
	}

	q := NewListIntegrationsQuery(reader)
	got, err := q.Query(context.Background(), ListIntegrationsMessage{Member: core.MemberRef{ID: "member-1"}})
	if err != nil {
		t.Fatalf("query list integrations: %v", err)
	}
	if len(got) != 2 || got[0].ID != "int-1" || got[1].Status != core.IntegrationStatusRevoked {
		t.Fatalf("unexpected integrations: %#v", got)
	}
}

func TestGetIntegrationQuery_ReportsFound(t *testing.T) {
	reader := stubIntegrationReader{
		getFn: func(_ context.Context, member core.MemberRef, source core.Source) (core.Integration, bool, error) {
			if source != core.SourceOura {
				t.Fatalf("unexpected source %q", source)
			}
			return core.Integration{ID: "int-2", Source: source, Status: core.IntegrationStatusActive}, true, nil
		},
	}

	q := NewGetIntegrationQuery(reader)
	lookup, err := q.Query(context.Background(), GetIntegrationMessage{
		Member: core.MemberRef{ID: "member-1"},
		Source: core.SourceOura,
	})
	if err != nil {
		t.Fatalf("query get integration: %v", err)
	}
	if !lookup.Found || lookup.Integration.ID != "int-2" {
		t.Fatalf("unexpected lookup: %#v", lookup)
	}
}

func TestGetIntegrationQuery_NotConnectedIsNotAnError(t *testing.T) {
	reader := stubIntegrationReader{
		getFn: func(_ context.Context, _ core.MemberRef, _ core.Source) (core.Integration, bool, error) {
			return core.Integration{}, false, nil
		},
	}

	q := NewGetIntegrationQuery(reader)
	lookup, err := q.Query(context.Background(), GetIntegrationMessage{
		Member: core.MemberRef{ID: "member-1"},
		Source: core.SourceGarmin,
	})
	if err != nil {
		t.Fatalf("query get integration: %v", err)
	}
	if lookup.Found {
		t.Fatalf("expected not-found lookup, got %#v", lookup)
	}
}

func TestListSyncAuditQuery_PassesMemberAndLimit(t *testing.T) {
	startedAt := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	reader := stubSyncAuditReader{
		listFn: func(_ context.Context, memberID string, limit int) ([]core.SyncAuditEntry, error) {
			if memberID != "member-1" || limit != 5 {
				t.Fatalf("unexpected audit query: %q %d", memberID, limit)
			}
			return []core.SyncAuditEntry{{
				ID:        "audit-1",
				MemberID:  memberID,
				Source:    core.SourceGarmin,
				StartedAt: startedAt,
			}}, nil
		},
	}

	q := NewListSyncAuditQuery(reader)
	got, err := q.Query(context.Background(), ListSyncAuditMessage{
		Member: core.MemberRef{ID: "member-1"},
		Limit:  5,
	})
	if err != nil {
		t.Fatalf("query list sync audit: %v", err)
	}
	if len(got) != 1 || got[0].ID != "audit-1" {
		t.Fatalf("unexpected audit entries: %#v", got)
	}
}

func TestQueries_NilReaderReturnsDependencyError(t *testing.T) {
	var listQuery *ListIntegrationsQuery
	if _, err := listQuery.Query(context.Background(), ListIntegrationsMessage{}); err == nil {
		t.Fatalf("expected dependency error for nil list query")
	}
	if _, err := NewGetIntegrationQuery(nil).Query(context.Background(), GetIntegrationMessage{}); err == nil {
		t.Fatalf("expected dependency error for nil integration reader")
	}
	if _, err := NewListSyncAuditQuery(nil).Query(context.Background(), ListSyncAuditMessage{}); err == nil {
		t.Fatalf("expected dependency error for nil audit reader")
	}
}

package sqlstore

import (
	"time"

	"github.com/rebatewell/go-wearables/core"
)

func newIntegrationRecord(in core.UpsertIntegrationInput, now time.Time) *integrationRecord {
	return &integrationRecord{
		MemberID:            in.Member.ID,
		Source:              string(in.Source),
		Status:              string(in.Status),
		EncryptedCredential: append([]byte(nil), in.EncryptedCredential...),
		CredentialFormat:    in.CredentialFormat,
		CredentialVersion:   in.CredentialVersion,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (r *integrationRecord) toDomain() core.Integration {
	if r == nil {
		return core.Integration{}
	}
	integration := core.Integration{
		ID:                  r.ID,
		MemberID:            r.MemberID,
		Source:              core.Source(r.Source),
		Status:              core.IntegrationStatus(r.Status),
		EncryptedCredential: append([]byte(nil), r.EncryptedCredential...),
		CredentialFormat:    r.CredentialFormat,
		CredentialVersion:   r.CredentialVersion,
		LastError:           r.LastError,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.LastSyncAt != nil {
		lastSync := *r.LastSyncAt
		integration.LastSyncAt = &lastSync
	}
	return integration
}

func newSyncAuditRecord(entry core.SyncAuditEntry, now time.Time) *syncAuditRecord {
	return &syncAuditRecord{
		MemberID:    entry.MemberID,
		Source:      string(entry.Source),
		RangeStart:  entry.RangeStart,
		RangeEnd:    entry.RangeEnd,
		Categories:  append([]string(nil), entry.Categories...),
		Unavailable: copyStringMap(entry.Unavailable),
		StartedAt:   entry.StartedAt,
		FinishedAt:  entry.FinishedAt,
		CreatedAt:   now,
	}
}

func (r *syncAuditRecord) toDomain() core.SyncAuditEntry {
	if r == nil {
		return core.SyncAuditEntry{}
	}
	return core.SyncAuditEntry{
		ID:          r.ID,
		MemberID:    r.MemberID,
		Source:      core.Source(r.Source),
		RangeStart:  r.RangeStart,
		RangeEnd:    r.RangeEnd,
		Categories:  append([]string(nil), r.Categories...),
		Unavailable: copyStringMap(r.Unavailable),
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func copyStringMap(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

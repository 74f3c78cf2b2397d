package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type integrationRecord struct {
	bun.BaseModel `bun:"table:wearable_integrations,alias:wi"`

	ID                  string     `bun:"id,pk"`
	MemberID            string     `bun:"member_id,notnull"`
	Source              string     `bun:"source,notnull"`
	Status              string     `bun:"status,notnull"`
	EncryptedCredential []byte     `bun:"encrypted_credential"`
	CredentialFormat    string     `bun:"credential_format"`
	CredentialVersion   int        `bun:"credential_version"`
	LastError           string     `bun:"last_error"`
	LastSyncAt          *time.Time `bun:"last_sync_at,nullzero"`
	CreatedAt           time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt           time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
	DeletedAt           *time.Time `bun:"deleted_at,soft_delete"`
}

type syncAuditRecord struct {
	bun.BaseModel `bun:"table:wearable_sync_audits,alias:wsa"`

	ID          string            `bun:"id,pk"`
	MemberID    string            `bun:"member_id,notnull"`
	Source      string            `bun:"source,notnull"`
	RangeStart  string            `bun:"range_start,notnull"`
	RangeEnd    string            `bun:"range_end,notnull"`
	Categories  []string          `bun:"categories,type:jsonb,notnull"`
	Unavailable map[string]string `bun:"unavailable,type:jsonb,notnull"`
	StartedAt   time.Time         `bun:"started_at,nullzero,notnull"`
	FinishedAt  time.Time         `bun:"finished_at,nullzero,notnull"`
	CreatedAt   time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rebatewell/go-wearables/core"
)

// IntegrationStore persists the (member, source) integration rows. Writes for
// one pair run inside a transaction so concurrent upserts cannot produce two
// non-revoked rows; a partial unique index backs the same invariant in the
// schema.
type IntegrationStore struct {
	db   *bun.DB
	repo repository.Repository[*integrationRecord]
}

func NewIntegrationStore(db *bun.DB) (*IntegrationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*integrationRecord](db, integrationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid integration repository wiring: %w", err)
		}
	}
	return &IntegrationStore{
		db:   db,
		repo: repo,
	}, nil
}

func (s *IntegrationStore) FindByMemberAndSource(ctx context.Context, memberID string, source core.Source) (core.Integration, bool, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, false, fmt.Errorf("sqlstore: integration store is not configured")
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return core.Integration{}, false, fmt.Errorf("sqlstore: member id is required")
	}
	parsed, err := core.ParseSource(string(source))
	if err != nil {
		return core.Integration{}, false, err
	}

	record, err := findIntegration(ctx, s.db, memberID, parsed)
	if err != nil {
		return core.Integration{}, false, err
	}
	if record == nil {
		return core.Integration{}, false, nil
	}
	return record.toDomain(), true, nil
}

func (s *IntegrationStore) ListByMember(ctx context.Context, memberID string) ([]core.Integration, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: integration store is not configured")
	}
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, fmt.Errorf("sqlstore: member id is required")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("member_id", "=", memberID),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Integration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IntegrationStore) ListActiveBySource(ctx context.Context, source core.Source) ([]core.Integration, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: integration store is not configured")
	}
	parsed, err := core.ParseSource(string(source))
	if err != nil {
		return nil, err
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("source", "=", string(parsed)),
		repository.SelectBy("status", "=", string(core.IntegrationStatusActive)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.deleted_at IS NULL")
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}

	out := make([]core.Integration, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

func (s *IntegrationStore) Upsert(ctx context.Context, in core.UpsertIntegrationInput) (core.Integration, error) {
	if s == nil || s.db == nil {
		return core.Integration{}, fmt.Errorf("sqlstore: integration store is not configured")
	}
	if err := in.Member.Validate(); err != nil {
		return core.Integration{}, err
	}
	parsed, err := core.ParseSource(string(in.Source))
	if err != nil {
		return core.Integration{}, err
	}
	if strings.TrimSpace(string(in.Status)) == "" {
		in.Status = core.IntegrationStatusPending
	}
	in.Member.ID = strings.TrimSpace(in.Member.ID)
	in.Source = parsed
	now := time.Now().UTC()

	var out core.Integration
	txErr := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, findErr := findIntegrationTx(ctx, tx, in.Member.ID, parsed)
		if findErr != nil {
			return findErr
		}
		if record == nil {
			record = newIntegrationRecord(in, now)
			record.ID = uuid.NewString()
			if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
				if !isUniqueViolation(insertErr) {
					return insertErr
				}
				// A concurrent upsert won the insert; fold into its row.
				record, findErr = findIntegrationTx(ctx, tx, in.Member.ID, parsed)
				if findErr != nil {
					return findErr
				}
				if record == nil {
					return insertErr
				}
				if applyErr := applyUpsertTx(ctx, tx, record, in, now); applyErr != nil {
					return applyErr
				}
				out = record.toDomain()
				return nil
			}
			out = record.toDomain()
			return nil
		}
		if err := applyUpsertTx(ctx, tx, record, in, now); err != nil {
			return err
		}
		out = record.toDomain()
		return nil
	})
	if txErr != nil {
		return core.Integration{}, txErr
	}
	return out, nil
}

func (s *IntegrationStore) MarkStatus(ctx context.Context, id string, status core.IntegrationStatus, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: integration id is required")
	}

	record := &integrationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", core.ErrIntegrationNotFound, id)
		}
		return err
	}

	now := time.Now().UTC()
	domain := record.toDomain()
	if err := domain.TransitionTo(status, reason, now); err != nil {
		return err
	}

	record.Status = string(domain.Status)
	record.LastError = domain.LastError
	record.UpdatedAt = now
	_, err = s.db.NewUpdate().
		Model(record).
		Column("status", "last_error", "updated_at").
		Where("?TableAlias.id = ?", id).
		Exec(ctx)
	return err
}

func (s *IntegrationStore) MarkSynced(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: integration store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: integration id is required")
	}
	syncedAt := at.UTC()

	result, err := s.db.NewUpdate().
		Model((*integrationRecord)(nil)).
		Set("last_sync_at = ?", syncedAt).
		Set("updated_at = ?", time.Now().UTC()).
		Where("?TableAlias.id = ?", id).
		Where("?TableAlias.deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affectedErr := result.RowsAffected(); affectedErr == nil && affected == 0 {
		return fmt.Errorf("%w: %s", core.ErrIntegrationNotFound, id)
	}
	return nil
}

func applyUpsertTx(ctx context.Context, tx bun.Tx, record *integrationRecord, in core.UpsertIntegrationInput, now time.Time) error {
	// The upsert path obeys the same lifecycle policy as MarkStatus.
	domain := record.toDomain()
	if err := domain.TransitionTo(in.Status, "", now); err != nil {
		return err
	}
	record.Status = string(domain.Status)
	record.LastError = domain.LastError
	if len(in.EncryptedCredential) > 0 {
		record.EncryptedCredential = append([]byte(nil), in.EncryptedCredential...)
		record.CredentialFormat = in.CredentialFormat
		record.CredentialVersion = in.CredentialVersion
	}
	record.UpdatedAt = now

	_, err := tx.NewUpdate().
		Model(record).
		Column("status", "encrypted_credential", "credential_format", "credential_version", "last_error", "updated_at").
		Where("?TableAlias.id = ?", record.ID).
		Exec(ctx)
	return err
}

func findIntegration(ctx context.Context, db bun.IDB, memberID string, source core.Source) (*integrationRecord, error) {
	record := &integrationRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.member_id = ?", memberID).
		Where("?TableAlias.source = ?", string(source)).
		Where("?TableAlias.status != ?", string(core.IntegrationStatusRevoked)).
		Where("?TableAlias.deleted_at IS NULL").
		OrderExpr("?TableAlias.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func findIntegrationTx(ctx context.Context, tx bun.Tx, memberID string, source core.Source) (*integrationRecord, error) {
	return findIntegration(ctx, tx, memberID, source)
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

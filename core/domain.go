package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSource                      = errors.New("core: invalid source")
	ErrInvalidIntegrationStatusTransition = errors.New("core: invalid integration status transition")
)

// Source identifies a wearable-data provider.
type Source string

const (
	SourceGarmin Source = "garmin"
	SourceOura   Source = "oura"
)

func ParseSource(value string) (Source, error) {
	normalized := Source(strings.TrimSpace(strings.ToLower(value)))
	switch normalized {
	case SourceGarmin, SourceOura:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, value)
	}
}

// MemberRef identifies the platform member an integration belongs to. The
// identity subsystem owns the member record; this core only references it.
type MemberRef struct {
	ID string
}

func (m MemberRef) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("core: member id is required")
	}
	return nil
}

type IntegrationStatus string

const (
	IntegrationStatusPending IntegrationStatus = "pending"
	IntegrationStatusActive  IntegrationStatus = "active"
	IntegrationStatusRevoked IntegrationStatus = "revoked"
	IntegrationStatusError   IntegrationStatus = "error"
)

// Integration is one member's link to one wearable provider. Credential
// material lives in EncryptedCredential and is only ever stored encrypted.
// Records are never hard-deleted; disconnecting transitions to revoked.
type Integration struct {
	ID                  string
	MemberID            string
	Source              Source
	Status              IntegrationStatus
	EncryptedCredential []byte
	CredentialFormat    string
	CredentialVersion   int
	LastError           string
	LastSyncAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (i *Integration) TransitionTo(status IntegrationStatus, reason string, now time.Time) error {
	if i == nil {
		return nil
	}
	if i.Status == status {
		i.UpdatedAt = now
		if strings.TrimSpace(reason) != "" {
			i.LastError = strings.TrimSpace(reason)
		}
		return nil
	}
	if !integrationTransitionAllowed(i.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidIntegrationStatusTransition, i.Status, status)
	}
	i.Status = status
	i.UpdatedAt = now
	if strings.TrimSpace(reason) != "" {
		i.LastError = strings.TrimSpace(reason)
	}
	if status == IntegrationStatusActive {
		i.LastError = ""
	}
	return nil
}

func integrationTransitionAllowed(current, next IntegrationStatus) bool {
	allowed := map[IntegrationStatus]map[IntegrationStatus]struct{}{
		IntegrationStatusPending: {
			IntegrationStatusActive:  {},
			IntegrationStatusError:   {},
			IntegrationStatusRevoked: {},
		},
		IntegrationStatusActive: {
			IntegrationStatusError:   {},
			IntegrationStatusRevoked: {},
		},
		IntegrationStatusError: {
			// A failed link is re-staged as pending when the member starts a
			// fresh handshake.
			IntegrationStatusPending: {},
			IntegrationStatusActive:  {},
			IntegrationStatusRevoked: {},
		},
		IntegrationStatusRevoked: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// Category names one provider data feed consumed by the sync aggregator.
type Category string

const (
	CategorySleep     Category = "sleep"
	CategoryActivity  Category = "activity"
	CategoryReadiness Category = "readiness"
)

func Categories() []Category {
	return []Category{CategorySleep, CategoryActivity, CategoryReadiness}
}

// SleepRecord is one daily sleep summary. Score is nil when the provider
// omitted it for the day.
type SleepRecord struct {
	Day   string
	Score *int
}

type ActivityRecord struct {
	Day            string
	Steps          int
	ActiveCalories int
	Score          *int
}

type ReadinessRecord struct {
	Day   string
	Score *int
}

package webhooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rebatewell/go-wearables/core"
)

// MemoryDeliveryLedger keeps delivery claims in process memory. Suitable for
// a single ingestion instance; multi-instance deployments need a shared
// ledger so retried deliveries dedupe across replicas.
type MemoryDeliveryLedger struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]*DeliveryRecord
}

func NewMemoryDeliveryLedger() *MemoryDeliveryLedger {
	return &MemoryDeliveryLedger{
		now:     func() time.Time { return time.Now().UTC() },
		records: map[string]*DeliveryRecord{},
	}
}

func (l *MemoryDeliveryLedger) Claim(
	_ context.Context,
	source core.Source,
	deliveryID string,
	_ []byte,
	lease time.Duration,
) (DeliveryRecord, bool, error) {
	if l == nil {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return DeliveryRecord{}, false, fmt.Errorf("webhooks: delivery id is required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(source, deliveryID)
	record, exists := l.records[key]
	if !exists {
		record = &DeliveryRecord{
			ID:         uuid.NewString(),
			Source:     source,
			DeliveryID: deliveryID,
			CreatedAt:  now,
		}
		l.records[key] = record
	}

	if !l.claimable(record, now, lease) {
		return *record, false, nil
	}

	record.ClaimID = uuid.NewString()
	record.Status = DeliveryStatusProcessing
	record.NextAttemptAt = nil
	record.UpdatedAt = now
	return *record, true, nil
}

// claimable decides whether a record may be (re)claimed. A processing record
// whose lease lapsed is treated as abandoned by a crashed worker.
func (l *MemoryDeliveryLedger) claimable(record *DeliveryRecord, now time.Time, lease time.Duration) bool {
	switch record.Status {
	case "", DeliveryStatusPending:
		return true
	case DeliveryStatusProcessing:
		return now.Sub(record.UpdatedAt) >= lease
	case DeliveryStatusRetryReady:
		return record.NextAttemptAt == nil || !now.Before(*record.NextAttemptAt)
	default:
		return false
	}
}

func (l *MemoryDeliveryLedger) Get(_ context.Context, source core.Source, deliveryID string) (DeliveryRecord, error) {
	if l == nil {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[ledgerKey(source, strings.TrimSpace(deliveryID))]
	if !ok {
		return DeliveryRecord{}, fmt.Errorf("webhooks: delivery %s/%s not found", source, deliveryID)
	}
	return *record, nil
}

func (l *MemoryDeliveryLedger) Complete(_ context.Context, claimID string) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.findByClaim(claimID)
	if err != nil {
		return err
	}
	record.Status = DeliveryStatusProcessed
	record.UpdatedAt = l.now()
	return nil
}

func (l *MemoryDeliveryLedger) Fail(
	_ context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if l == nil {
		return fmt.Errorf("webhooks: delivery ledger is nil")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	record, err := l.findByClaim(claimID)
	if err != nil {
		return err
	}

	record.Attempts++
	record.UpdatedAt = l.now()
	if cause != nil {
		record.LastError = cause.Error()
	}
	if maxAttempts > 0 && record.Attempts >= maxAttempts {
		record.Status = DeliveryStatusDead
		record.NextAttemptAt = nil
		return nil
	}
	record.Status = DeliveryStatusRetryReady
	at := nextAttemptAt.UTC()
	record.NextAttemptAt = &at
	return nil
}

func (l *MemoryDeliveryLedger) findByClaim(claimID string) (*DeliveryRecord, error) {
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return nil, fmt.Errorf("webhooks: claim id is required")
	}
	for _, record := range l.records {
		if record.ClaimID == claimID && record.Status == DeliveryStatusProcessing {
			return record, nil
		}
	}
	return nil, fmt.Errorf("webhooks: no in-flight claim %s", claimID)
}

func ledgerKey(source core.Source, deliveryID string) string {
	return string(source) + "|" + deliveryID
}

var _ DeliveryLedger = (*MemoryDeliveryLedger)(nil)

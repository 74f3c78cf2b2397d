package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// Delivery is one raw push notification as received over HTTP.
type Delivery struct {
	Source  core.Source
	Headers map[string]string
	Body    []byte
}

// Outcome tells the HTTP binding how to answer the provider. Providers
// retry on anything but 2xx, so dedupes and coalesces still answer 200.
type Outcome struct {
	Accepted   bool
	StatusCode int
	DeliveryID string
	Deduped    bool
	Syncs      int
	Skipped    int
}

type DeliveryRecord struct {
	ID            string
	ClaimID       string
	Source        core.Source
	DeliveryID    string
	Status        string
	Attempts      int
	LastError     string
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger claims each (source, delivery id) pair exactly once within
// a lease. A second claim for a processed or in-flight delivery reports
// claimed false.
type DeliveryLedger interface {
	Claim(ctx context.Context, source core.Source, deliveryID string, payload []byte, lease time.Duration) (DeliveryRecord, bool, error)
	Get(ctx context.Context, source core.Source, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// SyncScheduler turns a resolved notification into a queued sync run.
type SyncScheduler interface {
	ScheduleSync(ctx context.Context, member core.MemberRef, source core.Source) error
}

type Processor struct {
	Templates   map[core.Source]SourceTemplate
	Ledger      DeliveryLedger
	Resolver    AccountResolver
	Scheduler   SyncScheduler
	Burst       BurstController
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(ledger DeliveryLedger, resolver AccountResolver, scheduler SyncScheduler) *Processor {
	return &Processor{
		Templates:   DefaultTemplates(""),
		Ledger:      ledger,
		Resolver:    resolver,
		Scheduler:   scheduler,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, delivery Delivery) (Outcome, error) {
	if p == nil || p.Ledger == nil || p.Resolver == nil || p.Scheduler == nil {
		return Outcome{}, fmt.Errorf("webhooks: processor requires ledger, resolver, and scheduler")
	}

	source, err := core.ParseSource(string(delivery.Source))
	if err != nil {
		return Outcome{Accepted: false, StatusCode: http.StatusNotFound}, err
	}
	delivery.Source = source

	template, ok := p.Templates[source]
	if !ok {
		return Outcome{Accepted: false, StatusCode: http.StatusNotFound},
			fmt.Errorf("webhooks: no template for %s", source)
	}

	if template.Verifier != nil {
		if verifyErr := template.Verifier.Verify(ctx, delivery); verifyErr != nil {
			return Outcome{Accepted: false, StatusCode: http.StatusUnauthorized}, verifyErr
		}
	}

	deliveryID := DeliveryID(delivery)
	record, claimed, err := p.Ledger.Claim(ctx, source, deliveryID, delivery.Body, p.claimLease())
	if err != nil {
		return Outcome{}, err
	}
	if !claimed {
		return Outcome{
			Accepted:   true,
			StatusCode: http.StatusOK,
			DeliveryID: record.DeliveryID,
			Deduped:    true,
		}, nil
	}

	notifications, parseErr := template.Parse(delivery)
	if parseErr != nil {
		// Malformed payloads never heal; answering 400 stops provider
		// retries and the claim stays burned.
		if completeErr := p.Ledger.Complete(ctx, record.ClaimID); completeErr != nil {
			return Outcome{}, completeErr
		}
		return Outcome{Accepted: false, StatusCode: http.StatusBadRequest, DeliveryID: deliveryID}, parseErr
	}

	outcome := Outcome{Accepted: true, StatusCode: http.StatusOK, DeliveryID: deliveryID}
	for _, notification := range notifications {
		member, found, resolveErr := p.Resolver.ResolveMember(ctx, source, notification.ExternalAccountID)
		if resolveErr != nil {
			return p.failClaim(ctx, record, resolveErr)
		}
		if !found {
			outcome.Skipped++
			continue
		}

		if p.Burst != nil {
			decision, burstErr := p.Burst.Allow(ctx, burstKey(source, member.ID))
			if burstErr != nil {
				return p.failClaim(ctx, record, burstErr)
			}
			if !decision.Allow {
				outcome.Skipped++
				continue
			}
		}

		if scheduleErr := p.Scheduler.ScheduleSync(ctx, member, source); scheduleErr != nil {
			return p.failClaim(ctx, record, scheduleErr)
		}
		outcome.Syncs++
	}

	if err := p.Ledger.Complete(ctx, record.ClaimID); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (p *Processor) failClaim(ctx context.Context, record DeliveryRecord, cause error) (Outcome, error) {
	nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(record.Attempts))
	_ = p.Ledger.Fail(ctx, record.ClaimID, cause, nextAttemptAt, p.maxAttempts())
	return Outcome{Accepted: false, StatusCode: http.StatusInternalServerError, DeliveryID: record.DeliveryID}, cause
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func burstKey(source core.Source, memberID string) string {
	return string(source) + ":" + strings.TrimSpace(memberID)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

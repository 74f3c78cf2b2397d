package webhooks

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

type recordingScheduler struct {
	calls   []string
	failErr error
}

func (s *recordingScheduler) ScheduleSync(_ context.Context, member core.MemberRef, source core.Source) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.calls = append(s.calls, string(source)+":"+member.ID)
	return nil
}

func staticResolver(accounts map[string]string) AccountResolver {
	return AccountResolverFunc(func(_ context.Context, _ core.Source, externalAccountID string) (core.MemberRef, bool, error) {
		memberID, ok := accounts[externalAccountID]
		if !ok {
			return core.MemberRef{}, false, nil
		}
		return core.MemberRef{ID: memberID}, true, nil
	})
}

func ouraDelivery(body string) Delivery {
	return Delivery{
		Source:  core.SourceOura,
		Headers: map[string]string{"x-delivery-id": "delivery_1"},
		Body:    []byte(body),
	}
}

func TestProcessorSchedulesSyncForResolvedMember(t *testing.T) {
	scheduler := &recordingScheduler{}
	processor := NewProcessor(
		NewMemoryDeliveryLedger(),
		staticResolver(map[string]string{"oura_user_1": "member_1"}),
		scheduler,
	)

	outcome, err := processor.Process(context.Background(), ouraDelivery(
		`{"event_type":"create","data_type":"daily_sleep","user_id":"oura_user_1"}`,
	))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.Accepted || outcome.StatusCode != http.StatusOK {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Syncs != 1 || outcome.Skipped != 0 {
		t.Fatalf("expected one scheduled sync, got %+v", outcome)
	}
	if len(scheduler.calls) != 1 || scheduler.calls[0] != "oura:member_1" {
		t.Fatalf("scheduler calls = %v", scheduler.calls)
	}
}

func TestProcessorDedupesRetriedDelivery(t *testing.T) {
	scheduler := &recordingScheduler{}
	processor := NewProcessor(
		NewMemoryDeliveryLedger(),
		staticResolver(map[string]string{"oura_user_1": "member_1"}),
		scheduler,
	)
	delivery := ouraDelivery(`{"event_type":"create","data_type":"daily_sleep","user_id":"oura_user_1"}`)

	first, err := processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	second, err := processor.Process(context.Background(), delivery)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !second.Accepted || !second.Deduped {
		t.Fatalf("expected dedupe, got %+v", second)
	}
	if second.Syncs != 0 {
		t.Fatalf("dedupe must not schedule, got %+v", second)
	}
	if first.DeliveryID != second.DeliveryID {
		t.Fatalf("delivery ids differ: %q vs %q", first.DeliveryID, second.DeliveryID)
	}
	if len(scheduler.calls) != 1 {
		t.Fatalf("expected one scheduled sync total, got %d", len(scheduler.calls))
	}
}

func TestProcessorAnswers400AndBurnsClaimOnMalformedPayload(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	scheduler := &recordingScheduler{}
	processor := NewProcessor(ledger, staticResolver(nil), scheduler)
	delivery := ouraDelivery(`{not json`)

	outcome, err := processor.Process(context.Background(), delivery)
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if outcome.Accepted || outcome.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	record, err := ledger.Get(context.Background(), core.SourceOura, "delivery_1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Status != DeliveryStatusProcessed {
		t.Fatalf("malformed payload should burn the claim, status=%s", record.Status)
	}
}

func TestProcessorSkipsUnresolvedAccounts(t *testing.T) {
	scheduler := &recordingScheduler{}
	processor := NewProcessor(NewMemoryDeliveryLedger(), staticResolver(nil), scheduler)

	outcome, err := processor.Process(context.Background(), ouraDelivery(
		`{"event_type":"create","data_type":"daily_activity","user_id":"stranger"}`,
	))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Syncs != 0 || outcome.Skipped != 1 {
		t.Fatalf("expected skip for unresolved account, got %+v", outcome)
	}
}

func TestProcessorBurstControllerCoalesces(t *testing.T) {
	scheduler := &recordingScheduler{}
	processor := NewProcessor(
		NewMemoryDeliveryLedger(),
		staticResolver(map[string]string{"oura_user_1": "member_1"}),
		scheduler,
	)
	processor.Burst = NewMinIntervalBurstController(time.Hour)

	first, err := processor.Process(context.Background(), Delivery{
		Source:  core.SourceOura,
		Headers: map[string]string{"x-delivery-id": "d1"},
		Body:    []byte(`{"event_type":"create","data_type":"daily_sleep","user_id":"oura_user_1"}`),
	})
	if err != nil || first.Syncs != 1 {
		t.Fatalf("first delivery: err=%v outcome=%+v", err, first)
	}

	second, err := processor.Process(context.Background(), Delivery{
		Source:  core.SourceOura,
		Headers: map[string]string{"x-delivery-id": "d2"},
		Body:    []byte(`{"event_type":"create","data_type":"daily_readiness","user_id":"oura_user_1"}`),
	})
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if second.Syncs != 0 || second.Skipped != 1 {
		t.Fatalf("expected burst coalescing, got %+v", second)
	}
}

func TestProcessorFailedScheduleGoesToRetry(t *testing.T) {
	ledger := NewMemoryDeliveryLedger()
	scheduler := &recordingScheduler{failErr: errors.New("queue down")}
	processor := NewProcessor(ledger, staticResolver(map[string]string{"oura_user_1": "member_1"}), scheduler)

	outcome, err := processor.Process(context.Background(), ouraDelivery(
		`{"event_type":"create","data_type":"daily_sleep","user_id":"oura_user_1"}`,
	))
	if err == nil {
		t.Fatalf("expected schedule failure to surface")
	}
	if outcome.Accepted || outcome.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	record, getErr := ledger.Get(context.Background(), core.SourceOura, "delivery_1")
	if getErr != nil {
		t.Fatalf("get record: %v", getErr)
	}
	if record.Status != DeliveryStatusRetryReady {
		t.Fatalf("expected retry_ready, got %s", record.Status)
	}
	if record.Attempts != 1 || record.LastError == "" {
		t.Fatalf("expected recorded attempt, got %+v", record)
	}
}

func TestProcessorRejectsUnknownSource(t *testing.T) {
	processor := NewProcessor(NewMemoryDeliveryLedger(), staticResolver(nil), &recordingScheduler{})

	outcome, err := processor.Process(context.Background(), Delivery{
		Source: core.Source("fitbit"),
		Body:   []byte(`{}`),
	})
	if err == nil {
		t.Fatalf("expected unknown source error")
	}
	if outcome.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", outcome)
	}
}

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/rebatewell/go-wearables/callback"
	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/sync"
	"github.com/rebatewell/go-wearables/webhooks"
)

type stubWearableService struct {
	connectFn          func(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	completeCallbackFn func(ctx context.Context, req core.CallbackRequest) (core.CallbackCompletion, error)
	connectWithTokenFn func(ctx context.Context, req core.ConnectTokenRequest) (core.Integration, error)
	disconnectFn       func(ctx context.Context, req core.DisconnectRequest) (core.Integration, error)
	listFn             func(ctx context.Context, member core.MemberRef) ([]core.Integration, error)
	getFn              func(ctx context.Context, member core.MemberRef, source core.Source) (core.Integration, bool, error)
}

func (s *stubWearableService) Connect(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error) {
	return s.connectFn(ctx, req)
}

func (s *stubWearableService) CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackCompletion, error) {
	return s.completeCallbackFn(ctx, req)
}

func (s *stubWearableService) ConnectWithToken(ctx context.Context, req core.ConnectTokenRequest) (core.Integration, error) {
	return s.connectWithTokenFn(ctx, req)
}

func (s *stubWearableService) Disconnect(ctx context.Context, req core.DisconnectRequest) (core.Integration, error) {
	return s.disconnectFn(ctx, req)
}

func (s *stubWearableService) ListIntegrations(ctx context.Context, member core.MemberRef) ([]core.Integration, error) {
	return s.listFn(ctx, member)
}

func (s *stubWearableService) GetIntegration(ctx context.Context, member core.MemberRef, source core.Source) (core.Integration, bool, error) {
	return s.getFn(ctx, member, source)
}

func (s *stubWearableService) ResolveCredential(context.Context, core.MemberRef, core.Source) (core.Integration, core.ActiveCredential, error) {
	return core.Integration{}, core.ActiveCredential{}, nil
}

func (s *stubWearableService) MarkIntegrationError(context.Context, string, string) error {
	return nil
}

func (s *stubWearableService) MarkIntegrationSynced(context.Context, string, time.Time) error {
	return nil
}

func (s *stubWearableService) RecordSyncAudit(_ context.Context, entry core.SyncAuditEntry) (core.SyncAuditEntry, error) {
	return entry, nil
}

type stubSyncRunner struct {
	result sync.Result
	err    error
}

func (s stubSyncRunner) SyncRecent(context.Context, core.MemberRef, core.Source) (sync.Result, error) {
	return s.result, s.err
}

type stubAuditReader struct {
	entries []core.SyncAuditEntry
	limit   int
}

func (s *stubAuditReader) ListByMember(_ context.Context, _ string, limit int) ([]core.SyncAuditEntry, error) {
	s.limit = limit
	return s.entries, nil
}

func newTestServer(t *testing.T, svc *stubWearableService, options ...Option) *Server {
	t.Helper()
	coordinator, err := callback.NewCoordinator(svc, callback.WithConnectPage("/settings/devices"))
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	server, err := NewServer(svc, coordinator, options...)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func TestConnectEndpoint_ReturnsAuthorizeURL(t *testing.T) {
	svc := &stubWearableService{
		connectFn: func(_ context.Context, req core.ConnectRequest) (core.ConnectResponse, error) {
			if req.Member.ID != "member-1" || req.Source != core.SourceGarmin {
				t.Fatalf("unexpected connect request: %#v", req)
			}
			return core.ConnectResponse{
				AuthorizeURL: "https://connect.garmin.com/oauthConfirm?oauth_token=tok",
				SessionNonce: "nonce-1",
			}, nil
		},
	}
	server := newTestServer(t, svc)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/wearables/connect/garmin?member_id=member-1", nil)
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var payload connectPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.SessionNonce != "nonce-1" || !strings.Contains(payload.AuthorizeURL, "oauthConfirm") {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestConnectEndpoint_MissingMemberIsBadRequest(t *testing.T) {
	server := newTestServer(t, &stubWearableService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/wearables/connect/garmin", nil)
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error.TextCode != core.ServiceErrorBadInput {
		t.Fatalf("text code = %q", payload.Error.TextCode)
	}
}

func TestCallbackEndpoint_SuccessRedirectsToConnectedPage(t *testing.T) {
	svc := &stubWearableService{
		completeCallbackFn: func(_ context.Context, req core.CallbackRequest) (core.CallbackCompletion, error) {
			if req.SessionNonce != "nonce-1" || req.RequestToken != "tok" || req.Verifier != "ver" {
				t.Fatalf("unexpected callback request: %#v", req)
			}
			return core.CallbackCompletion{
				Integration: core.Integration{ID: "int-1", Source: core.SourceGarmin, Status: core.IntegrationStatusActive},
			}, nil
		},
	}
	server := newTestServer(t, svc)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(
		http.MethodGet,
		"/wearables/callback/garmin?nonce=nonce-1&oauth_token=tok&oauth_verifier=ver",
		nil,
	)
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound {
		t.Fatalf("status = %d", recorder.Code)
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if location.Path != "/settings/devices" || location.Query().Get("connected") != "garmin" {
		t.Fatalf("unexpected redirect %q", recorder.Header().Get("Location"))
	}
}

func TestCallbackEndpoint_DenialRedirectsWithReason(t *testing.T) {
	server := newTestServer(t, &stubWearableService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(
		http.MethodGet,
		"/wearables/callback/garmin?nonce=nonce-1&error=access_denied",
		nil,
	)
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound {
		t.Fatalf("status = %d", recorder.Code)
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	if location.Query().Get("error") != string(callback.ReasonDenied) {
		t.Fatalf("unexpected redirect %q", recorder.Header().Get("Location"))
	}
}

func TestCallbackEndpoint_ProviderErrorIsNotDenial(t *testing.T) {
	server := newTestServer(t, &stubWearableService{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(
		http.MethodGet,
		"/wearables/callback/garmin?nonce=nonce-1&error=temporarily_unavailable",
		nil,
	)
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusFound {
		t.Fatalf("status = %d", recorder.Code)
	}
	location, err := url.Parse(recorder.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	// Without a token or verifier the failure lands on missing_params, not
	// an explicit member denial.
	if location.Query().Get("error") != string(callback.ReasonMissingParams) {
		t.Fatalf("unexpected redirect %q", recorder.Header().Get("Location"))
	}
}

func TestConnectTokenEndpoint_CreatesIntegration(t *testing.T) {
	svc := &stubWearableService{
		connectWithTokenFn: func(_ context.Context, req core.ConnectTokenRequest) (core.Integration, error) {
			if req.Source != core.SourceOura || req.Token != "pat-token" {
				t.Fatalf("unexpected token request: %#v", req)
			}
			return core.Integration{
				ID:       "int-2",
				MemberID: req.Member.ID,
				Source:   req.Source,
				Status:   core.IntegrationStatusActive,
			}, nil
		},
	}
	server := newTestServer(t, svc)

	body := strings.NewReader(`{"member_id":"member-1","token":"pat-token"}`)
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/wearables/connect/oura/token", body)
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var payload integrationPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ID != "int-2" || payload.Status != string(core.IntegrationStatusActive) {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestIntegrationEndpoints_GetAndDisconnect(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	svc := &stubWearableService{
		getFn: func(_ context.Context, _ core.MemberRef, source core.Source) (core.Integration, bool, error) {
			if source == core.SourceGarmin {
				return core.Integration{
					ID:        "int-1",
					MemberID:  "member-1",
					Source:    source,
					Status:    core.IntegrationStatusActive,
					CreatedAt: now,
					UpdatedAt: now,
				}, true, nil
			}
			return core.Integration{}, false, nil
		},
		disconnectFn: func(_ context.Context, req core.DisconnectRequest) (core.Integration, error) {
			return core.Integration{ID: "int-1", Status: core.IntegrationStatusRevoked}, nil
		},
	}
	server := newTestServer(t, svc)

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(
		http.MethodGet, "/wearables/integrations/garmin?member_id=member-1", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status = %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(
		http.MethodGet, "/wearables/integrations/oura?member_id=member-1", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("not-found status = %d", recorder.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error.TextCode != core.ServiceErrorNotConnected {
		t.Fatalf("text code = %q", payload.Error.TextCode)
	}

	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(
		http.MethodDelete, "/wearables/integrations/garmin?member_id=member-1&reason=member+request", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", recorder.Code)
	}
	var disconnected integrationPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &disconnected); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if disconnected.Status != string(core.IntegrationStatusRevoked) {
		t.Fatalf("unexpected status %q", disconnected.Status)
	}
}

func TestSyncEndpoint_ReportsPartialFailure(t *testing.T) {
	avgSleep := 82
	runner := stubSyncRunner{result: sync.Result{
		Connected:  true,
		Source:     core.SourceOura,
		MemberID:   "member-1",
		RangeStart: "2026-08-21",
		RangeEnd:   "2026-08-28",
		Sleep:      []core.SleepRecord{{}, {}},
		Unavailable: map[core.Category]string{
			core.CategoryReadiness: "provider_unavailable",
		},
		Summary:  sync.Summary{AvgSleepScore: &avgSleep, TotalSteps: 12000},
		SyncedAt: time.Date(2026, 8, 28, 11, 0, 0, 0, time.UTC),
	}}
	server := newTestServer(t, &stubWearableService{}, WithSyncRunner(runner))

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(
		http.MethodPost, "/wearables/sync/oura?member_id=member-1", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", recorder.Code, recorder.Body.String())
	}
	var payload syncRunPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.Connected || payload.SleepCount != 2 {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if payload.Unavailable["readiness"] != "provider_unavailable" {
		t.Fatalf("expected readiness marked unavailable, got %#v", payload.Unavailable)
	}
	if payload.Summary.AvgSleepScore == nil || *payload.Summary.AvgSleepScore != 82 {
		t.Fatalf("unexpected summary: %#v", payload.Summary)
	}
}

func TestSyncAuditEndpoint_PassesLimit(t *testing.T) {
	reader := &stubAuditReader{entries: []core.SyncAuditEntry{{
		ID:       "audit-1",
		MemberID: "member-1",
		Source:   core.SourceGarmin,
	}}}
	server := newTestServer(t, &stubWearableService{}, WithAuditReader(reader))

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(
		http.MethodGet, "/wearables/sync/audit?member_id=member-1&limit=2", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	if reader.limit != 2 {
		t.Fatalf("expected limit 2, got %d", reader.limit)
	}
	var payload syncAuditListPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Entries[0].ID != "audit-1" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestErrorEnvelope_MapsRichErrorStatusAndTextCode(t *testing.T) {
	svc := &stubWearableService{
		connectFn: func(context.Context, core.ConnectRequest) (core.ConnectResponse, error) {
			return core.ConnectResponse{}, goerrors.New("handshake session expired", goerrors.CategoryAuth).
				WithCode(http.StatusUnauthorized).
				WithTextCode(core.ServiceErrorSessionExpired)
		},
	}
	server := newTestServer(t, svc)

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(
		http.MethodGet, "/wearables/connect/garmin?member_id=member-1", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", recorder.Code)
	}
	var payload errorPayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error.TextCode != core.ServiceErrorSessionExpired {
		t.Fatalf("text code = %q", payload.Error.TextCode)
	}
}

func TestWebhookEndpoint_AcceptsAndSchedules(t *testing.T) {
	scheduled := 0
	processor := webhooks.NewProcessor(
		webhooks.NewMemoryDeliveryLedger(),
		webhooks.AccountResolverFunc(func(_ context.Context, _ core.Source, account string) (core.MemberRef, bool, error) {
			if account != "oura_user_1" {
				return core.MemberRef{}, false, nil
			}
			return core.MemberRef{ID: "member-1"}, true, nil
		}),
		scheduleFunc(func(_ context.Context, member core.MemberRef, source core.Source) error {
			if member.ID != "member-1" || source != core.SourceOura {
				t.Fatalf("unexpected schedule: %+v %s", member, source)
			}
			scheduled++
			return nil
		}),
	)
	server := newTestServer(t, &stubWearableService{}, WithWebhookProcessor(processor))

	body := `{"event_type":"create","data_type":"daily_sleep","user_id":"oura_user_1"}`
	request := httptest.NewRequest(http.MethodPost, "/wearables/webhooks/oura", strings.NewReader(body))
	request.Header.Set("X-Delivery-Id", "d1")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", recorder.Code, recorder.Body.String())
	}
	if scheduled != 1 {
		t.Fatalf("expected one scheduled sync, got %d", scheduled)
	}

	var payload struct {
		Accepted bool `json:"accepted"`
		Syncs    int  `json:"syncs"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !payload.Accepted || payload.Syncs != 1 {
		t.Fatalf("payload = %+v", payload)
	}

	// A retried identical delivery dedupes but still answers 200.
	recorder = httptest.NewRecorder()
	request = httptest.NewRequest(http.MethodPost, "/wearables/webhooks/oura", strings.NewReader(body))
	request.Header.Set("X-Delivery-Id", "d1")
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK || scheduled != 1 {
		t.Fatalf("retry: status=%d scheduled=%d", recorder.Code, scheduled)
	}
}

func TestWebhookEndpoint_NotConfigured(t *testing.T) {
	server := newTestServer(t, &stubWearableService{})
	request := httptest.NewRequest(http.MethodPost, "/wearables/webhooks/oura", strings.NewReader(`{}`))
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", recorder.Code)
	}
}

type scheduleFunc func(ctx context.Context, member core.MemberRef, source core.Source) error

func (f scheduleFunc) ScheduleSync(ctx context.Context, member core.MemberRef, source core.Source) error {
	return f(ctx, member, source)
}

package command

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/sync"
)

type stubMutatingService struct {
	connectFn          func(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	completeCallbackFn func(ctx context.Context, req core.CallbackRequest) (core.CallbackCompletion, error)
	connectWithTokenFn func(ctx context.Context, req core.ConnectTokenRequest) (core.Integration, error)
	disconnectFn       func(ctx context.Context, req core.DisconnectRequest) (core.Integration, error)
	markErrorFn        func(ctx context.Context, integrationID string, reason string) error
	markSyncedFn       func(ctx context.Context, integrationID string, at time.Time) error
}

func (s stubMutatingService) Connect(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error) {
	return s.connectFn(ctx, req)
}

func (s stubMutatingService) CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackCompletion, error) {
	return s.completeCallbackFn(ctx, req)
}

func (s stubMutatingService) ConnectWithToken(ctx context.Context, req core.ConnectTokenRequest) (core.Integration, error) {
	return s.connectWithTokenFn(ctx, req)
}

func (s stubMutatingService) Disconnect(ctx context.Context, req core.DisconnectRequest) (core.Integration, error) {
	return s.disconnectFn(ctx, req)
}

func (s stubMutatingService) MarkIntegrationError(ctx context.Context, integrationID string, reason string) error {
	return s.markErrorFn(ctx, integrationID, reason)
}

func (s stubMutatingService) MarkIntegrationSynced(ctx context.Context, integrationID string, at time.Time) error {
	return s.markSyncedFn(ctx, integrationID, at)
}

type stubSyncService struct {
	syncRecentFn func(ctx context.Context, member core.MemberRef, source core.Source) (sync.Result, error)
}

func (s stubSyncService) SyncRecent(ctx context.Context, member core.MemberRef, source core.Source) (sync.Result, error) {
	return s.syncRecentFn(ctx, member, source)
}

func TestConnectCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.ConnectResponse{
		AuthorizeURL: "https://connect.garmin.com/oauthConfirm?oauth_token=tok",
		SessionNonce: "nonce-1",
		RequestToken: "tok",
	}
	called := false

	svc := stubMutatingService{
		connectFn: func(_ context.Context, req core.ConnectRequest) (core.ConnectResponse, error) {
			called = true
			if req.Source != core.SourceGarmin {
				t.Fatalf("expected garmin source, got %q", req.Source)
			}
			return expected, nil
		},
	}

	cmd := NewConnectCommand(svc)
	collector := gocmd.NewResult[core.ConnectResponse]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, ConnectMessage{Request: core.ConnectRequest{
		Source: core.SourceGarmin,
		Member: core.MemberRef{ID: "member-1"},
	}})
	if err != nil {
		t.Fatalf("execute connect: %v", err)
	}
	if !called {
		t.Fatalf("expected connect service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.AuthorizeURL != expected.AuthorizeURL || result.SessionNonce != expected.SessionNonce {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestCompleteCallbackCommand_StoresCompletion(t *testing.T) {
	expected := core.CallbackCompletion{
		Integration:       core.Integration{ID: "int-1", MemberID: "member-1", Source: core.SourceGarmin},
		ExternalAccountID: "garmin-user-9",
	}

	svc := stubMutatingService{
		completeCallbackFn: func(_ context.Context, req core.CallbackRequest) (core.CallbackCompletion, error) {
			if req.SessionNonce != "nonce-1" || req.Verifier != "ver-1" {
				t.Fatalf("unexpected callback payload: %#v", req)
			}
			return expected, nil
		},
	}

	cmd := NewCompleteCallbackCommand(svc)
	collector := gocmd.NewResult[core.CallbackCompletion]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, CompleteCallbackMessage{Request: core.CallbackRequest{
		Source:       core.SourceGarmin,
		SessionNonce: "nonce-1",
		RequestToken: "tok",
		Verifier:     "ver-1",
	}})
	if err != nil {
		t.Fatalf("execute complete callback: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected completion result")
	}
	if stored.ExternalAccountID != expected.ExternalAccountID {
		t.Fatalf("unexpected completion: %#v", stored)
	}
}

func TestMutationCommands_DelegateToService(t *testing.T) {
	t.Run("connect with token", func(t *testing.T) {
		expected := core.Integration{ID: "int-2", MemberID: "member-1", Source: core.SourceOura, Status: core.IntegrationStatusActive}
		svc := stubMutatingService{
			connectWithTokenFn: func(_ context.Context, req core.ConnectTokenRequest) (core.Integration, error) {
				if req.Token != "pat-token" {
					t.Fatalf("unexpected token payload: %#v", req)
				}
				return expected, nil
			},
		}
		cmd := NewConnectTokenCommand(svc)
		collector := gocmd.NewResult[core.Integration]()
		ctx := gocmd.ContextWithResult(context.Background(), collector)
		err := cmd.Execute(ctx, ConnectTokenMessage{Request: core.ConnectTokenRequest{
			Source: core.SourceOura,
			Member: core.MemberRef{ID: "member-1"},
			Token:  "pat-token",
		}})
		if err != nil {
			t.Fatalf("execute connect token: %v", err)
		}
		stored, ok := collector.Load()
		if !ok {
			t.Fatalf("expected integration result")
		}
		if stored.ID != expected.ID || stored.Status != expected.Status {
			t.Fatalf("unexpected integration: %#v", stored)
		}
	})

	t.Run("disconnect", func(t *testing.T) {
		called := false
		svc := stubMutatingService{
			disconnectFn: func(_ context.Context, req core.DisconnectRequest) (core.Integration, error) {
				called = true
				if req.Reason != "member request" {
					t.Fatalf("unexpected disconnect reason: %q", req.Reason)
				}
				return core.Integration{ID: "int-1", Status: core.IntegrationStatusRevoked}, nil
			},
		}
		cmd := NewDisconnectCommand(svc)
		err := cmd.Execute(context.Background(), DisconnectMessage{Request: core.DisconnectRequest{
			Source: core.SourceGarmin,
			Member: core.MemberRef{ID: "member-1"},
			Reason: "member request",
		}})
		if err != nil {
			t.Fatalf("execute disconnect: %v", err)
		}
		if !called {
			t.Fatalf("expected disconnect invocation")
		}
	})

	t.Run("mark error and synced", func(t *testing.T) {
		syncedAt := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
		var gotReason string
		var gotAt time.Time
		svc := stubMutatingService{
			markErrorFn: func(_ context.Context, integrationID string, reason string) error {
				if integrationID != "int-1" {
					t.Fatalf("unexpected integration id %q", integrationID)
				}
				gotReason = reason
				return nil
			},
			markSyncedFn: func(_ context.Context, integrationID string, at time.Time) error {
				gotAt = at
				return nil
			},
		}
		if err := NewMarkIntegrationErrorCommand(svc).Execute(context.Background(), MarkIntegrationErrorMessage{
			IntegrationID: "int-1",
			Reason:        "auth_expired",
		}); err != nil {
			t.Fatalf("execute mark error: %v", err)
		}
		if gotReason != "auth_expired" {
			t.Fatalf("unexpected reason %q", gotReason)
		}
		if err := NewMarkIntegrationSyncedCommand(svc).Execute(context.Background(), MarkIntegrationSyncedMessage{
			IntegrationID: "int-1",
			At:            syncedAt,
		}); err != nil {
			t.Fatalf("execute mark synced: %v", err)
		}
		if !gotAt.Equal(syncedAt) {
			t.Fatalf("unexpected synced at %v", gotAt)
		}
	})
}

func TestSyncRecentCommand_StoresRunResult(t *testing.T) {
	expected := sync.Result{
		Connected:  true,
		Source:     core.SourceOura,
		MemberID:   "member-1",
		RangeStart: "2026-08-21",
		RangeEnd:   "2026-08-28",
	}
	svc := stubSyncService{
		syncRecentFn: func(_ context.Context, member core.MemberRef, source core.Source) (sync.Result, error) {
			if member.ID != "member-1" || source != core.SourceOura {
				t.Fatalf("unexpected sync payload: %q %q", member.ID, source)
			}
			return expected, nil
		},
	}

	cmd := NewSyncRecentCommand(svc)
	collector := gocmd.NewResult[sync.Result]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, SyncRecentMessage{
		Member: core.MemberRef{ID: "member-1"},
		Source: core.SourceOura,
	})
	if err != nil {
		t.Fatalf("execute sync recent: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected sync result")
	}
	if !stored.Connected || stored.RangeEnd != expected.RangeEnd {
		t.Fatalf("unexpected sync result: %#v", stored)
	}
}

func TestMessageValidation(t *testing.T) {
	cases := []struct {
		name    string
		message interface{ Validate() error }
		wantErr bool
	}{
		{"connect ok", ConnectMessage{Request: core.ConnectRequest{Source: core.SourceGarmin, Member: core.MemberRef{ID: "m1"}}}, false},
		{"connect missing member", ConnectMessage{Request: core.ConnectRequest{Source: core.SourceGarmin}}, true},
		{"connect unknown source", ConnectMessage{Request: core.ConnectRequest{Source: "fitbit", Member: core.MemberRef{ID: "m1"}}}, true},
		{"callback missing verifier", CompleteCallbackMessage{Request: core.CallbackRequest{Source: core.SourceGarmin, SessionNonce: "n", RequestToken: "t"}}, true},
		{"token connect missing token", ConnectTokenMessage{Request: core.ConnectTokenRequest{Source: core.SourceOura, Member: core.MemberRef{ID: "m1"}}}, true},
		{"mark synced zero time", MarkIntegrationSyncedMessage{IntegrationID: "int-1"}, true},
		{"sync recent ok", SyncRecentMessage{Member: core.MemberRef{ID: "m1"}, Source: core.SourceOura}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

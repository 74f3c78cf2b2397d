package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// BeginAuthorizationRequest starts the three-legged handshake for one member.
type BeginAuthorizationRequest struct {
	Source      Source
	Member      MemberRef
	CallbackURL string
	Metadata    map[string]any
}

// BeginAuthorizationResponse carries the provider authorize URL the caller
// must redirect the member to, plus the request-token pair the session store
// keeps until the callback returns.
type BeginAuthorizationResponse struct {
	AuthorizeURL       string
	RequestToken       string
	RequestTokenSecret string
	Metadata           map[string]any
}

type CompleteAuthorizationRequest struct {
	Source             Source
	Member             MemberRef
	RequestToken       string
	RequestTokenSecret string
	Verifier           string
	Metadata           map[string]any
}

type CompleteAuthorizationResponse struct {
	ExternalAccountID string
	Credential        ActiveCredential
	Metadata          map[string]any
}

const (
	TokenTypeOAuth1 = "oauth1"
	TokenTypeBearer = "bearer"
)

// ActiveCredential is decrypted token material in memory. It never reaches a
// log line or a store unencrypted.
type ActiveCredential struct {
	TokenType         string
	AccessToken       string
	AccessTokenSecret string
	ExternalAccountID string
	Metadata          map[string]any
}

// HandshakeProvider drives a provider's three-legged OAuth 1.0a exchange.
type HandshakeProvider interface {
	ID() Source
	BeginAuthorization(ctx context.Context, req BeginAuthorizationRequest) (BeginAuthorizationResponse, error)
	CompleteAuthorization(ctx context.Context, req CompleteAuthorizationRequest) (CompleteAuthorizationResponse, error)
}

// TokenVerifier validates a member-supplied bearer token against the provider
// before it is accepted as an integration credential.
type TokenVerifier interface {
	ID() Source
	VerifyToken(ctx context.Context, token string) (externalAccountID string, err error)
}

type Registry interface {
	Register(provider HandshakeProvider) error
	Get(source Source) (HandshakeProvider, bool)
	List() []HandshakeProvider
}

type UpsertIntegrationInput struct {
	Member              MemberRef
	Source              Source
	Status              IntegrationStatus
	EncryptedCredential []byte
	CredentialFormat    string
	CredentialVersion   int
}

// IntegrationStore persists the (member, source) -> Integration mapping.
// Implementations must serialize writes for one (member, source) pair and
// enforce at most one non-revoked record per pair.
type IntegrationStore interface {
	FindByMemberAndSource(ctx context.Context, memberID string, source Source) (Integration, bool, error)
	ListByMember(ctx context.Context, memberID string) ([]Integration, error)
	ListActiveBySource(ctx context.Context, source Source) ([]Integration, error)
	Upsert(ctx context.Context, in UpsertIntegrationInput) (Integration, error)
	MarkStatus(ctx context.Context, id string, status IntegrationStatus, reason string) error
	MarkSynced(ctx context.Context, id string, at time.Time) error
}

// SyncAuditEntry records one aggregation run for one member. Unavailable
// holds the category names that failed, with a short reason each.
type SyncAuditEntry struct {
	ID          string
	MemberID    string
	Source      Source
	RangeStart  string
	RangeEnd    string
	Categories  []string
	Unavailable map[string]string
	StartedAt   time.Time
	FinishedAt  time.Time
}

type SyncAuditStore interface {
	Append(ctx context.Context, entry SyncAuditEntry) (SyncAuditEntry, error)
	ListByMember(ctx context.Context, memberID string, limit int) ([]SyncAuditEntry, error)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// WearableService is the facade surface the command, query, and transport
// layers program against.
type WearableService interface {
	Connect(ctx context.Context, req ConnectRequest) (ConnectResponse, error)
	CompleteCallback(ctx context.Context, req CallbackRequest) (CallbackCompletion, error)
	ConnectWithToken(ctx context.Context, req ConnectTokenRequest) (Integration, error)
	Disconnect(ctx context.Context, req DisconnectRequest) (Integration, error)
	ListIntegrations(ctx context.Context, member MemberRef) ([]Integration, error)
	GetIntegration(ctx context.Context, member MemberRef, source Source) (Integration, bool, error)
	ResolveCredential(ctx context.Context, member MemberRef, source Source) (Integration, ActiveCredential, error)
	MarkIntegrationError(ctx context.Context, integrationID string, reason string) error
	MarkIntegrationSynced(ctx context.Context, integrationID string, at time.Time) error
	RecordSyncAudit(ctx context.Context, entry SyncAuditEntry) (SyncAuditEntry, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// Background sync jobs travel over the go-job queue through these contracts.

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

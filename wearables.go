package wearables

import "github.com/rebatewell/go-wearables/core"

type Config = core.Config

type HandshakeConfig = core.HandshakeConfig

type SyncConfig = core.SyncConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Source = core.Source
type MemberRef = core.MemberRef
type Integration = core.Integration
type IntegrationStatus = core.IntegrationStatus
type ActiveCredential = core.ActiveCredential
type SyncAuditEntry = core.SyncAuditEntry
type HandshakeProvider = core.HandshakeProvider
type HandshakeSessionStore = core.HandshakeSessionStore
type TokenVerifier = core.TokenVerifier
type Registry = core.Registry
type IntegrationStore = core.IntegrationStore
type SyncAuditStore = core.SyncAuditStore
type SecretProvider = core.SecretProvider
type CredentialCodec = core.CredentialCodec

type ConnectRequest = core.ConnectRequest
type ConnectResponse = core.ConnectResponse

type CallbackRequest = core.CallbackRequest
type CallbackCompletion = core.CallbackCompletion

type ConnectTokenRequest = core.ConnectTokenRequest

type DisconnectRequest = core.DisconnectRequest

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorFactory          = core.WithErrorFactory
	WithErrorMapper           = core.WithErrorMapper
	WithSecretProvider        = core.WithSecretProvider
	WithPersistenceClient     = core.WithPersistenceClient
	WithRepositoryFactory     = core.WithRepositoryFactory
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithHandshakeSessionStore = core.WithHandshakeSessionStore
	WithRegistry              = core.WithRegistry
	WithIntegrationStore      = core.WithIntegrationStore
	WithSyncAuditStore        = core.WithSyncAuditStore
	WithCredentialCodec       = core.WithCredentialCodec
	WithTokenVerifier         = core.WithTokenVerifier
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}

package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// StoreProvider hands the service its persistence collaborators once a
// repository factory has built them against a live database handle.
type StoreProvider interface {
	IntegrationStore() IntegrationStore
	SyncAuditStore() SyncAuditStore
}

type RepositoryStoreFactory interface {
	BuildStores(client any) (StoreProvider, error)
}

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	secretProvider    SecretProvider
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	sessionStore      HandshakeSessionStore
	registry          Registry
	integrationStore  IntegrationStore
	syncAuditStore    SyncAuditStore
	credentialCodec   CredentialCodec
	tokenVerifiers    map[Source]TokenVerifier
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	SecretProvider    SecretProvider
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	SessionStore      HandshakeSessionStore
	Registry          Registry
	IntegrationStore  IntegrationStore
	SyncAuditStore    SyncAuditStore
	CredentialCodec   CredentialCodec
}

func NewService(cfg Config, options ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("wearables", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("wearables"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	} else {
		builder.metricsRecorder = NewTaggedMetricsRecorder(builder.metricsRecorder, map[string]string{
			"subsystem": "wearables",
		})
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewSourceRegistry()
	}
	if builder.credentialCodec == nil {
		builder.credentialCodec = JSONCredentialCodec{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.sessionStore == nil {
		builder.sessionStore = NewMemoryHandshakeSessionStore(finalConfig.Handshake.SessionTTL())
	}

	if (builder.integrationStore == nil || builder.syncAuditStore == nil) && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if stores != nil {
				if builder.integrationStore == nil {
					builder.integrationStore = stores.IntegrationStore()
				}
				if builder.syncAuditStore == nil {
					builder.syncAuditStore = stores.SyncAuditStore()
				}
			}
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			if builder.integrationStore == nil {
				builder.integrationStore = stores.IntegrationStore()
			}
			if builder.syncAuditStore == nil {
				builder.syncAuditStore = stores.SyncAuditStore()
			}
		}
	}

	verifiers := make(map[Source]TokenVerifier, len(builder.tokenVerifiers))
	for _, verifier := range builder.tokenVerifiers {
		if verifier == nil {
			continue
		}
		source, parseErr := ParseSource(string(verifier.ID()))
		if parseErr != nil {
			return nil, mapBuildError(builder.errorMapper, parseErr)
		}
		verifiers[source] = verifier
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		secretProvider:    builder.secretProvider,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		sessionStore:      builder.sessionStore,
		registry:          builder.registry,
		integrationStore:  builder.integrationStore,
		syncAuditStore:    builder.syncAuditStore,
		credentialCodec:   builder.credentialCodec,
		tokenVerifiers:    verifiers,
	}, nil
}

func Setup(cfg Config, options ...Option) (*Service, error) {
	return NewService(cfg, options...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		SecretProvider:    s.secretProvider,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		SessionStore:      s.sessionStore,
		Registry:          s.registry,
		IntegrationStore:  s.integrationStore,
		SyncAuditStore:    s.syncAuditStore,
		CredentialCodec:   s.credentialCodec,
	}
}

// ConnectRequest starts the redirect handshake for one member and source.
type ConnectRequest struct {
	Source      Source
	Member      MemberRef
	CallbackURL string
	Metadata    map[string]any
}

// ConnectResponse carries the provider authorize URL and the session nonce
// the caller must echo back on the callback.
type ConnectResponse struct {
	AuthorizeURL string
	SessionNonce string
	RequestToken string
}

func (s *Service) Connect(ctx context.Context, req ConnectRequest) (response ConnectResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"source":    req.Source,
		"member_id": req.Member.ID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "connect", err, fields)
	}()

	if err = req.Member.Validate(); err != nil {
		err = s.mapError(err)
		return ConnectResponse{}, err
	}
	source, parseErr := ParseSource(string(req.Source))
	if parseErr != nil {
		err = s.mapError(parseErr)
		return ConnectResponse{}, err
	}

	provider, err := s.resolveProvider(source)
	if err != nil {
		return ConnectResponse{}, err
	}

	began, beginErr := provider.BeginAuthorization(ctx, BeginAuthorizationRequest{
		Source:      source,
		Member:      req.Member,
		CallbackURL: strings.TrimSpace(req.CallbackURL),
		Metadata:    copyAnyMap(req.Metadata),
	})
	if beginErr != nil {
		err = s.mapError(beginErr)
		return ConnectResponse{}, err
	}

	nonce, nonceErr := GenerateSessionNonce()
	if nonceErr != nil {
		err = s.mapError(nonceErr)
		return ConnectResponse{}, err
	}

	if s.sessionStore != nil {
		now := time.Now().UTC()
		saveErr := s.sessionStore.Put(ctx, HandshakeSession{
			Nonce:              nonce,
			Source:             source,
			MemberID:           strings.TrimSpace(req.Member.ID),
			RequestToken:       began.RequestToken,
			RequestTokenSecret: began.RequestTokenSecret,
			CreatedAt:          now,
			ExpiresAt:          now.Add(s.config.Handshake.SessionTTL()),
		})
		if saveErr != nil {
			err = s.mapError(saveErr)
			return ConnectResponse{}, err
		}
	}

	if s.integrationStore != nil {
		existing, found, findErr := s.integrationStore.FindByMemberAndSource(ctx, req.Member.ID, source)
		if findErr != nil {
			err = s.mapError(findErr)
			return ConnectResponse{}, err
		}
		// An active link stays active while the member re-runs the handshake;
		// only a missing or errored link is (re)staged as pending.
		if !found || existing.Status == IntegrationStatusError {
			if _, upsertErr := s.integrationStore.Upsert(ctx, UpsertIntegrationInput{
				Member: req.Member,
				Source: source,
				Status: IntegrationStatusPending,
			}); upsertErr != nil {
				err = s.mapError(upsertErr)
				return ConnectResponse{}, err
			}
		}
	}

	response = ConnectResponse{
		AuthorizeURL: began.AuthorizeURL,
		SessionNonce: nonce,
		RequestToken: began.RequestToken,
	}
	return response, nil
}

// CallbackRequest carries the parsed provider callback parameters plus the
// session nonce echoed back by the member's browser.
type CallbackRequest struct {
	Source       Source
	SessionNonce string
	RequestToken string
	Verifier     string
	Metadata     map[string]any
}

type CallbackCompletion struct {
	Integration       Integration
	ExternalAccountID string
}

func (s *Service) CompleteCallback(ctx context.Context, req CallbackRequest) (completion CallbackCompletion, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"source": req.Source,
	}
	defer func() {
		if completion.Integration.ID != "" {
			fields["integration_id"] = completion.Integration.ID
		}
		s.observeOperation(ctx, startedAt, "complete_callback", err, fields)
	}()

	if strings.TrimSpace(req.RequestToken) == "" || strings.TrimSpace(req.Verifier) == "" {
		err = s.mapError(fmt.Errorf("%w: oauth_token and oauth_verifier are required", ErrMissingParams))
		return CallbackCompletion{}, err
	}
	if s.sessionStore == nil {
		err = s.mapError(fmt.Errorf("core: handshake session store is not configured"))
		return CallbackCompletion{}, err
	}

	// The session is consumed before any validation so a replayed callback
	// fails even when the first attempt did not finish.
	session, takeErr := s.sessionStore.TakeOnce(ctx, req.SessionNonce)
	if takeErr != nil {
		err = s.mapError(takeErr)
		return CallbackCompletion{}, err
	}
	fields["member_id"] = session.MemberID

	if req.Source != "" && session.Source != req.Source {
		err = s.mapError(fmt.Errorf("%w: callback source %q does not match session", ErrTokenMismatch, req.Source))
		return CallbackCompletion{}, err
	}
	if strings.TrimSpace(req.RequestToken) != strings.TrimSpace(session.RequestToken) {
		err = s.mapError(fmt.Errorf("%w: oauth_token does not match session", ErrTokenMismatch))
		return CallbackCompletion{}, err
	}

	provider, err := s.resolveProvider(session.Source)
	if err != nil {
		return CallbackCompletion{}, err
	}

	result, exchangeErr := provider.CompleteAuthorization(ctx, CompleteAuthorizationRequest{
		Source:             session.Source,
		Member:             MemberRef{ID: session.MemberID},
		RequestToken:       session.RequestToken,
		RequestTokenSecret: session.RequestTokenSecret,
		Verifier:           strings.TrimSpace(req.Verifier),
		Metadata:           copyAnyMap(req.Metadata),
	})
	if exchangeErr != nil {
		err = s.mapError(exchangeErr)
		return CallbackCompletion{}, err
	}

	integration, storeErr := s.storeActiveCredential(ctx, MemberRef{ID: session.MemberID}, session.Source, result.Credential)
	if storeErr != nil {
		err = s.mapError(storeErr)
		return CallbackCompletion{}, err
	}

	completion = CallbackCompletion{
		Integration:       integration,
		ExternalAccountID: result.ExternalAccountID,
	}
	return completion, nil
}

// ConnectTokenRequest links a source through a member-supplied token instead
// of the redirect handshake. The token is verified against the provider
// before it is accepted.
type ConnectTokenRequest struct {
	Source   Source
	Member   MemberRef
	Token    string
	Metadata map[string]any
}

func (s *Service) ConnectWithToken(ctx context.Context, req ConnectTokenRequest) (integration Integration, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"source":    req.Source,
		"member_id": req.Member.ID,
	}
	defer func() {
		if integration.ID != "" {
			fields["integration_id"] = integration.ID
		}
		s.observeOperation(ctx, startedAt, "connect_with_token", err, fields)
	}()

	if err = req.Member.Validate(); err != nil {
		err = s.mapError(err)
		return Integration{}, err
	}
	source, parseErr := ParseSource(string(req.Source))
	if parseErr != nil {
		err = s.mapError(parseErr)
		return Integration{}, err
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		err = s.mapError(fmt.Errorf("%w: token is required", ErrMissingParams))
		return Integration{}, err
	}

	verifier, ok := s.tokenVerifiers[source]
	if !ok {
		err = s.mapError(fmt.Errorf("%w: %s does not accept token connect", ErrSourceNotRegistered, source))
		return Integration{}, err
	}
	externalAccountID, verifyErr := verifier.VerifyToken(ctx, token)
	if verifyErr != nil {
		err = s.mapError(verifyErr)
		return Integration{}, err
	}

	integration, storeErr := s.storeActiveCredential(ctx, req.Member, source, ActiveCredential{
		TokenType:         TokenTypeBearer,
		AccessToken:       token,
		ExternalAccountID: externalAccountID,
		Metadata:          copyAnyMap(req.Metadata),
	})
	if storeErr != nil {
		err = s.mapError(storeErr)
		return Integration{}, err
	}
	return integration, nil
}

type DisconnectRequest struct {
	Source Source
	Member MemberRef
	Reason string
}

func (s *Service) Disconnect(ctx context.Context, req DisconnectRequest) (integration Integration, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"source":    req.Source,
		"member_id": req.Member.ID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	if err = req.Member.Validate(); err != nil {
		err = s.mapError(err)
		return Integration{}, err
	}
	source, parseErr := ParseSource(string(req.Source))
	if parseErr != nil {
		err = s.mapError(parseErr)
		return Integration{}, err
	}
	if s.integrationStore == nil {
		err = s.mapError(fmt.Errorf("core: integration store is not configured"))
		return Integration{}, err
	}

	existing, found, findErr := s.integrationStore.FindByMemberAndSource(ctx, req.Member.ID, source)
	if findErr != nil {
		err = s.mapError(findErr)
		return Integration{}, err
	}
	if !found {
		err = s.mapError(fmt.Errorf("%w: %s for member %s", ErrNotConnected, source, req.Member.ID))
		return Integration{}, err
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "disconnected by member"
	}
	if markErr := s.integrationStore.MarkStatus(ctx, existing.ID, IntegrationStatusRevoked, reason); markErr != nil {
		err = s.mapError(markErr)
		return Integration{}, err
	}

	existing.Status = IntegrationStatusRevoked
	existing.LastError = reason
	fields["integration_id"] = existing.ID
	return existing, nil
}

func (s *Service) ListIntegrations(ctx context.Context, member MemberRef) ([]Integration, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is not configured")
	}
	if err := member.Validate(); err != nil {
		return nil, s.mapError(err)
	}
	if s.integrationStore == nil {
		return nil, s.mapError(fmt.Errorf("core: integration store is not configured"))
	}
	integrations, err := s.integrationStore.ListByMember(ctx, member.ID)
	if err != nil {
		return nil, s.mapError(err)
	}
	return integrations, nil
}

func (s *Service) GetIntegration(ctx context.Context, member MemberRef, source Source) (Integration, bool, error) {
	if s == nil || s.integrationStore == nil {
		return Integration{}, false, fmt.Errorf("core: integration store is not configured")
	}
	if err := member.Validate(); err != nil {
		return Integration{}, false, s.mapError(err)
	}
	parsed, err := ParseSource(string(source))
	if err != nil {
		return Integration{}, false, s.mapError(err)
	}
	integration, found, err := s.integrationStore.FindByMemberAndSource(ctx, member.ID, parsed)
	if err != nil {
		return Integration{}, false, s.mapError(err)
	}
	return integration, found, nil
}

// ResolveCredential loads and decrypts the active credential for one member
// and source. Callers hold the result in memory only.
func (s *Service) ResolveCredential(ctx context.Context, member MemberRef, source Source) (Integration, ActiveCredential, error) {
	if s == nil || s.integrationStore == nil {
		return Integration{}, ActiveCredential{}, fmt.Errorf("core: integration store is not configured")
	}
	integration, found, err := s.GetIntegration(ctx, member, source)
	if err != nil {
		return Integration{}, ActiveCredential{}, err
	}
	if !found || integration.Status != IntegrationStatusActive {
		return Integration{}, ActiveCredential{}, s.mapError(
			fmt.Errorf("%w: %s for member %s", ErrNotConnected, source, member.ID),
		)
	}

	credential, err := s.decodeStoredCredential(ctx, integration)
	if err != nil {
		return Integration{}, ActiveCredential{}, s.mapError(err)
	}
	return integration, credential, nil
}

// MarkIntegrationError transitions the integration to error with the failure
// reason. Used by the sync path when a provider rejects the credential.
func (s *Service) MarkIntegrationError(ctx context.Context, integrationID string, reason string) error {
	if s == nil || s.integrationStore == nil {
		return fmt.Errorf("core: integration store is not configured")
	}
	if err := s.integrationStore.MarkStatus(ctx, integrationID, IntegrationStatusError, reason); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) MarkIntegrationSynced(ctx context.Context, integrationID string, at time.Time) error {
	if s == nil || s.integrationStore == nil {
		return fmt.Errorf("core: integration store is not configured")
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if err := s.integrationStore.MarkSynced(ctx, integrationID, at); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) RecordSyncAudit(ctx context.Context, entry SyncAuditEntry) (SyncAuditEntry, error) {
	if s == nil || s.syncAuditStore == nil {
		return entry, nil
	}
	saved, err := s.syncAuditStore.Append(ctx, entry)
	if err != nil {
		return SyncAuditEntry{}, s.mapError(err)
	}
	return saved, nil
}

// ResolveMemberByExternalAccount finds the member whose active integration
// for source carries the given provider-side account id. Webhook ingestion
// uses it to route push notifications; the provider only knows its own user
// id, never the platform member id.
func (s *Service) ResolveMemberByExternalAccount(ctx context.Context, source Source, externalAccountID string) (MemberRef, bool, error) {
	if s == nil || s.integrationStore == nil {
		return MemberRef{}, false, fmt.Errorf("core: integration store is not configured")
	}
	parsed, err := ParseSource(string(source))
	if err != nil {
		return MemberRef{}, false, s.mapError(err)
	}
	account := strings.TrimSpace(externalAccountID)
	if account == "" {
		return MemberRef{}, false, s.mapError(fmt.Errorf("%w: external account id is required", ErrMissingParams))
	}

	integrations, err := s.integrationStore.ListActiveBySource(ctx, parsed)
	if err != nil {
		return MemberRef{}, false, s.mapError(err)
	}
	for _, integration := range integrations {
		credential, decodeErr := s.decodeStoredCredential(ctx, integration)
		if decodeErr != nil {
			// One unreadable credential must not block routing for the rest.
			s.logError(ctx, "skipping unreadable credential during account resolution", map[string]any{
				"integration_id": integration.ID,
				"source":         string(parsed),
				"error":          decodeErr.Error(),
			})
			continue
		}
		if strings.TrimSpace(credential.ExternalAccountID) == account {
			return MemberRef{ID: integration.MemberID}, true, nil
		}
	}
	return MemberRef{}, false, nil
}

func (s *Service) storeActiveCredential(
	ctx context.Context,
	member MemberRef,
	source Source,
	credential ActiveCredential,
) (Integration, error) {
	if s.integrationStore == nil {
		return Integration{}, fmt.Errorf("core: integration store is not configured")
	}
	codec := s.credentialCodec
	if codec == nil {
		codec = JSONCredentialCodec{}
	}

	encoded, err := codec.Encode(credential)
	if err != nil {
		return Integration{}, err
	}
	payload := encoded
	if s.secretProvider != nil {
		payload, err = s.secretProvider.Encrypt(ctx, encoded)
		if err != nil {
			return Integration{}, fmt.Errorf("core: encrypt credential: %w", err)
		}
	}

	return s.integrationStore.Upsert(ctx, UpsertIntegrationInput{
		Member:              member,
		Source:              source,
		Status:              IntegrationStatusActive,
		EncryptedCredential: payload,
		CredentialFormat:    codec.Format(),
		CredentialVersion:   codec.Version(),
	})
}

func (s *Service) decodeStoredCredential(ctx context.Context, integration Integration) (ActiveCredential, error) {
	if len(integration.EncryptedCredential) == 0 {
		return ActiveCredential{}, fmt.Errorf("%w: integration has no credential", ErrCredentialUnreadable)
	}
	payload := integration.EncryptedCredential
	if s.secretProvider != nil {
		decrypted, err := s.secretProvider.Decrypt(ctx, payload)
		if err != nil {
			return ActiveCredential{}, fmt.Errorf("%w: %v", ErrCredentialUnreadable, err)
		}
		payload = decrypted
	}
	codec := s.credentialCodec
	if codec == nil {
		codec = JSONCredentialCodec{}
	}
	return codec.Decode(payload)
}

func (s *Service) resolveProvider(source Source) (HandshakeProvider, error) {
	if s == nil || s.registry == nil {
		return nil, fmt.Errorf("%w: registry is not configured", ErrSourceNotRegistered)
	}
	provider, ok := s.registry.Get(source)
	if !ok {
		return nil, s.mapError(fmt.Errorf("%w: %s", ErrSourceNotRegistered, source))
	}
	return provider, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

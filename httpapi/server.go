// Package httpapi binds the wearables facade to HTTP. Routing and parsing
// live here; every decision about handshake sessions, credentials, and sync
// belongs to the core facade, the callback coordinator, and the aggregator.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/rebatewell/go-wearables/callback"
	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/sync"
	"github.com/rebatewell/go-wearables/webhooks"
)

// SyncRunner is the slice of the aggregator the sync endpoint needs.
type SyncRunner interface {
	SyncRecent(ctx context.Context, member core.MemberRef, source core.Source) (sync.Result, error)
}

// AuditReader serves the sync audit listing endpoint.
type AuditReader interface {
	ListByMember(ctx context.Context, memberID string, limit int) ([]core.SyncAuditEntry, error)
}

type Server struct {
	router      chi.Router
	service     core.WearableService
	coordinator *callback.Coordinator
	syncRunner  SyncRunner
	auditReader AuditReader
	webhooks    *webhooks.Processor
	logger      core.Logger
}

type Option func(*Server)

func WithSyncRunner(runner SyncRunner) Option {
	return func(s *Server) {
		s.syncRunner = runner
	}
}

func WithAuditReader(reader AuditReader) Option {
	return func(s *Server) {
		s.auditReader = reader
	}
}

func WithWebhookProcessor(processor *webhooks.Processor) Option {
	return func(s *Server) {
		s.webhooks = processor
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(service core.WearableService, coordinator *callback.Coordinator, options ...Option) (*Server, error) {
	if service == nil {
		return nil, errors.New("httpapi: service is required")
	}
	if coordinator == nil {
		return nil, errors.New("httpapi: callback coordinator is required")
	}

	server := &Server{
		service:     service,
		coordinator: coordinator,
		logger:      glog.Nop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(server)
	}
	server.logger = glog.Ensure(server.logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(server.accessLogger)
	router.Use(middleware.Recoverer)

	router.Route("/wearables", func(r chi.Router) {
		r.Get("/connect/{source}", server.handleConnect)
		r.Post("/connect/{source}/token", server.handleConnectToken)
		r.Get("/callback/{source}", server.handleCallback)

		r.Route("/integrations", func(r chi.Router) {
			r.Get("/", server.handleListIntegrations)
			r.Get("/{source}", server.handleGetIntegration)
			r.Delete("/{source}", server.handleDisconnect)
		})

		r.Post("/sync/{source}", server.handleSyncRecent)
		r.Get("/sync/audit", server.handleListSyncAudit)

		r.Post("/webhooks/{source}", server.handleWebhook)
	})

	server.router = router
	return server, nil
}

func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	member, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	response, err := s.service.Connect(r.Context(), core.ConnectRequest{
		Source:      core.Source(chi.URLParam(r, "source")),
		Member:      member,
		CallbackURL: strings.TrimSpace(r.URL.Query().Get("callback_url")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, connectPayload{
		AuthorizeURL: response.AuthorizeURL,
		SessionNonce: response.SessionNonce,
	})
}

func (s *Server) handleConnectToken(w http.ResponseWriter, r *http.Request) {
	var body connectTokenRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	integration, err := s.service.ConnectWithToken(r.Context(), core.ConnectTokenRequest{
		Source: core.Source(chi.URLParam(r, "source")),
		Member: core.MemberRef{ID: strings.TrimSpace(body.MemberID)},
		Token:  body.Token,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIntegrationPayload(integration))
}

// handleCallback always answers with a redirect back to the connect page.
// Raw provider errors never reach the member's browser; the coordinator
// collapses every failure into a reason code on the redirect query.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	outcome := s.coordinator.HandleCallback(r.Context(), callback.Params{
		Source:       chi.URLParam(r, "source"),
		SessionNonce: strings.TrimSpace(query.Get("nonce")),
		OAuthToken:   strings.TrimSpace(query.Get("oauth_token")),
		Verifier:     strings.TrimSpace(query.Get("oauth_verifier")),
		Denied:       isDenialParam(query.Get("error")),
	})
	http.Redirect(w, r, s.coordinator.RedirectTarget(outcome), http.StatusFound)
}

// isDenialParam reports whether the provider's error parameter means the
// member refused authorization. Other error values are provider-side
// failures and fall through to the missing-params and failure paths.
func isDenialParam(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "access_denied", "user_denied", "denied":
		return true
	}
	return false
}

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	member, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	integrations, err := s.service.ListIntegrations(r.Context(), member)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payload := make([]integrationPayload, 0, len(integrations))
	for _, integration := range integrations {
		payload = append(payload, toIntegrationPayload(integration))
	}
	writeJSON(w, http.StatusOK, integrationListPayload{Integrations: payload})
}

func (s *Server) handleGetIntegration(w http.ResponseWriter, r *http.Request) {
	member, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	integration, found, err := s.service.GetIntegration(r.Context(), member, core.Source(chi.URLParam(r, "source")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeErrorPayload(w, http.StatusNotFound, core.ServiceErrorNotConnected, "no integration for source")
		return
	}
	writeJSON(w, http.StatusOK, toIntegrationPayload(integration))
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	member, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	integration, err := s.service.Disconnect(r.Context(), core.DisconnectRequest{
		Source: core.Source(chi.URLParam(r, "source")),
		Member: member,
		Reason: strings.TrimSpace(r.URL.Query().Get("reason")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntegrationPayload(integration))
}

func (s *Server) handleSyncRecent(w http.ResponseWriter, r *http.Request) {
	if s.syncRunner == nil {
		writeErrorPayload(w, http.StatusNotImplemented, core.ServiceErrorInternal, "sync is not configured")
		return
	}
	member, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	result, err := s.syncRunner.SyncRecent(r.Context(), member, core.Source(chi.URLParam(r, "source")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncRunPayload(result))
}

func (s *Server) handleListSyncAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditReader == nil {
		writeErrorPayload(w, http.StatusNotImplemented, core.ServiceErrorInternal, "sync audit is not configured")
		return
	}
	member, ok := s.requireMember(w, r)
	if !ok {
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"))
	entries, err := s.auditReader.ListByMember(r.Context(), member.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payload := make([]syncAuditPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, toSyncAuditPayload(entry))
	}
	writeJSON(w, http.StatusOK, syncAuditListPayload{Entries: payload})
}

// handleWebhook hands the raw delivery to the webhook processor. Providers
// retry on non-2xx, so the outcome's status code is authoritative: dedupes
// and coalesced bursts still answer 200.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeErrorPayload(w, http.StatusNotImplemented, core.ServiceErrorInternal, "webhook ingestion is not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeErrorPayload(w, http.StatusRequestEntityTooLarge, core.ServiceErrorBadInput, "webhook payload too large")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	outcome, processErr := s.webhooks.Process(r.Context(), webhooks.Delivery{
		Source:  core.Source(chi.URLParam(r, "source")),
		Headers: headers,
		Body:    body,
	})
	if processErr != nil {
		s.logger.WithContext(r.Context()).Error("webhook delivery rejected",
			"source", chi.URLParam(r, "source"),
			"status", outcome.StatusCode,
			"error", processErr.Error(),
		)
	}
	status := outcome.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, webhookPayload{
		Accepted:   outcome.Accepted,
		DeliveryID: outcome.DeliveryID,
		Deduped:    outcome.Deduped,
		Syncs:      outcome.Syncs,
		Skipped:    outcome.Skipped,
	})
}

func (s *Server) requireMember(w http.ResponseWriter, r *http.Request) (core.MemberRef, bool) {
	member := core.MemberRef{ID: strings.TrimSpace(r.URL.Query().Get("member_id"))}
	if member.ID == "" {
		writeErrorPayload(w, http.StatusBadRequest, core.ServiceErrorBadInput, "member_id is required")
		return core.MemberRef{}, false
	}
	return member, true
}

func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.logger.WithContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
	})
}

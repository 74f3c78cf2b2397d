// Package callback holds the decision logic for inbound provider redirects.
// The HTTP binding parses the request; this package turns parsed parameters
// into a structured outcome with a reason code and a redirect target. It
// never surfaces raw provider errors to the redirect.
package callback

import (
	"context"
	"errors"
	"net/url"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/rebatewell/go-wearables/core"
)

type ReasonCode string

const (
	ReasonDenied         ReasonCode = "denied"
	ReasonMissingParams  ReasonCode = "missing_params"
	ReasonSessionExpired ReasonCode = "session_expired"
	ReasonTokenMismatch  ReasonCode = "token_mismatch"
	ReasonCallbackFailed ReasonCode = "callback_failed"
)

// Params are the already-parsed callback inputs. Denied is set when the
// provider signaled explicit user denial instead of returning a token.
type Params struct {
	Source       string
	SessionNonce string
	OAuthToken   string
	Verifier     string
	Denied       bool
}

// Outcome is the structured terminal state of one callback attempt. Reason
// is empty exactly when Success is true.
type Outcome struct {
	Success           bool
	Source            core.Source
	Reason            ReasonCode
	Integration       core.Integration
	ExternalAccountID string
}

type Coordinator struct {
	service      core.WearableService
	sessionStore core.HandshakeSessionStore
	connectPage  string
	logger       core.Logger
}

type Option func(*Coordinator)

func WithSessionStore(store core.HandshakeSessionStore) Option {
	return func(c *Coordinator) {
		c.sessionStore = store
	}
}

func WithConnectPage(page string) Option {
	return func(c *Coordinator) {
		c.connectPage = strings.TrimSpace(page)
	}
}

func WithLogger(logger core.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func NewCoordinator(service core.WearableService, options ...Option) (*Coordinator, error) {
	if service == nil {
		return nil, errors.New("callback: service is required")
	}
	coordinator := &Coordinator{
		service:     service,
		connectPage: core.DefaultConfig().ConnectPage,
		logger:      glog.Nop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(coordinator)
	}
	coordinator.logger = glog.Ensure(coordinator.logger)
	return coordinator, nil
}

// HandleCallback walks the callback state machine. Every path is terminal:
// either success with the connected source or a failure reason code. The
// handshake session is burned on the first attempt regardless of outcome.
func (c *Coordinator) HandleCallback(ctx context.Context, params Params) Outcome {
	source, sourceErr := core.ParseSource(params.Source)
	outcome := Outcome{Source: source}

	if params.Denied {
		c.discardSession(ctx, params.SessionNonce)
		outcome.Reason = ReasonDenied
		c.logOutcome(ctx, params, outcome)
		return outcome
	}
	if sourceErr != nil ||
		strings.TrimSpace(params.OAuthToken) == "" ||
		strings.TrimSpace(params.Verifier) == "" {
		c.discardSession(ctx, params.SessionNonce)
		outcome.Reason = ReasonMissingParams
		c.logOutcome(ctx, params, outcome)
		return outcome
	}

	completion, err := c.service.CompleteCallback(ctx, core.CallbackRequest{
		Source:       source,
		SessionNonce: params.SessionNonce,
		RequestToken: params.OAuthToken,
		Verifier:     params.Verifier,
	})
	if err != nil {
		outcome.Reason = classifyCallbackError(err)
		c.logOutcome(ctx, params, outcome)
		return outcome
	}

	outcome.Success = true
	outcome.Integration = completion.Integration
	outcome.ExternalAccountID = completion.ExternalAccountID
	c.logOutcome(ctx, params, outcome)
	return outcome
}

// RedirectTarget maps an outcome onto the connect page with either
// connected=<source> or error=<reason>.
func (c *Coordinator) RedirectTarget(outcome Outcome) string {
	page := c.connectPage
	if page == "" {
		page = core.DefaultConfig().ConnectPage
	}

	values := url.Values{}
	if outcome.Success {
		values.Set("connected", string(outcome.Source))
	} else {
		reason := outcome.Reason
		if reason == "" {
			reason = ReasonCallbackFailed
		}
		values.Set("error", string(reason))
	}

	separator := "?"
	if strings.Contains(page, "?") {
		separator = "&"
	}
	return page + separator + values.Encode()
}

func (c *Coordinator) discardSession(ctx context.Context, nonce string) {
	if c == nil || c.sessionStore == nil || strings.TrimSpace(nonce) == "" {
		return
	}
	_, _ = c.sessionStore.TakeOnce(ctx, nonce)
}

func (c *Coordinator) logOutcome(ctx context.Context, params Params, outcome Outcome) {
	if c == nil || c.logger == nil {
		return
	}
	logger := c.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if outcome.Success {
		logger.Info("wearable callback completed",
			"source", string(outcome.Source),
			"integration_id", outcome.Integration.ID,
		)
		return
	}
	logger.Info("wearable callback rejected",
		"source", strings.TrimSpace(params.Source),
		"reason", string(outcome.Reason),
	)
}

// classifyCallbackError maps service errors to reason codes, branching on
// the sentinel chain first and the error envelope text code second.
func classifyCallbackError(err error) ReasonCode {
	switch {
	case errors.Is(err, core.ErrSessionExpired):
		return ReasonSessionExpired
	case errors.Is(err, core.ErrTokenMismatch):
		return ReasonTokenMismatch
	case errors.Is(err, core.ErrMissingParams):
		return ReasonMissingParams
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.TextCode {
		case core.ServiceErrorSessionExpired:
			return ReasonSessionExpired
		case core.ServiceErrorTokenMismatch:
			return ReasonTokenMismatch
		case core.ServiceErrorBadInput:
			return ReasonMissingParams
		}
	}
	return ReasonCallbackFailed
}

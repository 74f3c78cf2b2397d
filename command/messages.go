package command

import (
	"strings"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

const (
	TypeConnect          = "wearables.command.connect"
	TypeCompleteCallback = "wearables.command.callback.complete"
	TypeConnectToken     = "wearables.command.connect_token"
	TypeDisconnect       = "wearables.command.disconnect"
	TypeMarkError        = "wearables.command.integration.mark_error"
	TypeMarkSynced       = "wearables.command.integration.mark_synced"
	TypeSyncRecent       = "wearables.command.sync.recent"
)

type ConnectMessage struct {
	Request core.ConnectRequest
}

func (ConnectMessage) Type() string { return TypeConnect }

func (m ConnectMessage) Validate() error {
	if err := validateMember(m.Request.Member); err != nil {
		return err
	}
	return validateSource(m.Request.Source)
}

type CompleteCallbackMessage struct {
	Request core.CallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if err := validateSource(m.Request.Source); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.SessionNonce) == "" {
		return commandValidationError("session_nonce", "session nonce is required")
	}
	if strings.TrimSpace(m.Request.RequestToken) == "" {
		return commandValidationError("request_token", "request token is required")
	}
	if strings.TrimSpace(m.Request.Verifier) == "" {
		return commandValidationError("verifier", "verifier is required")
	}
	return nil
}

type ConnectTokenMessage struct {
	Request core.ConnectTokenRequest
}

func (ConnectTokenMessage) Type() string { return TypeConnectToken }

func (m ConnectTokenMessage) Validate() error {
	if err := validateMember(m.Request.Member); err != nil {
		return err
	}
	if err := validateSource(m.Request.Source); err != nil {
		return err
	}
	if strings.TrimSpace(m.Request.Token) == "" {
		return commandValidationError("token", "token is required")
	}
	return nil
}

type DisconnectMessage struct {
	Request core.DisconnectRequest
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if err := validateMember(m.Request.Member); err != nil {
		return err
	}
	return validateSource(m.Request.Source)
}

type MarkIntegrationErrorMessage struct {
	IntegrationID string
	Reason        string
}

func (MarkIntegrationErrorMessage) Type() string { return TypeMarkError }

func (m MarkIntegrationErrorMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return commandValidationError("integration_id", "integration id is required")
	}
	if strings.TrimSpace(m.Reason) == "" {
		return commandValidationError("reason", "reason is required")
	}
	return nil
}

type MarkIntegrationSyncedMessage struct {
	IntegrationID string
	At            time.Time
}

func (MarkIntegrationSyncedMessage) Type() string { return TypeMarkSynced }

func (m MarkIntegrationSyncedMessage) Validate() error {
	if strings.TrimSpace(m.IntegrationID) == "" {
		return commandValidationError("integration_id", "integration id is required")
	}
	if m.At.IsZero() {
		return commandValidationError("at", "sync timestamp is required")
	}
	return nil
}

type SyncRecentMessage struct {
	Member core.MemberRef
	Source core.Source
}

func (SyncRecentMessage) Type() string { return TypeSyncRecent }

func (m SyncRecentMessage) Validate() error {
	if err := validateMember(m.Member); err != nil {
		return err
	}
	return validateSource(m.Source)
}

func validateMember(member core.MemberRef) error {
	if err := member.Validate(); err != nil {
		return commandWrapValidation(err, "command: invalid member")
	}
	return nil
}

func validateSource(source core.Source) error {
	if _, err := core.ParseSource(string(source)); err != nil {
		return commandWrapValidation(err, "command: invalid source")
	}
	return nil
}

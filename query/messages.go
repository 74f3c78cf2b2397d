package query

import (
	"strings"

	"github.com/rebatewell/go-wearables/core"
)

const (
	TypeListIntegrations = "wearables.query.integration.list"
	TypeGetIntegration   = "wearables.query.integration.get"
	TypeListSyncAudit    = "wearables.query.sync_audit.list"
)

type ListIntegrationsMessage struct {
	Member core.MemberRef
}

func (ListIntegrationsMessage) Type() string { return TypeListIntegrations }

func (m ListIntegrationsMessage) Validate() error {
	return validateMember(m.Member)
}

type GetIntegrationMessage struct {
	Member core.MemberRef
	Source core.Source
}

func (GetIntegrationMessage) Type() string { return TypeGetIntegration }

func (m GetIntegrationMessage) Validate() error {
	if err := validateMember(m.Member); err != nil {
		return err
	}
	if _, err := core.ParseSource(string(m.Source)); err != nil {
		return queryWrapValidation(err, "query: invalid source")
	}
	return nil
}

type ListSyncAuditMessage struct {
	Member core.MemberRef
	Limit  int
}

func (ListSyncAuditMessage) Type() string { return TypeListSyncAudit }

func (m ListSyncAuditMessage) Validate() error {
	if err := validateMember(m.Member); err != nil {
		return err
	}
	if m.Limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	return nil
}

func validateMember(member core.MemberRef) error {
	if strings.TrimSpace(member.ID) == "" {
		return queryValidationError("member_id", "member id is required")
	}
	return nil
}

package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/rebatewell/go-wearables/core"
)

var (
	_ gocmd.Querier[ListIntegrationsMessage, []core.Integration] = (*ListIntegrationsQuery)(nil)
	_ gocmd.Querier[GetIntegrationMessage, IntegrationLookup]    = (*GetIntegrationQuery)(nil)
	_ gocmd.Querier[ListSyncAuditMessage, []core.SyncAuditEntry] = (*ListSyncAuditQuery)(nil)
)

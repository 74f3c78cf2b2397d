package sqlstore

import "github.com/rebatewell/go-wearables/core"

var (
	_ core.IntegrationStore       = (*IntegrationStore)(nil)
	_ core.SyncAuditStore         = (*SyncAuditStore)(nil)
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)

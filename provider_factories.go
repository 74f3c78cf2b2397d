package wearables

import (
	"github.com/uptrace/bun"

	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/providers/garmin"
	"github.com/rebatewell/go-wearables/providers/oura"
	storesql "github.com/rebatewell/go-wearables/store/sql"
	"github.com/rebatewell/go-wearables/sync"
)

func GarminProvider(cfg garmin.Config) (core.HandshakeProvider, error) {
	return garmin.New(cfg)
}

// OuraClient serves double duty: it verifies member-supplied tokens during
// connect and fetches category data for the aggregator.
func OuraClient(cfg oura.Config) (*oura.Client, error) {
	return oura.NewClient(cfg)
}

func OuraTokenVerifier(cfg oura.Config) (core.TokenVerifier, error) {
	return oura.NewClient(cfg)
}

func OuraDataClient(cfg oura.Config) (sync.DataClient, error) {
	return oura.NewClient(cfg)
}

// SQLStores builds the bun-backed integration and sync audit stores for the
// given database handle and returns the options that install them.
func SQLStores(db *bun.DB) ([]Option, error) {
	factory, err := storesql.NewRepositoryFactoryFromDB(db)
	if err != nil {
		return nil, err
	}
	return []Option{
		WithIntegrationStore(factory.IntegrationStore()),
		WithSyncAuditStore(factory.SyncAuditStore()),
	}, nil
}

package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ConnectMessage]               = (*ConnectCommand)(nil)
	_ gocmd.Commander[CompleteCallbackMessage]      = (*CompleteCallbackCommand)(nil)
	_ gocmd.Commander[ConnectTokenMessage]          = (*ConnectTokenCommand)(nil)
	_ gocmd.Commander[DisconnectMessage]            = (*DisconnectCommand)(nil)
	_ gocmd.Commander[MarkIntegrationErrorMessage]  = (*MarkIntegrationErrorCommand)(nil)
	_ gocmd.Commander[MarkIntegrationSyncedMessage] = (*MarkIntegrationSyncedCommand)(nil)
	_ gocmd.Commander[SyncRecentMessage]            = (*SyncRecentCommand)(nil)
)

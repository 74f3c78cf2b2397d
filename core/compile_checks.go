package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ Registry              = (*SourceRegistry)(nil)
	_ HandshakeSessionStore = (*MemoryHandshakeSessionStore)(nil)
	_ WearableService       = (*Service)(nil)

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)

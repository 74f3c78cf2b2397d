package wearables

import (
	"fmt"
	"reflect"

	wearablescommand "github.com/rebatewell/go-wearables/command"
	"github.com/rebatewell/go-wearables/core"
	wearablesquery "github.com/rebatewell/go-wearables/query"
)

type CommandQueryService interface {
	wearablescommand.MutatingService
	wearablesquery.IntegrationReader
}

type Commands struct {
	Connect          *wearablescommand.ConnectCommand
	CompleteCallback *wearablescommand.CompleteCallbackCommand
	ConnectToken     *wearablescommand.ConnectTokenCommand
	Disconnect       *wearablescommand.DisconnectCommand
	MarkError        *wearablescommand.MarkIntegrationErrorCommand
	MarkSynced       *wearablescommand.MarkIntegrationSyncedCommand

	// SyncRecent is only wired when a sync runner is supplied; the facade
	// service itself does not run aggregations.
	SyncRecent *wearablescommand.SyncRecentCommand
}

type Queries struct {
	ListIntegrations *wearablesquery.ListIntegrationsQuery
	GetIntegration   *wearablesquery.GetIntegrationQuery

	// ListSyncAudit stays nil when no audit reader can be resolved from the
	// service dependencies or the facade options.
	ListSyncAudit *wearablesquery.ListSyncAuditQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	auditReader wearablesquery.SyncAuditReader
	syncRunner  wearablescommand.SyncMutatingService
}

func WithAuditReader(reader wearablesquery.SyncAuditReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

func WithSyncRunner(runner wearablescommand.SyncMutatingService) FacadeOption {
	return func(options *facadeOptions) {
		options.syncRunner = runner
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("wearables: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.auditReader
	if reader == nil {
		reader = resolveAuditReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Connect:          wearablescommand.NewConnectCommand(service),
		CompleteCallback: wearablescommand.NewCompleteCallbackCommand(service),
		ConnectToken:     wearablescommand.NewConnectTokenCommand(service),
		Disconnect:       wearablescommand.NewDisconnectCommand(service),
		MarkError:        wearablescommand.NewMarkIntegrationErrorCommand(service),
		MarkSynced:       wearablescommand.NewMarkIntegrationSyncedCommand(service),
	}
	if cfg.syncRunner != nil {
		facade.commands.SyncRecent = wearablescommand.NewSyncRecentCommand(cfg.syncRunner)
	}
	facade.queries = Queries{
		ListIntegrations: wearablesquery.NewListIntegrationsQuery(service),
		GetIntegration:   wearablesquery.NewGetIntegrationQuery(service),
	}
	if reader != nil {
		facade.queries.ListSyncAudit = wearablesquery.NewListSyncAuditQuery(reader)
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveAuditReader walks the service's dependency surface for a sync audit
// store: a direct implementation, the typed dependency field, then an
// untyped repository factory probed by method name.
func resolveAuditReader(service CommandQueryService) wearablesquery.SyncAuditReader {
	if service == nil {
		return nil
	}
	if reader, ok := service.(wearablesquery.SyncAuditReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	deps := provider.Dependencies()
	if deps.SyncAuditStore != nil {
		return deps.SyncAuditStore
	}
	if deps.RepositoryFactory == nil {
		return nil
	}

	factoryValue := reflect.ValueOf(deps.RepositoryFactory)
	if !factoryValue.IsValid() {
		return nil
	}
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return nil
	}
	method := factoryValue.MethodByName("SyncAuditStore")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok {
		return nil
	}
	if len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	reader, ok := candidate.Interface().(wearablesquery.SyncAuditReader)
	if !ok {
		return nil
	}
	return reader
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}

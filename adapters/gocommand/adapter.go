// Package gocommand bridges the wearables command and query wrappers onto
// the go-command registry and dispatcher. The wearables packages define the
// messages and handlers; this package owns registration, queue mirroring,
// and dispatch.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	wearablescmd "github.com/rebatewell/go-wearables/command"
	wearablesqry "github.com/rebatewell/go-wearables/query"
)

// ValidateMessageContract checks a wearables message satisfies the bus
// contract: a non-blank Type() plus Validate() when present.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// RegistryAdapter wraps a go-command registry so runtime wiring can attach
// queue resolvers before initialization.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so queued sync jobs resolve to the same handlers as direct dispatch.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// RegisterAndSubscribe registers a command with the registry and subscribes
// it on the dispatcher in one step, unsubscribing on registration failure.
func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// ServiceBundle holds every wearables command and query registered against
// one registry, with the dispatcher subscriptions needed to tear them down.
type ServiceBundle struct {
	adapter       *RegistryAdapter
	subscriptions []commanddispatcher.Subscription
}

type BundleOption func(*bundleConfig)

type bundleConfig struct {
	syncRunner  wearablescmd.SyncMutatingService
	auditReader wearablesqry.SyncAuditReader
}

// WithBundleSyncRunner registers the sync.recent command against the given
// aggregator surface.
func WithBundleSyncRunner(runner wearablescmd.SyncMutatingService) BundleOption {
	return func(cfg *bundleConfig) {
		cfg.syncRunner = runner
	}
}

func WithBundleAuditReader(reader wearablesqry.SyncAuditReader) BundleOption {
	return func(cfg *bundleConfig) {
		cfg.auditReader = reader
	}
}

// SubscribeServiceBundle wires the full wearables command/query surface:
// connect, callback completion, token connect, disconnect, the integration
// mark operations, and the integration queries. Optional pieces (sync
// runner, audit reader) register only when supplied.
func SubscribeServiceBundle(
	adapter *RegistryAdapter,
	mutating wearablescmd.MutatingService,
	reader wearablesqry.IntegrationReader,
	opts ...BundleOption,
) (*ServiceBundle, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if mutating == nil || reader == nil {
		return nil, fmt.Errorf("gocommand: mutating service and integration reader are required")
	}
	cfg := bundleConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	bundle := &ServiceBundle{adapter: adapter}
	fail := func(err error) (*ServiceBundle, error) {
		bundle.Unsubscribe()
		return nil, err
	}

	registrations := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewConnectCommand(mutating))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewCompleteCallbackCommand(mutating))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewConnectTokenCommand(mutating))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewDisconnectCommand(mutating))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewMarkIntegrationErrorCommand(mutating))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewMarkIntegrationSyncedCommand(mutating))
		},
	}
	if cfg.syncRunner != nil {
		registrations = append(registrations, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe(adapter, wearablescmd.NewSyncRecentCommand(cfg.syncRunner))
		})
	}
	registrations = append(registrations,
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery(adapter, wearablesqry.NewListIntegrationsQuery(reader))
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery(adapter, wearablesqry.NewGetIntegrationQuery(reader))
		},
	)
	if cfg.auditReader != nil {
		registrations = append(registrations, func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery(adapter, wearablesqry.NewListSyncAuditQuery(cfg.auditReader))
		})
	}

	for _, register := range registrations {
		subscription, err := register()
		if err != nil {
			return fail(err)
		}
		bundle.subscriptions = append(bundle.subscriptions, subscription)
	}
	return bundle, nil
}

func (b *ServiceBundle) Adapter() *RegistryAdapter {
	if b == nil {
		return nil
	}
	return b.adapter
}

// Unsubscribe detaches every bundle handler from the dispatcher. Registry
// entries stay; go-command has no unregister.
func (b *ServiceBundle) Unsubscribe() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

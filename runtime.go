package wearables

import (
	"context"
	"fmt"
	"time"

	jobqueue "github.com/goliatone/go-job/queue"

	"github.com/rebatewell/go-wearables/adapters/gocommand"
	"github.com/rebatewell/go-wearables/adapters/gojob"
	"github.com/rebatewell/go-wearables/adapters/gologger"
	"github.com/rebatewell/go-wearables/callback"
	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/httpapi"
	"github.com/rebatewell/go-wearables/providers/garmin"
	"github.com/rebatewell/go-wearables/providers/oura"
	"github.com/rebatewell/go-wearables/ratelimit"
	wearablesync "github.com/rebatewell/go-wearables/sync"
	"github.com/rebatewell/go-wearables/webhooks"
)

// RuntimeConfig assembles one fully wired wearables deployment: core
// service, providers, aggregator with throttle guard, callback coordinator,
// webhook ingestion, command/query bus, and the HTTP surface.
type RuntimeConfig struct {
	Service Config

	// Garmin enables the OAuth1 handshake provider when set.
	Garmin *garmin.Config
	// Oura enables the bearer-token data client and token-connect path.
	Oura *oura.Config

	// OuraWebhookSecret turns on HMAC verification for Oura deliveries.
	OuraWebhookSecret string
	// WebhookBurstInterval coalesces notification storms per member; zero
	// uses the burst controller default.
	WebhookBurstInterval time.Duration

	// Queue wires background syncs through a go-job queue. Without it,
	// webhook notifications run the aggregator inline.
	Queue *QueueConfig
}

// QueueConfig carries the go-job queue surfaces backing background syncs.
type QueueConfig struct {
	Enqueuer jobqueue.Enqueuer
	Dequeuer jobqueue.Dequeuer
	Retry    gojob.RetryPolicy
}

// Runtime is the composed deployment. Fields are exported so hosts can hang
// extra routes, run the worker, or dispatch through the command bus.
type Runtime struct {
	Service     *core.Service
	Facade      *Facade
	Coordinator *callback.Coordinator
	Aggregator  *wearablesync.Aggregator
	Throttle    *ratelimit.AdaptivePolicy
	Webhooks    *webhooks.Processor
	HTTP        *httpapi.Server
	Worker      *wearablesync.Worker
	Scheduler   *wearablesync.Scheduler
	Enqueuer    core.JobEnqueuer

	bundle *gocommand.ServiceBundle
}

// NewRuntime builds the whole subsystem from one config. Provider sections
// are optional so tests and partial deployments can wire only what they use;
// at least one provider must be enabled.
func NewRuntime(cfg RuntimeConfig, opts ...Option) (*Runtime, error) {
	if cfg.Garmin == nil && cfg.Oura == nil {
		return nil, fmt.Errorf("wearables: at least one provider must be configured")
	}

	registry := core.NewSourceRegistry()
	serviceOpts := []Option{WithRegistry(registry)}

	var sources []core.Source
	if cfg.Garmin != nil {
		provider, err := garmin.New(*cfg.Garmin)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, err
		}
		sources = append(sources, core.SourceGarmin)
	}

	var ouraClient *oura.Client
	if cfg.Oura != nil {
		client, err := oura.NewClient(*cfg.Oura)
		if err != nil {
			return nil, err
		}
		ouraClient = client
		serviceOpts = append(serviceOpts, WithTokenVerifier(client))
		sources = append(sources, core.SourceOura)
	}
	serviceOpts = append(serviceOpts, opts...)

	service, err := core.NewService(cfg.Service, serviceOpts...)
	if err != nil {
		return nil, err
	}
	deps := service.Dependencies()

	runtime := &Runtime{
		Service:  service,
		Throttle: ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
	}

	aggregatorOpts := []wearablesync.Option{
		wearablesync.WithFetchGuard(runtime.Throttle),
		wearablesync.WithLogger(deps.Logger),
	}
	if ouraClient != nil {
		aggregatorOpts = append(aggregatorOpts, wearablesync.WithClient(core.SourceOura, ouraClient))
	}
	runtime.Aggregator, err = wearablesync.NewAggregator(service, wearablesync.Config{
		WindowDays:   service.Config().Sync.WindowDays,
		FetchTimeout: service.Config().Sync.FetchTimeout(),
	}, aggregatorOpts...)
	if err != nil {
		return nil, err
	}

	runtime.Coordinator, err = callback.NewCoordinator(service,
		callback.WithSessionStore(deps.SessionStore),
		callback.WithConnectPage(service.Config().ConnectPage),
		callback.WithLogger(deps.Logger),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Queue != nil {
		if cfg.Queue.Enqueuer != nil {
			runtime.Enqueuer = gojob.NewEnqueuerAdapter(cfg.Queue.Enqueuer)
		}
		if cfg.Queue.Dequeuer != nil {
			runtime.Worker, err = wearablesync.NewWorker(
				gojob.NewDequeuerAdapter(cfg.Queue.Dequeuer, cfg.Queue.Retry),
				runtime.Aggregator,
				wearablesync.WithWorkerLogger(
					gologger.ResolveComponent("sync.worker", deps.LoggerProvider, deps.Logger),
				),
			)
			if err != nil {
				return nil, err
			}
		}
	}

	if deps.IntegrationStore != nil {
		runtime.Scheduler, err = wearablesync.NewScheduler(
			deps.IntegrationStore,
			runtime.syncScheduler(),
			sources,
			wearablesync.WithSchedulerInterval(service.Config().Sync.ScheduleInterval()),
			wearablesync.WithSchedulerLogger(
				gologger.ResolveComponent("sync.scheduler", deps.LoggerProvider, deps.Logger),
			),
		)
		if err != nil {
			return nil, err
		}
	}

	runtime.Webhooks = webhooks.NewProcessor(
		webhooks.NewMemoryDeliveryLedger(),
		webhooks.AccountResolverFunc(service.ResolveMemberByExternalAccount),
		runtime.syncScheduler(),
	)
	runtime.Webhooks.Templates = webhooks.DefaultTemplates(cfg.OuraWebhookSecret)
	runtime.Webhooks.Burst = webhooks.NewMinIntervalBurstController(cfg.WebhookBurstInterval)

	runtime.Facade, err = NewFacade(service, WithSyncRunner(runtime.Aggregator))
	if err != nil {
		return nil, err
	}
	runtime.bundle, err = gocommand.SubscribeServiceBundle(
		gocommand.NewRegistryAdapter(nil),
		service,
		service,
		gocommand.WithBundleSyncRunner(runtime.Aggregator),
		gocommand.WithBundleAuditReader(deps.SyncAuditStore),
	)
	if err != nil {
		return nil, err
	}

	httpOpts := []httpapi.Option{
		httpapi.WithSyncRunner(runtime.Aggregator),
		httpapi.WithWebhookProcessor(runtime.Webhooks),
		httpapi.WithLogger(deps.Logger),
	}
	if deps.SyncAuditStore != nil {
		httpOpts = append(httpOpts, httpapi.WithAuditReader(deps.SyncAuditStore))
	}
	runtime.HTTP, err = httpapi.NewServer(service, runtime.Coordinator, httpOpts...)
	if err != nil {
		return nil, err
	}

	return runtime, nil
}

// syncScheduler prefers the queue; a deployment without one runs webhook
// triggered syncs inline on the delivery request.
func (r *Runtime) syncScheduler() webhooks.SyncScheduler {
	return schedulerFunc(func(ctx context.Context, member core.MemberRef, source core.Source) error {
		if r.Enqueuer != nil {
			return wearablesync.EnqueueSyncRecent(ctx, r.Enqueuer, member, source)
		}
		_, err := r.Aggregator.SyncRecent(ctx, member, source)
		return err
	})
}

// RunWorker drains queued background syncs until ctx is done. It is a no-op
// error when the runtime has no queue dequeuer.
func (r *Runtime) RunWorker(ctx context.Context) error {
	if r == nil || r.Worker == nil {
		return fmt.Errorf("wearables: runtime has no sync worker; configure Queue.Dequeuer")
	}
	return r.Worker.Run(ctx)
}

// RunScheduler sweeps active integrations on the configured interval until
// ctx is done, scheduling a recent sync for each.
func (r *Runtime) RunScheduler(ctx context.Context) error {
	if r == nil || r.Scheduler == nil {
		return fmt.Errorf("wearables: runtime has no sync scheduler; configure an integration store")
	}
	return r.Scheduler.Run(ctx)
}

// Close detaches the command/query bus subscriptions.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	if r.bundle != nil {
		r.bundle.Unsubscribe()
	}
}

type schedulerFunc func(ctx context.Context, member core.MemberRef, source core.Source) error

func (f schedulerFunc) ScheduleSync(ctx context.Context, member core.MemberRef, source core.Source) error {
	return f(ctx, member, source)
}

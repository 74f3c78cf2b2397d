package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/rebatewell/go-wearables/core"
	"github.com/rebatewell/go-wearables/sync"
)

// MutatingService is the slice of the core facade the command handlers
// delegate to.
type MutatingService interface {
	Connect(ctx context.Context, req core.ConnectRequest) (core.ConnectResponse, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackCompletion, error)
	ConnectWithToken(ctx context.Context, req core.ConnectTokenRequest) (core.Integration, error)
	Disconnect(ctx context.Context, req core.DisconnectRequest) (core.Integration, error)
	MarkIntegrationError(ctx context.Context, integrationID string, reason string) error
	MarkIntegrationSynced(ctx context.Context, integrationID string, at time.Time) error
}

type SyncMutatingService interface {
	SyncRecent(ctx context.Context, member core.MemberRef, source core.Source) (sync.Result, error)
}

type ConnectCommand struct {
	service MutatingService
}

func NewConnectCommand(service MutatingService) *ConnectCommand {
	return &ConnectCommand{service: service}
}

func (c *ConnectCommand) Execute(ctx context.Context, msg ConnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: connect service is required")
	}
	out, err := c.service.Connect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.CompleteCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ConnectTokenCommand struct {
	service MutatingService
}

func NewConnectTokenCommand(service MutatingService) *ConnectTokenCommand {
	return &ConnectTokenCommand{service: service}
}

func (c *ConnectTokenCommand) Execute(ctx context.Context, msg ConnectTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: token connect service is required")
	}
	out, err := c.service.ConnectWithToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	out, err := c.service.Disconnect(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MarkIntegrationErrorCommand struct {
	service MutatingService
}

func NewMarkIntegrationErrorCommand(service MutatingService) *MarkIntegrationErrorCommand {
	return &MarkIntegrationErrorCommand{service: service}
}

func (c *MarkIntegrationErrorCommand) Execute(ctx context.Context, msg MarkIntegrationErrorMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	return c.service.MarkIntegrationError(ctx, msg.IntegrationID, msg.Reason)
}

type MarkIntegrationSyncedCommand struct {
	service MutatingService
}

func NewMarkIntegrationSyncedCommand(service MutatingService) *MarkIntegrationSyncedCommand {
	return &MarkIntegrationSyncedCommand{service: service}
}

func (c *MarkIntegrationSyncedCommand) Execute(ctx context.Context, msg MarkIntegrationSyncedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: integration service is required")
	}
	return c.service.MarkIntegrationSynced(ctx, msg.IntegrationID, msg.At)
}

type SyncRecentCommand struct {
	service SyncMutatingService
}

func NewSyncRecentCommand(service SyncMutatingService) *SyncRecentCommand {
	return &SyncRecentCommand{service: service}
}

func (c *SyncRecentCommand) Execute(ctx context.Context, msg SyncRecentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	out, err := c.service.SyncRecent(ctx, msg.Member, msg.Source)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

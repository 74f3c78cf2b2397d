package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rebatewell/go-wearables/core"
)

// AccountResolver maps a provider-side account id from a push notification to
// the platform member holding the matching active integration.
type AccountResolver interface {
	ResolveMember(ctx context.Context, source core.Source, externalAccountID string) (core.MemberRef, bool, error)
}

type AccountResolverFunc func(ctx context.Context, source core.Source, externalAccountID string) (core.MemberRef, bool, error)

func (f AccountResolverFunc) ResolveMember(ctx context.Context, source core.Source, externalAccountID string) (core.MemberRef, bool, error) {
	if f == nil {
		return core.MemberRef{}, false, nil
	}
	return f(ctx, source, externalAccountID)
}

// BurstDecision reports whether a notification may schedule a sync now.
// RetryIn is advisory; providers are answered 200 either way.
type BurstDecision struct {
	Allow   bool
	RetryIn time.Duration
}

// BurstController coalesces notification storms. Garmin posts one ping per
// summary type and Oura one event per document change, so a single device
// upload can fan out into a dozen deliveries within seconds.
type BurstController interface {
	Allow(ctx context.Context, key string) (BurstDecision, error)
}

// MinIntervalBurstController admits at most one sync per key per interval.
type MinIntervalBurstController struct {
	interval time.Duration
	now      func() time.Time

	mu          sync.Mutex
	lastAllowed map[string]time.Time
}

func NewMinIntervalBurstController(interval time.Duration) *MinIntervalBurstController {
	if interval <= 0 {
		interval = time.Minute
	}
	return &MinIntervalBurstController{
		interval:    interval,
		now:         func() time.Time { return time.Now().UTC() },
		lastAllowed: map[string]time.Time{},
	}
}

func (c *MinIntervalBurstController) Allow(_ context.Context, key string) (BurstDecision, error) {
	if c == nil {
		return BurstDecision{Allow: true}, nil
	}
	key = strings.TrimSpace(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastAllowed[key]; ok {
		if elapsed := now.Sub(last); elapsed < c.interval {
			return BurstDecision{Allow: false, RetryIn: c.interval - elapsed}, nil
		}
	}
	c.lastAllowed[key] = now
	return BurstDecision{Allow: true}, nil
}

var _ BurstController = (*MinIntervalBurstController)(nil)

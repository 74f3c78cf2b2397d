// Package sync orchestrates the concurrent per-category data pulls for one
// member and source and folds the outcomes into a summary. Category failures
// are isolated: one failed fetch never aborts the others, and a failed
// category is marked unavailable rather than reported as empty.
package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"

	"github.com/rebatewell/go-wearables/core"
)

const dateLayout = "2006-01-02"

// DataClient is the per-source fetch surface the aggregator fans out over.
type DataClient interface {
	FetchSleep(ctx context.Context, credential core.ActiveCredential, startDate, endDate string) ([]core.SleepRecord, error)
	FetchActivity(ctx context.Context, credential core.ActiveCredential, startDate, endDate string) ([]core.ActivityRecord, error)
	FetchReadiness(ctx context.Context, credential core.ActiveCredential, startDate, endDate string) ([]core.ReadinessRecord, error)
}

// FetchGuard can veto a category fetch before it starts and observe its
// outcome afterwards. The adaptive rate limit policy implements it; a nil
// guard lets every fetch proceed.
type FetchGuard interface {
	BeforeFetch(ctx context.Context, source core.Source, memberID string, category core.Category) error
	AfterFetch(ctx context.Context, source core.Source, memberID string, category core.Category, err error)
}

// IntegrationService is the slice of the core facade the aggregator needs.
type IntegrationService interface {
	ResolveCredential(ctx context.Context, member core.MemberRef, source core.Source) (core.Integration, core.ActiveCredential, error)
	MarkIntegrationError(ctx context.Context, integrationID string, reason string) error
	MarkIntegrationSynced(ctx context.Context, integrationID string, at time.Time) error
	RecordSyncAudit(ctx context.Context, entry core.SyncAuditEntry) (core.SyncAuditEntry, error)
}

// Summary holds the aggregate statistics over whichever categories
// succeeded. Score averages are nil when their category produced no records;
// activity aggregates zero-fill instead.
type Summary struct {
	AvgSleepScore       *int
	TotalSteps          int
	AvgSteps            int
	TotalActiveCalories int
	AvgReadinessScore   *int
}

// Result is the structured outcome of one sync run. Connected false means no
// active integration existed and nothing was fetched. Unavailable names the
// categories whose fetch failed, with a reason token each.
type Result struct {
	Connected  bool
	Source     core.Source
	MemberID   string
	RangeStart string
	RangeEnd   string

	Sleep     []core.SleepRecord
	Activity  []core.ActivityRecord
	Readiness []core.ReadinessRecord

	Unavailable map[core.Category]string
	Summary     Summary
	SyncedAt    time.Time
}

type Config struct {
	WindowDays   int
	FetchTimeout time.Duration
	Now          func() time.Time
}

type Aggregator struct {
	service IntegrationService
	clients map[core.Source]DataClient
	guard   FetchGuard
	cfg     Config
	logger  core.Logger
}

type Option func(*Aggregator)

func WithLogger(logger core.Logger) Option {
	return func(a *Aggregator) {
		a.logger = logger
	}
}

func WithClient(source core.Source, client DataClient) Option {
	return func(a *Aggregator) {
		if client != nil {
			a.clients[source] = client
		}
	}
}

func WithFetchGuard(guard FetchGuard) Option {
	return func(a *Aggregator) {
		a.guard = guard
	}
}

func NewAggregator(service IntegrationService, cfg Config, options ...Option) (*Aggregator, error) {
	if service == nil {
		return nil, errors.New("sync: integration service is required")
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = core.DefaultConfig().Sync.WindowDays
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = core.DefaultConfig().Sync.FetchTimeout()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time {
			return time.Now().UTC()
		}
	}
	aggregator := &Aggregator{
		service: service,
		clients: map[core.Source]DataClient{},
		cfg:     cfg,
		logger:  glog.Nop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(aggregator)
	}
	aggregator.logger = glog.Ensure(aggregator.logger)
	return aggregator, nil
}

// SyncRecent pulls the last WindowDays of data for one member and source.
// A missing or inactive integration short-circuits with Connected false and
// no fetches; that is a precondition miss, not an error.
func (a *Aggregator) SyncRecent(ctx context.Context, member core.MemberRef, source core.Source) (Result, error) {
	if a == nil {
		return Result{}, errors.New("sync: aggregator is nil")
	}
	if err := member.Validate(); err != nil {
		return Result{}, err
	}
	parsed, err := core.ParseSource(string(source))
	if err != nil {
		return Result{}, err
	}

	startedAt := a.cfg.Now().UTC()
	result := Result{
		Source:      parsed,
		MemberID:    strings.TrimSpace(member.ID),
		Unavailable: map[core.Category]string{},
	}

	integration, credential, resolveErr := a.service.ResolveCredential(ctx, member, parsed)
	if resolveErr != nil {
		if isNotConnected(resolveErr) {
			return result, nil
		}
		return Result{}, resolveErr
	}
	result.Connected = true

	client, ok := a.clients[parsed]
	if !ok {
		return Result{}, fmt.Errorf("%w: no data client for %s", core.ErrSourceNotRegistered, parsed)
	}

	end := startedAt
	start := end.AddDate(0, 0, -a.cfg.WindowDays)
	result.RangeStart = start.Format(dateLayout)
	result.RangeEnd = end.Format(dateLayout)

	// Fan out into distinct result slots. The group is a join barrier only;
	// goroutines record their own failures and never cancel their siblings.
	fetchErrs := map[core.Category]error{}
	var group errgroup.Group
	var sleepRecords []core.SleepRecord
	var activityRecords []core.ActivityRecord
	var readinessRecords []core.ReadinessRecord
	var sleepErr, activityErr, readinessErr error

	group.Go(func() error {
		sleepRecords, sleepErr = fetchWithGuard(ctx, a, parsed, result.MemberID, core.CategorySleep,
			func(fetchCtx context.Context) ([]core.SleepRecord, error) {
				return client.FetchSleep(fetchCtx, credential, result.RangeStart, result.RangeEnd)
			})
		return nil
	})
	group.Go(func() error {
		activityRecords, activityErr = fetchWithGuard(ctx, a, parsed, result.MemberID, core.CategoryActivity,
			func(fetchCtx context.Context) ([]core.ActivityRecord, error) {
				return client.FetchActivity(fetchCtx, credential, result.RangeStart, result.RangeEnd)
			})
		return nil
	})
	group.Go(func() error {
		readinessRecords, readinessErr = fetchWithGuard(ctx, a, parsed, result.MemberID, core.CategoryReadiness,
			func(fetchCtx context.Context) ([]core.ReadinessRecord, error) {
				return client.FetchReadiness(fetchCtx, credential, result.RangeStart, result.RangeEnd)
			})
		return nil
	})
	_ = group.Wait()

	if sleepErr != nil {
		fetchErrs[core.CategorySleep] = sleepErr
	} else {
		result.Sleep = sleepRecords
	}
	if activityErr != nil {
		fetchErrs[core.CategoryActivity] = activityErr
	} else {
		result.Activity = activityRecords
	}
	if readinessErr != nil {
		fetchErrs[core.CategoryReadiness] = readinessErr
	} else {
		result.Readiness = readinessRecords
	}

	authExpired := false
	for category, fetchErr := range fetchErrs {
		reason := classifyFetchError(fetchErr)
		result.Unavailable[category] = reason
		if errors.Is(fetchErr, core.ErrAuthExpired) {
			authExpired = true
		}
		a.logger.WithContext(ctx).Error("category fetch failed",
			"source", string(parsed),
			"member_id", result.MemberID,
			"category", string(category),
			"reason", reason,
			"error", fetchErr.Error(),
		)
	}

	finishedAt := a.cfg.Now().UTC()
	if authExpired {
		if markErr := a.service.MarkIntegrationError(ctx, integration.ID, "provider reported expired credential"); markErr != nil {
			a.logger.WithContext(ctx).Error("mark integration error failed",
				"integration_id", integration.ID,
				"error", markErr.Error(),
			)
		}
	} else if len(fetchErrs) < len(core.Categories()) {
		if markErr := a.service.MarkIntegrationSynced(ctx, integration.ID, finishedAt); markErr != nil {
			a.logger.WithContext(ctx).Error("mark integration synced failed",
				"integration_id", integration.ID,
				"error", markErr.Error(),
			)
		}
		result.SyncedAt = finishedAt
	}

	result.Summary = computeSummary(result)
	a.recordAudit(ctx, integration, result, startedAt, finishedAt)
	return result, nil
}

func (a *Aggregator) recordAudit(ctx context.Context, integration core.Integration, result Result, startedAt, finishedAt time.Time) {
	succeeded := []string{}
	for _, category := range core.Categories() {
		if _, failed := result.Unavailable[category]; !failed {
			succeeded = append(succeeded, string(category))
		}
	}
	unavailable := make(map[string]string, len(result.Unavailable))
	for category, reason := range result.Unavailable {
		unavailable[string(category)] = reason
	}
	if _, err := a.service.RecordSyncAudit(ctx, core.SyncAuditEntry{
		MemberID:    result.MemberID,
		Source:      result.Source,
		RangeStart:  result.RangeStart,
		RangeEnd:    result.RangeEnd,
		Categories:  succeeded,
		Unavailable: unavailable,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}); err != nil {
		a.logger.WithContext(ctx).Error("record sync audit failed",
			"integration_id", integration.ID,
			"error", err.Error(),
		)
	}
}

// computeSummary folds the present categories. A record with a missing score
// contributes 0 to its average; a category with no records yields a nil
// average. Activity aggregates zero-fill when the category is absent.
func computeSummary(result Result) Summary {
	summary := Summary{}

	if len(result.Sleep) > 0 {
		total := 0
		for _, record := range result.Sleep {
			if record.Score != nil {
				total += *record.Score
			}
		}
		avg := roundToInt(float64(total) / float64(len(result.Sleep)))
		summary.AvgSleepScore = &avg
	}

	if len(result.Activity) > 0 {
		for _, record := range result.Activity {
			summary.TotalSteps += record.Steps
			summary.TotalActiveCalories += record.ActiveCalories
		}
		summary.AvgSteps = roundToInt(float64(summary.TotalSteps) / float64(len(result.Activity)))
	}

	if len(result.Readiness) > 0 {
		total := 0
		for _, record := range result.Readiness {
			if record.Score != nil {
				total += *record.Score
			}
		}
		avg := roundToInt(float64(total) / float64(len(result.Readiness)))
		summary.AvgReadinessScore = &avg
	}

	return summary
}

// fetchWithGuard runs one category fetch under the per-fetch timeout. A
// guard veto replaces the fetch entirely; the guard observes real fetch
// outcomes only.
func fetchWithGuard[T any](
	ctx context.Context,
	a *Aggregator,
	source core.Source,
	memberID string,
	category core.Category,
	fetch func(ctx context.Context) ([]T, error),
) ([]T, error) {
	if a.guard != nil {
		if err := a.guard.BeforeFetch(ctx, source, memberID, category); err != nil {
			return nil, err
		}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()
	records, err := fetch(fetchCtx)
	if a.guard != nil {
		a.guard.AfterFetch(ctx, source, memberID, category, err)
	}
	return records, err
}

func roundToInt(value float64) int {
	return int(math.Round(value))
}

func classifyFetchError(err error) string {
	switch {
	case errors.Is(err, core.ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, core.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, core.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "fetch_failed"
	}
}

func isNotConnected(err error) bool {
	if errors.Is(err, core.ErrNotConnected) || errors.Is(err, core.ErrIntegrationNotFound) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == core.ServiceErrorNotConnected
	}
	return false
}

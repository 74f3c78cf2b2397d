package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/rebatewell/go-wearables/core"
)

const defaultScheduleInterval = 15 * time.Minute

// ActiveIntegrationLister yields the integrations a recurring pass should
// sync. core.IntegrationStore satisfies it.
type ActiveIntegrationLister interface {
	ListActiveBySource(ctx context.Context, source core.Source) ([]core.Integration, error)
}

// Dispatcher hands one member/source pair off for syncing, either inline
// through the aggregator or onto a queue.
type Dispatcher interface {
	ScheduleSync(ctx context.Context, member core.MemberRef, source core.Source) error
}

// SchedulePass reports one sweep over the active integrations.
type SchedulePass struct {
	Scheduled int
	Failed    int
}

// Scheduler periodically walks the active integrations for each configured
// source and schedules a recent-window sync per member. Failures to schedule
// one integration never stop the pass; credential problems surface when the
// dispatched sync runs.
type Scheduler struct {
	lister   ActiveIntegrationLister
	dispatch Dispatcher
	sources  []core.Source
	interval time.Duration
	logger   core.Logger
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(logger core.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithSchedulerInterval(interval time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func NewScheduler(lister ActiveIntegrationLister, dispatch Dispatcher, sources []core.Source, options ...SchedulerOption) (*Scheduler, error) {
	if lister == nil {
		return nil, errors.New("sync: integration lister is required")
	}
	if dispatch == nil {
		return nil, errors.New("sync: dispatcher is required")
	}
	normalized := make([]core.Source, 0, len(sources))
	for _, source := range sources {
		parsed, err := core.ParseSource(string(source))
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, parsed)
	}
	if len(normalized) == 0 {
		return nil, errors.New("sync: at least one source is required")
	}
	scheduler := &Scheduler{
		lister:   lister,
		dispatch: dispatch,
		sources:  normalized,
		interval: defaultScheduleInterval,
		logger:   glog.Nop(),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(scheduler)
	}
	scheduler.logger = glog.Ensure(scheduler.logger)
	return scheduler, nil
}

// Run sweeps immediately, then once per interval until the context is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("sync: scheduler is nil")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			s.logger.WithContext(ctx).Error("scheduled sync pass failed", "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single pass. The returned error reports listing
// failures only; per-integration dispatch failures are counted in the pass
// and logged.
func (s *Scheduler) RunOnce(ctx context.Context) (SchedulePass, error) {
	if s == nil {
		return SchedulePass{}, errors.New("sync: scheduler is nil")
	}
	pass := SchedulePass{}
	var listErr error
	for _, source := range s.sources {
		if err := ctx.Err(); err != nil {
			return pass, err
		}
		integrations, err := s.lister.ListActiveBySource(ctx, source)
		if err != nil {
			listErr = errors.Join(listErr, fmt.Errorf("sync: list active %s integrations: %w", source, err))
			continue
		}
		for _, integration := range integrations {
			member := core.MemberRef{ID: integration.MemberID}
			if err := s.dispatch.ScheduleSync(ctx, member, source); err != nil {
				pass.Failed++
				s.logger.WithContext(ctx).Error("scheduling sync failed",
					"member_id", integration.MemberID,
					"source", string(source),
					"integration_id", integration.ID,
					"error", err.Error(),
				)
				continue
			}
			pass.Scheduled++
		}
	}
	if listErr != nil {
		return pass, listErr
	}
	s.logger.WithContext(ctx).Info("scheduled sync pass finished",
		"scheduled", pass.Scheduled,
		"failed", pass.Failed,
	)
	return pass, nil
}

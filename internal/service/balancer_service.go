package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kirychukyurii/hv-balancer/internal/analyzer"
	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/drain"
	"github.com/kirychukyurii/hv-balancer/internal/inventory"
	"github.com/kirychukyurii/hv-balancer/internal/metrics"
	"github.com/kirychukyurii/hv-balancer/internal/migration"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository"
)

// BalancerService defines the interface for the balancing loop
type BalancerService interface {
	// Run executes iterations until nothing is left to do, a fatal condition
	// occurs or ctx is cancelled. A nil error means a clean stop.
	Run(ctx context.Context) error

	// RunIteration executes one snapshot → analyze → select → migrate pass
	RunIteration(ctx context.Context) (*model.IterationReport, error)

	// Status returns a copy of the current service status
	Status() model.ServiceStatus

	// DrainAttempted returns the ids never offered again as candidates
	DrainAttempted() []string
}

// balancerService implements BalancerService interface
type balancerService struct {
	collector    *inventory.Collector
	analyzer     *analyzer.Analyzer
	selector     *analyzer.Selector
	orchestrator *migration.Orchestrator
	tracker      *drain.Tracker
	coord        repository.CoordinationRepository
	metrics      *metrics.Metrics
	cfg          *config.Config
	logger       *slog.Logger

	mu     sync.RWMutex
	status model.ServiceStatus
}

// NewBalancerService creates a new balancer service. coord may be nil when
// no etcd cluster is configured.
func NewBalancerService(
	collector *inventory.Collector,
	balanceAnalyzer *analyzer.Analyzer,
	selector *analyzer.Selector,
	orchestrator *migration.Orchestrator,
	tracker *drain.Tracker,
	coord repository.CoordinationRepository,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *slog.Logger,
) BalancerService {
	return &balancerService{
		collector:    collector,
		analyzer:     balanceAnalyzer,
		selector:     selector,
		orchestrator: orchestrator,
		tracker:      tracker,
		coord:        coord,
		metrics:      m,
		cfg:          cfg,
		logger:       logger,
		status: model.ServiceStatus{
			Mode:         cfg.Mode(),
			DrainingHost: cfg.Balancer.DrainingHost,
		},
	}
}

// Run executes iterations until nothing is left to do, a fatal condition occurs or ctx is cancelled
func (s *balancerService) Run(ctx context.Context) error {
	if s.coord != nil {
		if err := s.coord.Acquire(ctx); err != nil {
			return fmt.Errorf("failed to acquire balancer lock: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.coord.Release(releaseCtx); err != nil {
				s.logger.Warn("failed to release balancer lock", slog.String("error", err.Error()))
			}
		}()
	}

	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Info("starting balancer",
		slog.String("mode", string(s.cfg.Mode())),
		slog.String("draining_host", s.cfg.Balancer.DrainingHost),
		slog.Bool("daemon", s.cfg.Daemon.Enabled),
	)

	for {
		report, err := s.RunIteration(ctx)
		if err == nil {
			continue
		}

		var noCandidate *model.NoCandidateError
		switch {
		case errors.As(err, &noCandidate):
			if !s.cfg.Daemon.Enabled {
				s.logger.Info("nothing to do, stopping", slog.String("reason", noCandidate.Reason))
				return nil
			}

			s.logger.Info("nothing to do, idling",
				slog.String("reason", noCandidate.Reason),
				slog.Duration("idle", s.cfg.Daemon.IdleInterval),
			)
			if !s.idle(ctx) {
				s.logger.Info("balancer stopped while idle")
				return nil
			}
		case model.IsBenign(err):
			s.logger.Warn("iteration ended without a successful migration",
				slog.Int("iteration", report.Number),
				slog.String("outcome", string(report.Outcome)),
				slog.String("error", err.Error()),
			)
		default:
			return err
		}
	}
}

// RunIteration executes one snapshot → analyze → select → migrate pass
func (s *balancerService) RunIteration(ctx context.Context) (*model.IterationReport, error) {
	report := &model.IterationReport{
		Number:    s.nextIteration(),
		StartedAt: time.Now(),
		Mode:      s.cfg.Mode(),
	}

	err := s.iterate(ctx, report)

	report.FinishedAt = time.Now()
	report.Outcome = outcome(report, err)
	if err != nil {
		report.Message = err.Error()
	} else {
		report.Message = fmt.Sprintf("moved %s to %s", report.Plan.InstanceID, report.FinalHost)
	}

	s.record(ctx, report)

	return report, err
}

func (s *balancerService) iterate(ctx context.Context, report *model.IterationReport) error {
	snap, err := s.collector.Collect(ctx)
	if err != nil {
		return err
	}
	report.Skipped = len(snap.Skipped)

	summary := s.analyzer.Summarize(snap)
	report.Summary = summary
	s.metrics.ObserveSnapshot(summary, snap.Skipped)

	pair, err := s.analyzer.PickHosts(snap, summary)
	if err != nil {
		return err
	}

	plan, err := s.selector.Select(snap, summary, pair, s.cfg.Mode())
	if err != nil {
		return err
	}
	report.Plan = plan

	result, err := s.orchestrator.Execute(ctx, plan)
	report.State = result.State
	report.FinalHost = result.FinalHost
	s.metrics.ObserveMigration(plan.Mode, result.State, result.Duration, result.PollAttempts)

	return err
}

// outcome maps the iteration result to its outcome label
func outcome(report *model.IterationReport, err error) model.IterationOutcome {
	var noCandidate *model.NoCandidateError
	switch {
	case err == nil:
		return model.OutcomeMigrated
	case errors.As(err, &noCandidate):
		return model.OutcomeNoCandidate
	case report.State == model.StateAborted:
		return model.OutcomeAborted
	case report.State == model.StateFailed:
		return model.OutcomeFailed
	default:
		return model.OutcomeFatal
	}
}

func (s *balancerService) record(ctx context.Context, report *model.IterationReport) {
	s.mu.Lock()
	s.status.LastReport = report
	s.status.Attempted = s.tracker.Len()
	if report.FinalHost != "" {
		s.status.Migrations++
	}
	s.mu.Unlock()

	s.metrics.ObserveIteration(report, s.tracker.Len())

	s.logger.Info("iteration finished",
		slog.Int("iteration", report.Number),
		slog.String("outcome", string(report.Outcome)),
		slog.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	if s.coord == nil {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.coord.WriteLastRun(writeCtx, report); err != nil {
		s.logger.Warn("failed to record iteration", slog.String("error", err.Error()))
	}
}

func (s *balancerService) idle(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.Daemon.IdleInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *balancerService) nextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Iterations++
	return s.status.Iterations
}

func (s *balancerService) setRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status.Running = running
}

// Status returns a copy of the current service status
func (s *balancerService) Status() model.ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.status
	status.Attempted = s.tracker.Len()
	return status
}

// DrainAttempted returns the ids never offered again as candidates
func (s *balancerService) DrainAttempted() []string {
	return s.tracker.Attempted()
}

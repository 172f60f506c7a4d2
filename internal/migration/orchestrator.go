package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/drain"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository"
)

// Prober checks whether an instance answers on the network
type Prober interface {
	Reachable(ctx context.Context, fqdn string) bool
}

// Result is the outcome of driving one plan through the state machine
type Result struct {
	State        model.MigrationState   `json:"state"`
	Trail        []model.MigrationState `json:"trail"`
	FinalHost    string                 `json:"final_host,omitempty"`
	PollAttempts int                    `json:"poll_attempts"`
	Duration     time.Duration          `json:"duration"`
}

func (r *Result) enter(state model.MigrationState) {
	r.State = state
	r.Trail = append(r.Trail, state)
}

// Orchestrator runs SELECTED → PRE_CHECK → MIGRATING → POLLING →
// VERIFIED|FAILED → SETTLING → POST_CHECK → DONE for a single plan.
type Orchestrator struct {
	compute repository.ComputeRepository
	prober  Prober
	tracker *drain.Tracker
	poll    PollPolicy
	settle  time.Duration
	tick    time.Duration
	suffix  string
	logger  *slog.Logger
}

// NewOrchestrator creates a new orchestrator. A nil prober disables reachability checks.
func NewOrchestrator(
	compute repository.ComputeRepository,
	prober Prober,
	tracker *drain.Tracker,
	cfg config.MigrationConfig,
	suffix string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		compute: compute,
		prober:  prober,
		tracker: tracker,
		poll: PollPolicy{
			Interval:    cfg.PollInterval,
			MaxAttempts: cfg.PollMaxAttempts,
			Timeout:     cfg.PollTimeout,
		},
		settle: cfg.SettleDuration,
		tick:   cfg.SettleTick,
		suffix: suffix,
		logger: logger,
	}
}

// Execute drives plan to a terminal state. The error is nil for DONE, benign
// (see model.IsBenign) for FAILED and ABORTED, and fatal otherwise.
func (o *Orchestrator) Execute(ctx context.Context, plan *model.MigrationPlan) (*Result, error) {
	started := time.Now()
	result := &Result{}
	result.enter(model.StateSelected)

	defer func() {
		result.Duration = time.Since(started)
	}()

	log := o.logger.With(
		slog.String("instance_id", plan.InstanceID),
		slog.String("name", plan.InstanceName),
	)

	if plan.SourceHost == plan.DestinationHost {
		result.enter(model.StateFatal)
		return result, fmt.Errorf("refusing to migrate %s onto its own host %s", plan.InstanceID, plan.SourceHost)
	}

	if plan.Mode == model.ModeDrain {
		o.tracker.MarkAttempted(plan.InstanceID)
	}

	fqdn := FQDN(plan.InstanceName, o.suffix)
	postCheck := false

	if o.prober != nil {
		result.enter(model.StatePreCheck)

		if o.prober.Reachable(ctx, fqdn) {
			postCheck = true
		} else {
			log.Warn("instance not reachable prior to migration", slog.String("fqdn", fqdn))

			if plan.Mode == model.ModeDrain {
				o.tracker.MarkAttempted(plan.InstanceID)
				result.enter(model.StateAborted)
				log.Info("skipping instance due to failed pre-migration check")
				return result, &model.PreMigrationHealthFailure{Hostname: fqdn}
			}

			log.Info("attempting migration anyway, post-migration check disabled")
		}
	}

	result.enter(model.StateMigrating)
	host := StripSuffix(plan.DestinationHost, o.suffix)
	if err := o.compute.LiveMigrate(ctx, plan.InstanceID, host); err != nil {
		result.enter(model.StateFatal)
		return result, &model.MigrationRequestError{InstanceID: plan.InstanceID, Host: host, Err: err}
	}

	log.Info("live migration commenced, polling for ACTIVE",
		slog.String("source", plan.SourceHost),
		slog.String("destination", plan.DestinationHost),
	)

	result.enter(model.StatePolling)
	srv, err := o.waitActive(ctx, plan.InstanceID, result)
	if err != nil {
		result.enter(model.StateFatal)
		return result, err
	}
	result.FinalHost = srv.HypervisorHostname

	var verifyErr error
	if srv.HypervisorHostname == plan.DestinationHost {
		result.enter(model.StateVerified)
		log.Info("migration complete", slog.String("host", srv.HypervisorHostname))
	} else {
		result.enter(model.StateFailed)
		verifyErr = &model.MigrationVerificationFailure{
			InstanceID: plan.InstanceID,
			Expected:   plan.DestinationHost,
			Actual:     srv.HypervisorHostname,
		}
		log.Error("instance not moved successfully",
			slog.String("expected", plan.DestinationHost),
			slog.String("actual", srv.HypervisorHostname),
		)
	}
	verified := verifyErr == nil

	result.enter(model.StateSettling)
	if err := o.settleDown(ctx, log); err != nil {
		result.enter(model.StateFatal)
		return result, err
	}

	if !verified {
		result.State = model.StateFailed
		return result, verifyErr
	}

	if postCheck {
		result.enter(model.StatePostCheck)
		if !o.prober.Reachable(ctx, fqdn) {
			result.enter(model.StateFatal)
			log.Error("instance not reachable post-migration", slog.String("fqdn", fqdn))
			return result, &model.PostMigrationHealthFailure{Hostname: fqdn}
		}
		log.Info("non-destructive operation confirmed, instance still reachable", slog.String("fqdn", fqdn))
	}

	result.enter(model.StateDone)
	return result, nil
}

// waitActive polls the instance until it reports ACTIVE or the poll policy gives up
func (o *Orchestrator) waitActive(ctx context.Context, id string, result *Result) (model.Server, error) {
	started := time.Now()

	for {
		srv, err := o.compute.GetServer(ctx, id)
		result.PollAttempts++
		if err != nil {
			return model.Server{}, fmt.Errorf("failed to poll instance %s: %w", id, err)
		}

		if srv.Status == model.ServerStatusActive {
			return srv, nil
		}

		elapsed := time.Since(started)
		o.logger.Debug("instance not active yet",
			slog.String("instance_id", id),
			slog.String("status", srv.Status),
			slog.Int("attempt", result.PollAttempts),
		)

		if o.poll.exhausted(result.PollAttempts, elapsed) {
			return model.Server{}, &model.PollTimeoutError{
				InstanceID: id,
				Attempts:   result.PollAttempts,
				Elapsed:    elapsed,
				LastStatus: srv.Status,
			}
		}

		if err := sleep(ctx, o.poll.Interval); err != nil {
			return model.Server{}, fmt.Errorf("polling instance %s interrupted: %w", id, err)
		}
	}
}

// settleDown pauses after a migration, reporting progress once per tick
func (o *Orchestrator) settleDown(ctx context.Context, log *slog.Logger) error {
	if o.settle <= 0 {
		return nil
	}

	log.Info("pausing to let hypervisors settle", slog.Duration("duration", o.settle))

	var waited time.Duration
	for waited < o.settle {
		step := min(o.tick, o.settle-waited)
		if err := sleep(ctx, step); err != nil {
			return fmt.Errorf("settling interrupted: %w", err)
		}
		waited += step

		log.Debug("settling", slog.Duration("elapsed", waited), slog.Duration("remaining", o.settle-waited))
	}

	return nil
}

// FQDN appends suffix to a bare instance name
func FQDN(name, suffix string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + suffix
}

// StripSuffix removes a trailing domain suffix from a hypervisor hostname
func StripSuffix(hostname, suffix string) string {
	if suffix == "" {
		return hostname
	}
	return strings.TrimSuffix(hostname, suffix)
}

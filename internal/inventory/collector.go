package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/drain"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository"
)

// ErrNoHypervisors is returned when the compute API lists no hypervisors
var ErrNoHypervisors = errors.New("too few hypervisors")

// Collector builds a fresh inventory snapshot at the start of every iteration
type Collector struct {
	compute  repository.ComputeRepository
	tracker  *drain.Tracker
	cfg      config.BalancerConfig
	excluded map[string]struct{}
	logger   *slog.Logger
}

// NewCollector creates a new inventory collector
func NewCollector(
	compute repository.ComputeRepository,
	tracker *drain.Tracker,
	cfg config.BalancerConfig,
	logger *slog.Logger,
) *Collector {
	excluded := make(map[string]struct{}, len(cfg.ExcludeInstances))
	for _, id := range cfg.ExcludeInstances {
		excluded[id] = struct{}{}
	}

	return &Collector{
		compute:  compute,
		tracker:  tracker,
		cfg:      cfg,
		excluded: excluded,
		logger:   logger,
	}
}

// Collect lists hypervisors and servers and aggregates eligible instances per host.
// Any compute API failure discards the whole snapshot.
func (c *Collector) Collect(ctx context.Context) (*model.Snapshot, error) {
	servers, err := c.compute.ListServers(ctx)
	if err != nil {
		return nil, &model.InventoryFetchError{Op: "list_servers", Err: err}
	}

	hypervisors, err := c.compute.ListHypervisors(ctx)
	if err != nil {
		return nil, &model.InventoryFetchError{Op: "list_hypervisors", Err: err}
	}
	if len(hypervisors) == 0 {
		return nil, &model.InventoryFetchError{Op: "list_hypervisors", Err: ErrNoHypervisors}
	}

	snapshot := model.NewSnapshot()
	for _, hv := range hypervisors {
		snapshot.Hosts[hv.Hostname] = model.NewHostSnapshot(hv)
	}

	for _, srv := range servers {
		if skip, ok := c.eligibility(srv); !ok {
			c.skip(snapshot, skip)
			continue
		}

		host, ok := snapshot.Host(srv.HypervisorHostname)
		if !ok {
			c.skip(snapshot, model.EligibilitySkip{
				ID:     srv.ID,
				Name:   srv.Name,
				Reason: model.SkipReasonUnknownHost,
				Detail: srv.HypervisorHostname,
			})
			continue
		}

		flavor, err := c.compute.GetFlavor(ctx, srv.FlavorID)
		if err != nil {
			return nil, &model.InventoryFetchError{Op: "get_flavor", Err: err}
		}
		fp := flavor.Footprint()

		host.Account(fp)
		if !c.tracker.WasAttempted(srv.ID) {
			host.Index(srv.ID, fp)
		}

		snapshot.Instances[srv.ID] = model.InstanceRecord{
			ID:                 srv.ID,
			Name:               srv.Name,
			Host:               srv.Host,
			HypervisorHostname: srv.HypervisorHostname,
			Status:             srv.Status,
			TaskState:          srv.TaskState,
			Footprint:          fp,
		}
	}

	c.warnStuck(snapshot)

	c.logger.Info("inventory collected",
		slog.Int("hypervisors", len(snapshot.Hosts)),
		slog.Int("instances", len(snapshot.Instances)),
		slog.Int("skipped", len(snapshot.Skipped)),
	)

	return snapshot, nil
}

// eligibility applies the placement accounting predicate:
// ACTIVE, no running task, and host+suffix equal to the hypervisor hostname.
func (c *Collector) eligibility(srv model.Server) (model.EligibilitySkip, bool) {
	skip := model.EligibilitySkip{ID: srv.ID, Name: srv.Name}

	switch {
	case srv.Status != model.ServerStatusActive:
		skip.Reason = model.SkipReasonInactive
		skip.Detail = srv.Status
	case srv.TaskState != "":
		skip.Reason = model.SkipReasonBusy
		skip.Detail = srv.TaskState
	case srv.Host+c.cfg.DomainSuffix != srv.HypervisorHostname:
		skip.Reason = model.SkipReasonHostMismatch
		skip.Detail = fmt.Sprintf("%s%s != %s", srv.Host, c.cfg.DomainSuffix, srv.HypervisorHostname)
	default:
		return skip, true
	}

	return skip, false
}

func (c *Collector) skip(snapshot *model.Snapshot, skip model.EligibilitySkip) {
	snapshot.Skipped = append(snapshot.Skipped, skip)

	c.logger.Info("skipping instance",
		slog.String("instance_id", skip.ID),
		slog.String("name", skip.Name),
		slog.String("reason", string(skip.Reason)),
		slog.String("detail", skip.Detail),
	)
}

// warnStuck reports attempted instances still found on the draining host
func (c *Collector) warnStuck(snapshot *model.Snapshot) {
	if c.cfg.DrainingHost == "" {
		return
	}
	draining, ok := snapshot.ResolveHost(c.cfg.DrainingHost, c.cfg.DomainSuffix)
	if !ok {
		return
	}

	ids := make([]string, 0)
	for id, rec := range snapshot.Instances {
		if rec.HypervisorHostname != draining || !c.tracker.WasAttempted(id) {
			continue
		}
		if _, pinned := c.excluded[id]; pinned {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c.logger.Warn("instance does not appear to have been moved successfully earlier",
			slog.String("instance_id", id),
			slog.String("host", draining),
		)
	}
}

package analyzer

import (
	"fmt"
	"log/slog"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/model"
)

// HostPair is the source and destination chosen for an iteration
type HostPair struct {
	Source      string
	Destination string
}

// Analyzer computes utilization and picks source and destination hosts
type Analyzer struct {
	cfg    config.BalancerConfig
	logger *slog.Logger
}

// New creates a new analyzer
func New(cfg config.BalancerConfig, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		logger: logger,
	}
}

// Mode returns the balancing goal
func (a *Analyzer) Mode() model.Mode {
	if a.cfg.DrainingHost != "" {
		return model.ModeDrain
	}
	return model.ModeBalance
}

// Summarize computes per-host utilization in hostname order. The running
// averages are recomputed after every host as avg = (avg*n + value) / (n+1)
// with integer division, so the result depends on the order.
func (a *Analyzer) Summarize(snap *model.Snapshot) *model.UtilizationSummary {
	summary := &model.UtilizationSummary{}

	var avg model.Averages
	for n, name := range snap.Hostnames() {
		host := snap.Hosts[name]

		row := model.HostUtilization{
			Hostname:  name,
			Instances: host.InstanceCount,
			VCPU:      host.Used.VCPU,
			VCPUPct:   percent(host.Used.VCPU, host.Capacity.VCPU),
			RAMMB:     host.Used.RAMMB,
			RAMPct:    percent(host.Used.RAMMB, host.Capacity.RAMMB),
			DiskGB:    host.Used.DiskGB,
		}
		summary.Hosts = append(summary.Hosts, row)

		avg = model.Averages{
			Instances: running(avg.Instances, n, row.Instances),
			VCPU:      running(avg.VCPU, n, row.VCPU),
			VCPUPct:   running(avg.VCPUPct, n, row.VCPUPct),
			RAMMB:     running(avg.RAMMB, n, row.RAMMB),
			RAMPct:    running(avg.RAMPct, n, row.RAMPct),
			DiskGB:    running(avg.DiskGB, n, row.DiskGB),
		}
		summary.Running = append(summary.Running, avg)

		a.logger.Info("hypervisor utilization",
			slog.String("hypervisor", name),
			slog.Int("instances", row.Instances),
			slog.Int("vcpus", row.VCPU),
			slog.Int("vcpu_pct", row.VCPUPct),
			slog.Int("ram_gb", row.RAMMB/1024),
			slog.Int("ram_pct", row.RAMPct),
			slog.Int("disk_gb", row.DiskGB),
		)
	}
	summary.Average = avg

	a.logger.Info("average utilization",
		slog.Int("instances", avg.Instances),
		slog.Int("vcpus", avg.VCPU),
		slog.Int("vcpu_pct", avg.VCPUPct),
		slog.Int("ram_gb", avg.RAMMB/1024),
		slog.Int("ram_pct", avg.RAMPct),
		slog.Int("disk_gb", avg.DiskGB),
	)

	return summary
}

// PickHosts chooses the destination with the lowest RAM percentage and the
// source with the highest one. In drain mode the source is the draining host,
// which is never a destination. Ties go to the first host in hostname order.
func (a *Analyzer) PickHosts(snap *model.Snapshot, summary *model.UtilizationSummary) (HostPair, error) {
	draining := ""
	if a.cfg.DrainingHost != "" {
		resolved, ok := snap.ResolveHost(a.cfg.DrainingHost, a.cfg.DomainSuffix)
		if !ok {
			return HostPair{}, &model.ConfigurationError{
				Field:   "balancer.draining_host",
				Message: fmt.Sprintf("hypervisor %q not found", a.cfg.DrainingHost),
			}
		}
		draining = resolved
	}

	var pair HostPair
	maxPct := 0
	minPct := -1
	for _, row := range summary.Hosts {
		if row.RAMPct > maxPct {
			maxPct = row.RAMPct
			pair.Source = row.Hostname
		}
		if row.Hostname == draining {
			continue
		}
		if minPct < 0 || row.RAMPct < minPct {
			minPct = row.RAMPct
			pair.Destination = row.Hostname
		}
	}

	if draining != "" {
		pair.Source = draining
	}

	switch {
	case pair.Destination == "":
		return pair, &model.NoCandidateError{Reason: "no destination hypervisor available"}
	case pair.Source == "":
		return pair, &model.NoCandidateError{Reason: "no hypervisor carries any load"}
	case pair.Source == pair.Destination:
		return pair, &model.NoCandidateError{Reason: "source and destination are the same hypervisor"}
	}

	a.logger.Info("hosts selected",
		slog.String("mode", string(a.Mode())),
		slog.String("source", pair.Source),
		slog.String("destination", pair.Destination),
	)

	return pair, nil
}

func percent(used, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return used * 100 / capacity
}

func running(avg, n, value int) int {
	return (avg*n + value) / (n + 1)
}

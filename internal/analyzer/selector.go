package analyzer

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/kirychukyurii/hv-balancer/internal/model"
)

// Candidate is an indexed instance on the source host
type Candidate struct {
	InstanceID  string
	FootprintMB int
}

// Selector picks the single instance to move
type Selector struct {
	logger *slog.Logger
}

// NewSelector creates a new candidate selector
func NewSelector(logger *slog.Logger) *Selector {
	return &Selector{logger: logger}
}

// Candidates returns the source host RAM index ordered by footprint
// descending, then id ascending.
func Candidates(host *model.HostSnapshot) []Candidate {
	candidates := make([]Candidate, 0, len(host.RAMIndex))
	for ram, id := range host.RAMIndex {
		candidates = append(candidates, Candidate{InstanceID: id, FootprintMB: ram})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FootprintMB != candidates[j].FootprintMB {
			return candidates[i].FootprintMB > candidates[j].FootprintMB
		}
		return candidates[i].InstanceID < candidates[j].InstanceID
	})
	return candidates
}

// Budget returns min(A, B) in MB of RAM where A is the RAM above the average
// on the source and B is the free RAM on the destination.
func Budget(src, dst *model.HostSnapshot, srcPct, avgPct int) int {
	above := (srcPct - avgPct) * src.Capacity.RAMMB / 100
	return min(above, dst.FreeRAMMB())
}

// Select builds the migration plan for the iteration. Balance mode takes the
// largest footprint within the budget; drain mode takes the largest one.
func (s *Selector) Select(snap *model.Snapshot, summary *model.UtilizationSummary, pair HostPair, mode model.Mode) (*model.MigrationPlan, error) {
	src, ok := snap.Host(pair.Source)
	if !ok {
		return nil, fmt.Errorf("source hypervisor %s not in snapshot", pair.Source)
	}
	dst, ok := snap.Host(pair.Destination)
	if !ok {
		return nil, fmt.Errorf("destination hypervisor %s not in snapshot", pair.Destination)
	}

	candidates := Candidates(src)

	var (
		chosen *Candidate
		budget int
	)

	switch mode {
	case model.ModeDrain:
		if len(candidates) > 0 {
			chosen = &candidates[0]
		}
	default:
		row, _ := summary.Host(pair.Source)
		budget = Budget(src, dst, row.RAMPct, summary.Average.RAMPct)

		s.logger.Info("move budget computed",
			slog.String("source", pair.Source),
			slog.String("destination", pair.Destination),
			slog.Int("budget_mb", budget),
		)

		if budget < 0 {
			return nil, &model.NoCandidateError{Reason: fmt.Sprintf("negative move budget (%d MB)", budget)}
		}
		for i := range candidates {
			if candidates[i].FootprintMB <= budget {
				chosen = &candidates[i]
				break
			}
		}
	}

	if chosen == nil {
		if mode == model.ModeDrain {
			return nil, &model.NoCandidateError{Reason: fmt.Sprintf("nothing left to move off %s", pair.Source)}
		}
		return nil, &model.NoCandidateError{Reason: fmt.Sprintf("no instance on %s fits a %d MB budget", pair.Source, budget)}
	}

	plan := &model.MigrationPlan{
		InstanceID:      chosen.InstanceID,
		InstanceName:    snap.Instances[chosen.InstanceID].Name,
		SourceHost:      pair.Source,
		DestinationHost: pair.Destination,
		FootprintMB:     chosen.FootprintMB,
		BudgetMB:        budget,
		Mode:            mode,
	}

	s.logger.Info("candidate selected",
		slog.String("instance_id", plan.InstanceID),
		slog.String("name", plan.InstanceName),
		slog.String("source", plan.SourceHost),
		slog.String("destination", plan.DestinationHost),
		slog.Int("ram_mb", plan.FootprintMB),
	)

	return plan, nil
}

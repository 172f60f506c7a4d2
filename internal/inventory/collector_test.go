package inventory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/drain"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository/repotest"
)

const suffix = ".example.com"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture() *repotest.Compute {
	c := repotest.NewCompute()
	c.AddHypervisor("hv1"+suffix, 16, 8192, 500)
	c.AddHypervisor("hv2"+suffix, 16, 8192, 500)
	c.AddFlavor(model.Flavor{ID: "small", RAM: 1024, VCPUs: 1, Disk: 10})
	c.AddFlavor(model.Flavor{ID: "large", RAM: 4096, VCPUs: 4, Disk: 40, Swap: 2})
	return c
}

func TestCollectAccountsEligibleInstances(t *testing.T) {
	c := newFixture()
	c.AddServer("a", "web-1", "hv1", suffix, "small")
	c.AddServer("b", "web-2", "hv1", suffix, "large")
	c.AddServer("c", "db-1", "hv2", suffix, "large")

	snap, err := NewCollector(c, drain.NewTracker(), config.BalancerConfig{DomainSuffix: suffix}, discardLogger()).
		Collect(context.Background())
	require.NoError(t, err)

	hv1, ok := snap.Host("hv1" + suffix)
	require.True(t, ok)
	assert.Equal(t, model.Resources{VCPU: 5, RAMMB: 5120, DiskGB: 52}, hv1.Used)
	assert.Equal(t, 2, hv1.InstanceCount)
	assert.Equal(t, map[int]string{1024: "a", 4096: "b"}, hv1.RAMIndex)
	assert.Equal(t, map[int]string{1: "a", 4: "b"}, hv1.VCPUIndex)
	assert.Equal(t, map[int]string{10: "a", 42: "b"}, hv1.DiskIndex)
	assert.Equal(t, 8192-5120, hv1.FreeRAMMB())

	hv2, _ := snap.Host("hv2" + suffix)
	assert.Equal(t, 4096, hv2.Used.RAMMB)
	assert.Len(t, snap.Instances, 3)
	assert.Empty(t, snap.Skipped)
}

func TestCollectEligibility(t *testing.T) {
	c := newFixture()
	c.AddServer("ok", "ok", "hv1", suffix, "small")
	c.AddServer("stopped", "stopped", "hv1", suffix, "small")
	c.UpdateServer("stopped", func(s *model.Server) { s.Status = "SHUTOFF" })
	c.AddServer("busy", "busy", "hv1", suffix, "small")
	c.UpdateServer("busy", func(s *model.Server) { s.TaskState = "migrating" })
	c.AddServer("mismatch", "mismatch", "hv1", suffix, "small")
	c.UpdateServer("mismatch", func(s *model.Server) { s.HypervisorHostname = "hv2" + suffix })
	c.AddServer("orphan", "orphan", "hv9", suffix, "small")

	snap, err := NewCollector(c, drain.NewTracker(), config.BalancerConfig{DomainSuffix: suffix}, discardLogger()).
		Collect(context.Background())
	require.NoError(t, err)

	reasons := map[string]model.SkipReason{}
	for _, s := range snap.Skipped {
		reasons[s.ID] = s.Reason
	}
	assert.Equal(t, map[string]model.SkipReason{
		"stopped":  model.SkipReasonInactive,
		"busy":     model.SkipReasonBusy,
		"mismatch": model.SkipReasonHostMismatch,
		"orphan":   model.SkipReasonUnknownHost,
	}, reasons)

	hv1, _ := snap.Host("hv1" + suffix)
	hv2, _ := snap.Host("hv2" + suffix)
	assert.Equal(t, 1, hv1.InstanceCount)
	assert.Equal(t, 1024, hv1.Used.RAMMB)
	assert.Equal(t, 0, hv2.InstanceCount)
	assert.Equal(t, 1, c.FlavorCalls)
}

func TestCollectRAMTotalEqualsSumOfIncludedFlavors(t *testing.T) {
	c := newFixture()
	c.AddFlavor(model.Flavor{ID: "mid", RAM: 2048, VCPUs: 2, Disk: 20})
	flavors := []string{"small", "large", "mid", "mid", "small", "large", "large"}
	for i, f := range flavors {
		id := string(rune('a' + i))
		host := "hv1"
		if i%2 == 1 {
			host = "hv2"
		}
		c.AddServer(id, id, host, suffix, f)
	}
	c.UpdateServer("c", func(s *model.Server) { s.TaskState = "resize_prep" })

	snap, err := NewCollector(c, drain.NewTracker(), config.BalancerConfig{DomainSuffix: suffix}, discardLogger()).
		Collect(context.Background())
	require.NoError(t, err)

	for _, name := range snap.Hostnames() {
		host, _ := snap.Host(name)
		sum := 0
		for _, rec := range snap.Instances {
			if rec.HypervisorHostname == name {
				sum += rec.Footprint.RAMMB
			}
		}
		assert.Equal(t, sum, host.Used.RAMMB, name)
	}
}

func TestCollectIndexCollapsesEqualValues(t *testing.T) {
	c := newFixture()
	c.AddServer("first", "first", "hv1", suffix, "small")
	c.AddServer("second", "second", "hv1", suffix, "small")

	snap, err := NewCollector(c, drain.NewTracker(), config.BalancerConfig{DomainSuffix: suffix}, discardLogger()).
		Collect(context.Background())
	require.NoError(t, err)

	hv1, _ := snap.Host("hv1" + suffix)
	assert.Equal(t, 2, hv1.InstanceCount)
	assert.Equal(t, "second", hv1.RAMIndex[1024])
}

func TestCollectAttemptedInstancesCountedButNotIndexed(t *testing.T) {
	c := newFixture()
	c.AddServer("a", "web-1", "hv1", suffix, "small")
	c.AddServer("b", "web-2", "hv1", suffix, "large")

	tracker := drain.NewTracker()
	tracker.MarkAttempted("b")

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	snap, err := NewCollector(c, tracker, config.BalancerConfig{DomainSuffix: suffix, DrainingHost: "hv1"}, logger).
		Collect(context.Background())
	require.NoError(t, err)

	hv1, _ := snap.Host("hv1" + suffix)
	assert.Equal(t, 5120, hv1.Used.RAMMB)
	assert.Equal(t, map[int]string{1024: "a"}, hv1.RAMIndex)
	assert.Contains(t, buf.String(), "does not appear to have been moved successfully")
	assert.Contains(t, buf.String(), "instance_id=b")
}

func TestCollectNoWarningForPinnedInstances(t *testing.T) {
	c := newFixture()
	c.AddServer("pinned", "pinned", "hv1", suffix, "small")

	cfg := config.BalancerConfig{DomainSuffix: suffix, DrainingHost: "hv1", ExcludeInstances: []string{"pinned"}}
	var buf bytes.Buffer

	_, err := NewCollector(c, drain.NewTracker(cfg.ExcludeInstances...), cfg, slog.New(slog.NewTextHandler(&buf, nil))).
		Collect(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "does not appear")
}

func TestCollectFetchErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		mutate func(*repotest.Compute)
		op     string
	}{
		{"servers", func(c *repotest.Compute) { c.ListServersErr = boom }, "list_servers"},
		{"hypervisors", func(c *repotest.Compute) { c.ListHypervisorsErr = boom }, "list_hypervisors"},
		{"no hypervisors", func(c *repotest.Compute) { c.Hypervisors = nil }, "list_hypervisors"},
		{"flavor", func(c *repotest.Compute) { c.AddServer("x", "x", "hv1", suffix, "missing") }, "get_flavor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFixture()
			tt.mutate(c)

			snap, err := NewCollector(c, drain.NewTracker(), config.BalancerConfig{DomainSuffix: suffix}, discardLogger()).
				Collect(context.Background())
			assert.Nil(t, snap)

			var fetchErr *model.InventoryFetchError
			require.True(t, errors.As(err, &fetchErr))
			assert.Equal(t, tt.op, fetchErr.Op)
		})
	}
}

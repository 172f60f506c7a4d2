package migration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/drain"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository/repotest"
)

const suffix = ".example.com"

// fakeProber answers from a queue, repeating the last answer when it runs out
type fakeProber struct {
	mu      sync.Mutex
	answers []bool
	checked []string
}

func (p *fakeProber) Reachable(ctx context.Context, fqdn string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checked = append(p.checked, fqdn)
	answer := p.answers[0]
	if len(p.answers) > 1 {
		p.answers = p.answers[1:]
	}
	return answer
}

func testConfig() config.MigrationConfig {
	return config.MigrationConfig{
		PollInterval:   time.Millisecond,
		SettleDuration: 3 * time.Millisecond,
		SettleTick:     time.Millisecond,
	}
}

func newCompute() *repotest.Compute {
	c := repotest.NewCompute()
	c.AddHypervisor("hv1"+suffix, 16, 8192, 500)
	c.AddHypervisor("hv2"+suffix, 16, 8192, 500)
	c.AddServer("a", "web-1", "hv1", suffix, "f")
	c.OnMigrate = repotest.MoveTo(suffix)
	return c
}

func testPlan(mode model.Mode) *model.MigrationPlan {
	return &model.MigrationPlan{
		InstanceID:      "a",
		InstanceName:    "web-1",
		SourceHost:      "hv1" + suffix,
		DestinationHost: "hv2" + suffix,
		FootprintMB:     2048,
		Mode:            mode,
	}
}

func newOrchestrator(c *repotest.Compute, p Prober, tr *drain.Tracker, cfg config.MigrationConfig) *Orchestrator {
	return NewOrchestrator(c, p, tr, cfg, suffix, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecuteDone(t *testing.T) {
	c := newCompute()
	c.QueuePolls("a",
		model.Server{ID: "a", Status: "MIGRATING", HypervisorHostname: "hv1" + suffix},
		model.Server{ID: "a", Status: "MIGRATING", HypervisorHostname: "hv1" + suffix},
	)
	prober := &fakeProber{answers: []bool{true}}
	tracker := drain.NewTracker()

	result, err := newOrchestrator(c, prober, tracker, testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))
	require.NoError(t, err)

	assert.Equal(t, model.StateDone, result.State)
	assert.Equal(t, []model.MigrationState{
		model.StateSelected, model.StatePreCheck, model.StateMigrating, model.StatePolling,
		model.StateVerified, model.StateSettling, model.StatePostCheck, model.StateDone,
	}, result.Trail)
	assert.Equal(t, 3, result.PollAttempts)
	assert.Equal(t, "hv2"+suffix, result.FinalHost)

	require.Len(t, c.Migrations, 1)
	assert.Equal(t, repotest.Migration{InstanceID: "a", Host: "hv2"}, c.Migrations[0])
	assert.Equal(t, []string{"web-1" + suffix, "web-1" + suffix}, prober.checked)
	assert.False(t, tracker.WasAttempted("a"))
}

func TestExecuteWithoutProber(t *testing.T) {
	c := newCompute()

	result, err := newOrchestrator(c, nil, drain.NewTracker(), testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))
	require.NoError(t, err)
	assert.Equal(t, []model.MigrationState{
		model.StateSelected, model.StateMigrating, model.StatePolling,
		model.StateVerified, model.StateSettling, model.StateDone,
	}, result.Trail)
}

func TestExecuteDrainMarksAttempted(t *testing.T) {
	c := newCompute()
	tracker := drain.NewTracker()

	result, err := newOrchestrator(c, nil, tracker, testConfig()).Execute(context.Background(), testPlan(model.ModeDrain))
	require.NoError(t, err)
	assert.Equal(t, model.StateDone, result.State)
	assert.True(t, tracker.WasAttempted("a"))
}

func TestScenarioCDrainPreCheckAborts(t *testing.T) {
	c := newCompute()
	prober := &fakeProber{answers: []bool{false}}
	tracker := drain.NewTracker()

	result, err := newOrchestrator(c, prober, tracker, testConfig()).Execute(context.Background(), testPlan(model.ModeDrain))

	var preErr *model.PreMigrationHealthFailure
	require.True(t, errors.As(err, &preErr))
	assert.Equal(t, "web-1"+suffix, preErr.Hostname)
	assert.True(t, model.IsBenign(err))

	assert.Equal(t, model.StateAborted, result.State)
	assert.True(t, tracker.WasAttempted("a"))
	assert.Equal(t, 0, c.MigrationCount())
}

func TestBalancePreCheckFailureSkipsPostCheck(t *testing.T) {
	c := newCompute()
	prober := &fakeProber{answers: []bool{false, false}}

	result, err := newOrchestrator(c, prober, drain.NewTracker(), testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))
	require.NoError(t, err)

	assert.Equal(t, model.StateDone, result.State)
	assert.NotContains(t, result.Trail, model.StatePostCheck)
	assert.Len(t, prober.checked, 1)
	assert.Equal(t, 1, c.MigrationCount())
}

func TestScenarioDVerificationFailure(t *testing.T) {
	c := newCompute()
	c.OnMigrate = nil
	prober := &fakeProber{answers: []bool{true}}

	result, err := newOrchestrator(c, prober, drain.NewTracker(), testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))

	var verifyErr *model.MigrationVerificationFailure
	require.True(t, errors.As(err, &verifyErr))
	assert.Equal(t, "hv1"+suffix, verifyErr.Actual)
	assert.Equal(t, "hv2"+suffix, verifyErr.Expected)
	assert.True(t, model.IsBenign(err))

	assert.Equal(t, model.StateFailed, result.State)
	assert.Contains(t, result.Trail, model.StateSettling)
	assert.NotContains(t, result.Trail, model.StatePostCheck)
	assert.Len(t, prober.checked, 1)
}

func TestScenarioEPostCheckFailureIsFatal(t *testing.T) {
	c := newCompute()
	prober := &fakeProber{answers: []bool{true, false}}

	result, err := newOrchestrator(c, prober, drain.NewTracker(), testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))

	var postErr *model.PostMigrationHealthFailure
	require.True(t, errors.As(err, &postErr))
	assert.Contains(t, err.Error(), "EMERGENCY")
	assert.False(t, model.IsBenign(err))
	assert.Equal(t, model.StateFatal, result.State)
}

func TestMigrationRequestErrorIsFatal(t *testing.T) {
	c := newCompute()
	c.MigrateErr = errors.New("no valid host")

	result, err := newOrchestrator(c, nil, drain.NewTracker(), testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))

	var reqErr *model.MigrationRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.Equal(t, "hv2", reqErr.Host)
	assert.False(t, model.IsBenign(err))
	assert.Equal(t, model.StateFatal, result.State)
	assert.Equal(t, 0, c.ServerGets)
}

func TestPollAttemptCap(t *testing.T) {
	c := newCompute()
	stuck := model.Server{ID: "a", Status: "MIGRATING", HypervisorHostname: "hv1" + suffix}
	c.QueuePolls("a", stuck, stuck, stuck, stuck, stuck)

	cfg := testConfig()
	cfg.PollMaxAttempts = 3

	result, err := newOrchestrator(c, nil, drain.NewTracker(), cfg).Execute(context.Background(), testPlan(model.ModeBalance))

	var timeoutErr *model.PollTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, 3, timeoutErr.Attempts)
	assert.Equal(t, "MIGRATING", timeoutErr.LastStatus)
	assert.Equal(t, model.StateFatal, result.State)
	assert.Equal(t, 3, c.ServerGets)
}

func TestPollReadFailureIsFatal(t *testing.T) {
	c := newCompute()
	c.GetServerErr = errors.New("503")

	result, err := newOrchestrator(c, nil, drain.NewTracker(), testConfig()).Execute(context.Background(), testPlan(model.ModeBalance))
	assert.Error(t, err)
	assert.False(t, model.IsBenign(err))
	assert.Equal(t, model.StateFatal, result.State)
}

func TestPollCancelled(t *testing.T) {
	c := newCompute()
	stuck := model.Server{ID: "a", Status: "MIGRATING"}
	for i := 0; i < 1000; i++ {
		c.QueuePolls("a", stuck)
	}

	cfg := testConfig()
	cfg.PollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result, err := newOrchestrator(c, nil, drain.NewTracker(), cfg).Execute(ctx, testPlan(model.ModeBalance))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, model.StateFatal, result.State)
}

func TestSettleCancelled(t *testing.T) {
	c := newCompute()
	cfg := testConfig()
	cfg.SettleDuration = time.Hour
	cfg.SettleTick = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := newOrchestrator(c, nil, drain.NewTracker(), cfg).Execute(ctx, testPlan(model.ModeBalance))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.StateFatal, result.State)
}

func TestRefusesSameHost(t *testing.T) {
	c := newCompute()
	plan := testPlan(model.ModeBalance)
	plan.DestinationHost = plan.SourceHost

	_, err := newOrchestrator(c, nil, drain.NewTracker(), testConfig()).Execute(context.Background(), plan)
	assert.Error(t, err)
	assert.Equal(t, 0, c.MigrationCount())
}

func TestFQDN(t *testing.T) {
	assert.Equal(t, "web-1.example.com", FQDN("web-1", suffix))
	assert.Equal(t, "web-1.other.org", FQDN("web-1.other.org", suffix))
}

func TestStripSuffix(t *testing.T) {
	assert.Equal(t, "hv2", StripSuffix("hv2.example.com", suffix))
	assert.Equal(t, "hv2.example.com.local", StripSuffix("hv2.example.com.local", suffix))
	assert.Equal(t, "hv2.example.com", StripSuffix("hv2.example.com", ""))
}

func TestPollPolicyExhausted(t *testing.T) {
	assert.False(t, PollPolicy{Interval: time.Second}.exhausted(1000, time.Hour))
	assert.True(t, PollPolicy{Interval: time.Second, MaxAttempts: 2}.exhausted(2, 0))
	assert.True(t, PollPolicy{Interval: time.Second, Timeout: 10 * time.Second}.exhausted(1, 10*time.Second))
	assert.False(t, PollPolicy{Interval: time.Second, Timeout: 10 * time.Second}.exhausted(1, 5*time.Second))
}

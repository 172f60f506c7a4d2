package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirychukyurii/hv-balancer/internal/analyzer"
	"github.com/kirychukyurii/hv-balancer/internal/api"
	"github.com/kirychukyurii/hv-balancer/internal/cache"
	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/drain"
	"github.com/kirychukyurii/hv-balancer/internal/healthcheck"
	"github.com/kirychukyurii/hv-balancer/internal/inventory"
	"github.com/kirychukyurii/hv-balancer/internal/logger"
	"github.com/kirychukyurii/hv-balancer/internal/metrics"
	"github.com/kirychukyurii/hv-balancer/internal/migration"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository"
	"github.com/kirychukyurii/hv-balancer/internal/retry"
	"github.com/kirychukyurii/hv-balancer/internal/service"
	"github.com/kirychukyurii/hv-balancer/pkg/httpserver"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	var drainingHost string
	configPath := flag.String("config", "", "path to configuration file")
	flag.StringVar(&drainingHost, "drain", "", "hypervisor to drain; balance mode when empty")
	flag.StringVar(&drainingHost, "D", "", "shorthand for -drain")
	daemon := flag.Bool("daemon", false, "keep running after an iteration with nothing to do")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return 0
	}

	overrides := map[string]any{}
	if drainingHost != "" {
		overrides["balancer.draining_host"] = drainingHost
	}
	if *daemon {
		overrides["daemon.enabled"] = true
	}

	// Load configuration
	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		logger.New().Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	log := logger.NewWithOptions(os.Stdout, logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)

	log.Info("configuration loaded",
		slog.String("version", version),
		slog.String("mode", string(cfg.Mode())),
		slog.String("draining_host", cfg.Balancer.DrainingHost),
		slog.Bool("daemon", cfg.Daemon.Enabled),
		slog.Bool("probe", cfg.Probe.Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create compute repository
	policy := retry.New(cfg.Retry, log)
	flavors := cache.NewFlavorCache(cache.New(cfg.Cache.FlavorTTL), cfg.Cache.FlavorTTL)

	compute, err := repository.NewComputeRepository(cfg.OpenStack, policy, flavors, log)
	if err != nil {
		log.Error("failed to create compute repository",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// Reachability checks are optional; the orchestrator takes a nil interface to skip them
	var prober migration.Prober
	if cfg.Probe.Enabled() {
		p, err := healthcheck.NewProber(cfg.Probe, log)
		if err != nil {
			log.Error("failed to create reachability prober",
				slog.String("error", err.Error()),
			)
			return 1
		}
		prober = p
	}

	tracker := drain.NewTracker(cfg.Balancer.ExcludeInstances...)

	collector := inventory.NewCollector(compute, tracker, cfg.Balancer, log)
	balanceAnalyzer := analyzer.New(cfg.Balancer, log)
	selector := analyzer.NewSelector(log)
	orchestrator := migration.NewOrchestrator(compute, prober, tracker, cfg.Migration, cfg.Balancer.DomainSuffix, log)

	// Create etcd repository
	var coord repository.CoordinationRepository
	if cfg.Etcd.Enabled() {
		coord, err = repository.NewCoordinationRepository(cfg.Etcd, log)
		if err != nil {
			log.Error("failed to create etcd repository",
				slog.String("error", err.Error()),
			)
			return 1
		}
		defer coord.Close()

		log.Info("etcd client initialized",
			slog.Any("endpoints", cfg.Etcd.Endpoints),
		)

		if last, err := coord.ReadLastRun(ctx); err == nil {
			log.Info("previous run",
				slog.Int("iteration", last.Number),
				slog.String("outcome", string(last.Outcome)),
				slog.String("message", last.Message),
				slog.Time("finished_at", last.FinishedAt),
			)
		}
	}

	m := metrics.New()

	svc := service.NewBalancerService(collector, balanceAnalyzer, selector, orchestrator, tracker, coord, m, cfg, log)

	if cfg.Server.Addr != "" {
		handler := api.NewHandler(svc, m.Handler(), cfg.Server.BasePath, log)
		srv := httpserver.New(
			cfg.Server.Addr,
			handler.Router(),
			cfg.Server.ReadTimeout,
			cfg.Server.WriteTimeout,
			log,
		)

		serverCtx, cancelServer := context.WithCancel(ctx)
		serverDone := make(chan struct{})
		go func() {
			defer close(serverDone)
			if err := srv.Run(serverCtx); err != nil {
				log.Error("server error",
					slog.String("error", err.Error()),
				)
			}
		}()
		defer func() {
			cancelServer()
			<-serverDone
		}()
	}

	log.Info("starting hv-balancer")

	if err := svc.Run(ctx); err != nil {
		var postCheck *model.PostMigrationHealthFailure
		if errors.As(err, &postCheck) {
			log.Error("EMERGENCY: migrated instance is unreachable, operator action required",
				slog.String("hostname", postCheck.Hostname),
			)
		} else {
			log.Error("balancer stopped",
				slog.String("error", err.Error()),
			)
		}
		return 1
	}

	log.Info("shutdown complete")
	return 0
}

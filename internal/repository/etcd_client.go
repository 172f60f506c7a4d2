package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/util"
)

// ErrLockHeld is returned when another balancer instance owns the run lock
var ErrLockHeld = errors.New("balancer lock is held by another instance")

// CoordinationRepository keeps concurrent balancer runs from overlapping
type CoordinationRepository interface {
	// Acquire takes the run lock without waiting. It returns ErrLockHeld when
	// another instance owns it.
	Acquire(ctx context.Context) error

	// Release gives the run lock back
	Release(ctx context.Context) error

	// WriteLastRun records the outcome of the latest iteration
	WriteLastRun(ctx context.Context, report *model.IterationReport) error

	// ReadLastRun reads the outcome recorded by any instance
	ReadLastRun(ctx context.Context) (*model.IterationReport, error)

	// Close closes the etcd client connection
	Close() error
}

// etcdClient implements CoordinationRepository
type etcdClient struct {
	client *clientv3.Client
	cfg    config.EtcdConfig
	logger *slog.Logger

	mu      sync.Mutex
	session *concurrency.Session
	mutex   *concurrency.Mutex
}

// NewCoordinationRepository creates a new etcd-backed coordination repository
func NewCoordinationRepository(cfg config.EtcdConfig, logger *slog.Logger) (CoordinationRepository, error) {
	etcdCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	}

	// Configure TLS if provided
	if cfg.TLS != nil {
		tlsConfig, err := util.LoadTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		etcdCfg.TLS = tlsConfig
	}

	client, err := clientv3.New(etcdCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.Status(ctx, cfg.Endpoints[0])
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logger.Info("Connected to etcd cluster", "endpoints", cfg.Endpoints)

	return &etcdClient{
		client: client,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Acquire takes the run lock without waiting
func (e *etcdClient) Acquire(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mutex != nil {
		return nil
	}

	session, err := concurrency.NewSession(e.client,
		concurrency.WithTTL(int(e.cfg.SessionTTL.Seconds())),
		concurrency.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to create etcd session: %w", err)
	}

	mutex := concurrency.NewMutex(session, e.cfg.LockKey)
	if err := mutex.TryLock(ctx); err != nil {
		session.Close()
		if errors.Is(err, concurrency.ErrLocked) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to acquire lock %s: %w", e.cfg.LockKey, err)
	}

	e.session = session
	e.mutex = mutex

	e.logger.Info("Acquired balancer lock", "key", mutex.Key())

	return nil
}

// Release gives the run lock back
func (e *etcdClient) Release(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mutex == nil {
		return nil
	}

	err := e.mutex.Unlock(ctx)
	closeErr := e.session.Close()
	e.mutex = nil
	e.session = nil

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close etcd session: %w", closeErr)
	}

	e.logger.Debug("Released balancer lock", "key", e.cfg.LockKey)

	return nil
}

// WriteLastRun records the outcome of the latest iteration
func (e *etcdClient) WriteLastRun(ctx context.Context, report *model.IterationReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal iteration report: %w", err)
	}

	_, err = e.client.Put(ctx, e.cfg.StatusKey, string(data))
	if err != nil {
		return fmt.Errorf("failed to write iteration report to etcd: %w", err)
	}

	e.logger.Debug("Wrote iteration report to etcd",
		"iteration", report.Number,
		"outcome", report.Outcome)

	return nil
}

// ReadLastRun reads the outcome recorded by any instance
func (e *etcdClient) ReadLastRun(ctx context.Context) (*model.IterationReport, error) {
	resp, err := e.client.Get(ctx, e.cfg.StatusKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read iteration report from etcd: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("no iteration report found in etcd")
	}

	var report model.IterationReport
	if err := json.Unmarshal(resp.Kvs[0].Value, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal iteration report: %w", err)
	}

	return &report, nil
}

// Close releases the lock if held and closes the etcd client connection
func (e *etcdClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Release(ctx); err != nil {
		e.logger.Warn("Failed to release lock on close", "error", err)
	}

	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

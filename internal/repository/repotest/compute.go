// Package repotest provides an in-memory compute repository for tests.
package repotest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/repository"
)

// Migration is a recorded live-migration request
type Migration struct {
	InstanceID string
	Host       string
}

// Compute is an in-memory repository.ComputeRepository
type Compute struct {
	mu sync.Mutex

	Hypervisors []model.Hypervisor
	Servers     []model.Server
	Flavors     map[string]model.Flavor

	ListServersErr     error
	ListHypervisorsErr error
	GetServerErr       error
	MigrateErr         error

	// OnMigrate runs after a successful request and may move the server
	OnMigrate func(c *Compute, id, host string)

	// Polls queues GetServer responses per id; when empty the stored server is returned
	Polls map[string][]model.Server

	Migrations  []Migration
	FlavorCalls int
	ServerGets  int
}

var _ repository.ComputeRepository = (*Compute)(nil)

// NewCompute creates an empty fake
func NewCompute() *Compute {
	return &Compute{
		Flavors: make(map[string]model.Flavor),
		Polls:   make(map[string][]model.Server),
	}
}

// AddHypervisor registers a hypervisor
func (c *Compute) AddHypervisor(hostname string, vcpus, memoryMB, localGB int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Hypervisors = append(c.Hypervisors, model.Hypervisor{
		Hostname: hostname,
		VCPUs:    vcpus,
		MemoryMB: memoryMB,
		LocalGB:  localGB,
	})
}

// AddFlavor registers a flavor
func (c *Compute) AddFlavor(f model.Flavor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Flavors[f.ID] = f
}

// AddServer registers an ACTIVE, idle server on host+suffix
func (c *Compute) AddServer(id, name, host, suffix, flavorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Servers = append(c.Servers, model.Server{
		ID:                 id,
		Name:               name,
		Host:               host,
		HypervisorHostname: host + suffix,
		Status:             model.ServerStatusActive,
		FlavorID:           flavorID,
	})
}

// UpdateServer applies fn to the stored server with id
func (c *Compute) UpdateServer(id string, fn func(*model.Server)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.Servers {
		if c.Servers[i].ID == id {
			fn(&c.Servers[i])
		}
	}
}

// QueuePolls queues GetServer responses for id
func (c *Compute) QueuePolls(id string, states ...model.Server) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Polls[id] = append(c.Polls[id], states...)
}

// MigrationCount returns the number of recorded migration requests
func (c *Compute) MigrationCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.Migrations)
}

// ListHypervisors returns the registered hypervisors
func (c *Compute) ListHypervisors(ctx context.Context) ([]model.Hypervisor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ListHypervisorsErr != nil {
		return nil, c.ListHypervisorsErr
	}
	return append([]model.Hypervisor(nil), c.Hypervisors...), nil
}

// ListServers returns the registered servers in insertion order
func (c *Compute) ListServers(ctx context.Context) ([]model.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ListServersErr != nil {
		return nil, c.ListServersErr
	}
	return append([]model.Server(nil), c.Servers...), nil
}

// GetFlavor returns a registered flavor
func (c *Compute) GetFlavor(ctx context.Context, id string) (model.Flavor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FlavorCalls++
	f, ok := c.Flavors[id]
	if !ok {
		return model.Flavor{}, fmt.Errorf("flavor %s: %w", id, repository.ErrNotFound)
	}
	return f, nil
}

// GetServer pops a queued poll response or returns the stored server
func (c *Compute) GetServer(ctx context.Context, id string) (model.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ServerGets++
	if c.GetServerErr != nil {
		return model.Server{}, c.GetServerErr
	}
	if queued := c.Polls[id]; len(queued) > 0 {
		c.Polls[id] = queued[1:]
		return queued[0], nil
	}
	for _, s := range c.Servers {
		if s.ID == id {
			return s, nil
		}
	}
	return model.Server{}, fmt.Errorf("server %s: %w", id, repository.ErrNotFound)
}

// LiveMigrate records the request and runs OnMigrate
func (c *Compute) LiveMigrate(ctx context.Context, id, host string) error {
	c.mu.Lock()
	if c.MigrateErr != nil {
		c.mu.Unlock()
		return c.MigrateErr
	}
	c.Migrations = append(c.Migrations, Migration{InstanceID: id, Host: host})
	hook := c.OnMigrate
	c.mu.Unlock()

	if hook != nil {
		hook(c, id, host)
	}
	return nil
}

// MoveTo returns an OnMigrate hook landing the server on host+suffix
func MoveTo(suffix string) func(c *Compute, id, host string) {
	return func(c *Compute, id, host string) {
		c.UpdateServer(id, func(s *model.Server) {
			s.Host = host
			s.HypervisorHostname = host + suffix
		})
	}
}

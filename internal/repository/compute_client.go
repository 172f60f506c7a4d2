package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/hypervisors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/extensions/migrate"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/flavors"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"

	"github.com/kirychukyurii/hv-balancer/internal/cache"
	"github.com/kirychukyurii/hv-balancer/internal/config"
	"github.com/kirychukyurii/hv-balancer/internal/model"
	"github.com/kirychukyurii/hv-balancer/internal/retry"
)

// ErrNotFound is returned when the compute API answers 404
var ErrNotFound = errors.New("not found")

// ComputeRepository defines the compute control-plane operations the balancer needs
type ComputeRepository interface {
	// ListHypervisors returns every hypervisor with its capacity
	ListHypervisors(ctx context.Context) ([]model.Hypervisor, error)

	// ListServers returns all instances across all projects
	ListServers(ctx context.Context) ([]model.Server, error)

	// GetFlavor resolves a flavor by id, served from cache when possible
	GetFlavor(ctx context.Context, id string) (model.Flavor, error)

	// GetServer re-reads a single instance
	GetServer(ctx context.Context, id string) (model.Server, error)

	// LiveMigrate asks the compute service to move an instance to host.
	// It is never retried.
	LiveMigrate(ctx context.Context, id, host string) error
}

// computeServer carries the admin-only extended attributes next to the base server fields
type computeServer struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Status             string         `json:"status"`
	Flavor             map[string]any `json:"flavor"`
	Host               string         `json:"OS-EXT-SRV-ATTR:host"`
	HypervisorHostname string         `json:"OS-EXT-SRV-ATTR:hypervisor_hostname"`
	TaskState          *string        `json:"OS-EXT-STS:task_state"`
}

func (s computeServer) toModel() model.Server {
	srv := model.Server{
		ID:                 s.ID,
		Name:               s.Name,
		Host:               s.Host,
		HypervisorHostname: s.HypervisorHostname,
		Status:             s.Status,
	}
	if s.TaskState != nil {
		srv.TaskState = *s.TaskState
	}
	if id, ok := s.Flavor["id"].(string); ok {
		srv.FlavorID = id
	}
	return srv
}

// computeRepository implements ComputeRepository on top of gophercloud
type computeRepository struct {
	client  *gophercloud.ServiceClient
	retry   *retry.Policy
	flavors *cache.FlavorCache
	logger  *slog.Logger
}

// NewComputeRepository authenticates with the OS_* environment and creates a compute client
func NewComputeRepository(cfg config.OpenStackConfig, policy *retry.Policy, flavors *cache.FlavorCache, logger *slog.Logger) (ComputeRepository, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, &model.ConfigurationError{Field: "OS_*", Message: err.Error()}
	}

	provider, err := openstack.AuthenticatedClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}

	client, err := openstack.NewComputeV2(provider, gophercloud.EndpointOpts{
		Region:       cfg.Region,
		Availability: availability(cfg.EndpointType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute client: %w", err)
	}

	logger.Info("connected to compute API",
		slog.String("endpoint", client.Endpoint),
		slog.String("region", cfg.Region))

	return newComputeRepository(client, policy, flavors, logger), nil
}

func newComputeRepository(client *gophercloud.ServiceClient, policy *retry.Policy, flavors *cache.FlavorCache, logger *slog.Logger) *computeRepository {
	return &computeRepository{
		client:  client,
		retry:   policy,
		flavors: flavors,
		logger:  logger,
	}
}

func availability(endpointType string) gophercloud.Availability {
	switch strings.ToLower(endpointType) {
	case "internal":
		return gophercloud.AvailabilityInternal
	case "admin":
		return gophercloud.AvailabilityAdmin
	default:
		return gophercloud.AvailabilityPublic
	}
}

// ListHypervisors returns every hypervisor with its capacity
func (r *computeRepository) ListHypervisors(ctx context.Context) ([]model.Hypervisor, error) {
	var list []hypervisors.Hypervisor
	err := r.retry.Do(ctx, "list_hypervisors", func() error {
		pages, err := hypervisors.List(r.client, nil).AllPages()
		if err != nil {
			return err
		}
		list, err = hypervisors.ExtractHypervisors(pages)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list hypervisors: %w", err)
	}

	result := make([]model.Hypervisor, 0, len(list))
	for _, hv := range list {
		result = append(result, model.Hypervisor{
			Hostname: hv.HypervisorHostname,
			VCPUs:    hv.VCPUs,
			MemoryMB: hv.MemoryMB,
			LocalGB:  hv.LocalGB,
		})
	}

	r.logger.Debug("listed hypervisors", slog.Int("count", len(result)))

	return result, nil
}

// ListServers returns all instances across all projects
func (r *computeRepository) ListServers(ctx context.Context) ([]model.Server, error) {
	var list []computeServer
	err := r.retry.Do(ctx, "list_servers", func() error {
		pages, err := servers.List(r.client, servers.ListOpts{AllTenants: true}).AllPages()
		if err != nil {
			return err
		}
		list = nil
		return servers.ExtractServersInto(pages, &list)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}

	result := make([]model.Server, 0, len(list))
	for _, s := range list {
		result = append(result, s.toModel())
	}

	r.logger.Debug("listed servers", slog.Int("count", len(result)))

	return result, nil
}

// GetFlavor resolves a flavor by id, served from cache when possible
func (r *computeRepository) GetFlavor(ctx context.Context, id string) (model.Flavor, error) {
	if flavor, ok := r.flavors.Get(id); ok {
		return flavor, nil
	}

	var f *flavors.Flavor
	err := r.retry.Do(ctx, "get_flavor", func() error {
		var err error
		f, err = flavors.Get(r.client, id).Extract()
		return classify(err)
	})
	if err != nil {
		return model.Flavor{}, fmt.Errorf("failed to get flavor %s: %w", id, err)
	}

	flavor := model.Flavor{
		ID:    f.ID,
		RAM:   f.RAM,
		VCPUs: f.VCPUs,
		Disk:  f.Disk,
		Swap:  f.Swap,
	}
	r.flavors.Set(flavor)

	return flavor, nil
}

// GetServer re-reads a single instance
func (r *computeRepository) GetServer(ctx context.Context, id string) (model.Server, error) {
	var s computeServer
	err := r.retry.Do(ctx, "get_server", func() error {
		return classify(servers.Get(r.client, id).ExtractInto(&s))
	})
	if err != nil {
		return model.Server{}, fmt.Errorf("failed to get server %s: %w", id, err)
	}

	return s.toModel(), nil
}

// LiveMigrate asks the compute service to move an instance to host
func (r *computeRepository) LiveMigrate(ctx context.Context, id, host string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	blockMigration := false
	diskOverCommit := false
	opts := migrate.LiveMigrateOpts{
		Host:           &host,
		BlockMigration: &blockMigration,
		DiskOverCommit: &diskOverCommit,
	}

	if err := migrate.LiveMigrate(r.client, id, opts).ExtractErr(); err != nil {
		return fmt.Errorf("failed to live-migrate %s to %s: %w", id, host, err)
	}

	r.logger.Info("live migration requested",
		slog.String("instance_id", id),
		slog.String("host", host))

	return nil
}

// classify stops retries on 404 and maps it to ErrNotFound
func classify(err error) error {
	if err == nil {
		return nil
	}
	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return retry.Permanent(fmt.Errorf("%w: %v", ErrNotFound, err))
	}
	return err
}

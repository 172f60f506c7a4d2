package model

// Server status and task state values used by the balancer
const (
	ServerStatusActive = "ACTIVE"
)

// Server represents a compute instance as listed by the compute API
type Server struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Host               string `json:"host"`                // short hostname, OS-EXT-SRV-ATTR:host
	HypervisorHostname string `json:"hypervisor_hostname"` // FQDN, OS-EXT-SRV-ATTR:hypervisor_hostname
	Status             string `json:"status"`
	TaskState          string `json:"task_state"` // empty when no task is running
	FlavorID           string `json:"flavor_id"`
}

// Flavor represents the resource definition of an instance
type Flavor struct {
	ID    string `json:"id"`
	RAM   int    `json:"ram"` // MB
	VCPUs int    `json:"vcpus"`
	Disk  int    `json:"disk"` // GB
	Swap  int    `json:"swap"` // zero when the flavor has no swap
}

// Footprint returns the resources an instance of this flavor consumes
func (f Flavor) Footprint() Footprint {
	return Footprint{
		VCPU:   f.VCPUs,
		RAMMB:  f.RAM,
		DiskGB: f.Disk + f.Swap,
	}
}

// Footprint is the resource consumption of one instance
type Footprint struct {
	VCPU   int `json:"vcpu"`
	RAMMB  int `json:"ram_mb"`
	DiskGB int `json:"disk_gb"` // disk + swap
}

// InstanceRecord is an eligible instance resolved during snapshot construction
type InstanceRecord struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Host               string    `json:"host"`
	HypervisorHostname string    `json:"hypervisor_hostname"`
	Status             string    `json:"status"`
	TaskState          string    `json:"task_state"`
	Footprint          Footprint `json:"footprint"`
}

// SkipReason explains why an instance was left out of an iteration
type SkipReason string

const (
	SkipReasonInactive     SkipReason = "inactive"
	SkipReasonBusy         SkipReason = "task_state"
	SkipReasonHostMismatch SkipReason = "host_mismatch"
	SkipReasonUnknownHost  SkipReason = "unknown_hypervisor"
)

// EligibilitySkip records an instance excluded from accounting
type EligibilitySkip struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Reason SkipReason `json:"reason"`
	Detail string     `json:"detail"`
}

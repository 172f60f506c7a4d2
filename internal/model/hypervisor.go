package model

// Hypervisor represents a compute host as reported by the compute API
type Hypervisor struct {
	Hostname string `json:"hostname"` // FQDN, e.g. hv1.example.com
	VCPUs    int    `json:"vcpus"`
	MemoryMB int    `json:"memory_mb"`
	LocalGB  int    `json:"local_gb"`
}

// Resources is a vcpu/ram/disk triple used for both capacity and usage
type Resources struct {
	VCPU   int `json:"vcpu"`
	RAMMB  int `json:"ram_mb"`
	DiskGB int `json:"disk_gb"`
}

// Add returns the sum of two resource triples
func (r Resources) Add(o Resources) Resources {
	return Resources{
		VCPU:   r.VCPU + o.VCPU,
		RAMMB:  r.RAMMB + o.RAMMB,
		DiskGB: r.DiskGB + o.DiskGB,
	}
}

// HostSnapshot is the point-in-time view of a single hypervisor built at the
// start of every iteration.
//
// The per-metric indexes map a footprint value to one instance id. Instances
// sharing a value collapse to the one written last.
type HostSnapshot struct {
	Hostname      string         `json:"hostname"`
	Capacity      Resources      `json:"capacity"`
	Used          Resources      `json:"used"`
	InstanceCount int            `json:"instance_count"`
	RAMIndex      map[int]string `json:"-"`
	VCPUIndex     map[int]string `json:"-"`
	DiskIndex     map[int]string `json:"-"`
}

// NewHostSnapshot creates an empty snapshot with capacity copied from the hypervisor
func NewHostSnapshot(hv Hypervisor) *HostSnapshot {
	return &HostSnapshot{
		Hostname: hv.Hostname,
		Capacity: Resources{
			VCPU:   hv.VCPUs,
			RAMMB:  hv.MemoryMB,
			DiskGB: hv.LocalGB,
		},
		RAMIndex:  make(map[int]string),
		VCPUIndex: make(map[int]string),
		DiskIndex: make(map[int]string),
	}
}

// Account adds an instance footprint to the host totals
func (h *HostSnapshot) Account(fp Footprint) {
	h.Used = h.Used.Add(Resources(fp))
	h.InstanceCount++
}

// Index records the instance as a migration candidate under each metric
func (h *HostSnapshot) Index(id string, fp Footprint) {
	h.RAMIndex[fp.RAMMB] = id
	h.VCPUIndex[fp.VCPU] = id
	h.DiskIndex[fp.DiskGB] = id
}

// FreeRAMMB returns the unallocated RAM on the host
func (h *HostSnapshot) FreeRAMMB() int {
	return h.Capacity.RAMMB - h.Used.RAMMB
}

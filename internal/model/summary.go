package model

// HostUtilization is the per-host row of the utilization summary
type HostUtilization struct {
	Hostname  string `json:"hostname"`
	Instances int    `json:"instances"`
	VCPU      int    `json:"vcpu"`
	VCPUPct   int    `json:"vcpu_pct"`
	RAMMB     int    `json:"ram_mb"`
	RAMPct    int    `json:"ram_pct"`
	DiskGB    int    `json:"disk_gb"`
}

// Averages holds the running averages across the hosts processed so far
type Averages struct {
	Instances int `json:"instances"`
	VCPU      int `json:"vcpu"`
	VCPUPct   int `json:"vcpu_pct"`
	RAMMB     int `json:"ram_mb"`
	RAMPct    int `json:"ram_pct"`
	DiskGB    int `json:"disk_gb"`
}

// UtilizationSummary is the analyzer output for one snapshot
type UtilizationSummary struct {
	Hosts []HostUtilization `json:"hosts"` // sorted by hostname
	// Running holds the averages after each host, Running[k-1] after k hosts
	Running []Averages `json:"-"`
	Average Averages   `json:"average"`
}

// Host returns the utilization row of a single host
func (s UtilizationSummary) Host(name string) (HostUtilization, bool) {
	for _, h := range s.Hosts {
		if h.Hostname == name {
			return h, true
		}
	}
	return HostUtilization{}, false
}

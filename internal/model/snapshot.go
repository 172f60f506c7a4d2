package model

import "sort"

// Snapshot is the full inventory view for one iteration
type Snapshot struct {
	Hosts     map[string]*HostSnapshot  `json:"hosts"` // keyed by hypervisor hostname
	Instances map[string]InstanceRecord `json:"instances"`
	Skipped   []EligibilitySkip         `json:"skipped"`
}

// NewSnapshot creates an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Hosts:     make(map[string]*HostSnapshot),
		Instances: make(map[string]InstanceRecord),
	}
}

// Hostnames returns the hypervisor hostnames in sorted order
func (s *Snapshot) Hostnames() []string {
	names := make([]string, 0, len(s.Hosts))
	for name := range s.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Host returns the snapshot of a single hypervisor
func (s *Snapshot) Host(name string) (*HostSnapshot, bool) {
	h, ok := s.Hosts[name]
	return h, ok
}

// ResolveHost maps a configured host name to a hypervisor hostname. A short
// name is tried with suffix appended when it is not listed as given.
func (s *Snapshot) ResolveHost(name, suffix string) (string, bool) {
	if _, ok := s.Hosts[name]; ok {
		return name, true
	}
	if suffix != "" {
		if _, ok := s.Hosts[name+suffix]; ok {
			return name + suffix, true
		}
	}
	return "", false
}

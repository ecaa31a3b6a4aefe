package endpoint

import (
	"fmt"
)

// Manager holds a Pool's fixed, ordered list of Endpoints. The list never
// changes after construction: Endpoint identity ("endpoint-<index>") must
// stay stable for the Pool's lifetime, so unlike the teacher's
// add/remove-capable server manager this one is read-only after New.
type Manager struct {
	endpoints []*Endpoint
}

// NewManager normalizes each Config into an Endpoint in order, assigning
// ids "endpoint-0", "endpoint-1", ... Fails if configs is empty or any
// entry is invalid.
func NewManager(configs []Config) (*Manager, error) {
	if len(configs) == 0 {
		return nil, errNoEndpoints
	}

	endpoints := make([]*Endpoint, 0, len(configs))
	for i, cfg := range configs {
		e, err := New(id(i), cfg)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return &Manager{endpoints: endpoints}, nil
}

func id(index int) string {
	return fmt.Sprintf("endpoint-%d", index)
}

// All returns the fixed endpoint list, in insertion order. The slice
// itself is a fresh copy; the pointed-to Endpoints are shared and
// internally synchronized.
func (m *Manager) All() []*Endpoint {
	out := make([]*Endpoint, len(m.endpoints))
	copy(out, m.endpoints)
	return out
}

// Len returns the number of configured endpoints.
func (m *Manager) Len() int {
	return len(m.endpoints)
}

// Find looks up an endpoint by its id or its configured URL.
func (m *Manager) Find(urlOrID string) *Endpoint {
	for _, e := range m.endpoints {
		if e.ID == urlOrID || e.URL == urlOrID {
			return e
		}
	}
	return nil
}

var errNoEndpoints = errEndpoints("pool requires at least one endpoint")

type errEndpoints string

func (e errEndpoints) Error() string { return string(e) }

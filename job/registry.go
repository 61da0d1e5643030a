package job

import (
	"sort"
	"sync"
	"time"
)

// Registration binds a job type to its handler and loop settings. Zero
// durations and concurrency fall back to the controller defaults.
type Registration struct {
	Type         string
	PollInterval time.Duration
	WorkTimeout  time.Duration
	Concurrency  int
	Handler      HandlerFunc
}

// Registry maps job types to registrations.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		regs: make(map[string]Registration),
	}
}

// Register adds or replaces the registration for reg.Type.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[reg.Type] = reg
}

// Get returns the registration for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[jobType]
	return reg, ok
}

// Types returns all registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.regs))
	for t := range r.regs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// All returns every registration ordered by type.
func (r *Registry) All() []Registration {
	types := r.Types()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Registration, 0, len(types))
	for _, t := range types {
		out = append(out, r.regs[t])
	}
	return out
}

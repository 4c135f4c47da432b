package supervisor

import (
	"sort"
	"sync"
)

// Registry names the supervisors of running subsystems for health output.
// A nil *Registry ignores every call.
type Registry struct {
	mu sync.RWMutex
	m  map[string]*Supervisor
}

func NewRegistry() *Registry {
	return &Registry{m: map[string]*Supervisor{}}
}

// Set registers or replaces a supervisor; nil deletes.
func (r *Registry) Set(name string, sup *Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *Registry) Delete(name string) { r.Set(name, nil) }

// Snapshots returns the state of every registered supervisor by name.
func (r *Registry) Snapshots() map[string]Snapshot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.m))
	for k, v := range r.m {
		out[k] = v.Snapshot()
	}
	return out
}

// Failing lists the supervisors that recorded an error, sorted.
func (r *Registry) Failing() []string {
	var out []string
	for name, snap := range r.Snapshots() {
		if snap.FirstError != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

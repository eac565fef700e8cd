package projection

import (
	"sync"

	"github.com/cuemby/eventcore/pkg/query"
	"github.com/cuemby/eventcore/pkg/state"
)

// Spec is one named, versioned projection registration (§4.10's
// {initial_state, fold_fn, target_events_filter}), reusing pkg/state's
// FoldFn shape since both C8's as-of reconstruction and C10's live
// materialization apply the same fold semantics to the same events.
type Spec struct {
	Name         string
	Version      int
	InitialState []byte
	Fold         state.FoldFn
	TargetFilter *query.Filter
}

// Registry holds the currently active version of every named projection.
// Register replaces a name's entry as one atomic map write under lock;
// a rebuild in progress computes its new Spec fully before calling
// Register, so a concurrent Get always returns a complete projection,
// never a partially rebuilt one (§4.10 "hot reload").
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*Spec
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Spec)}
}

// Register installs spec, replacing any prior version under the same
// name.
func (r *Registry) Register(spec *Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Name] = spec
}

// Get returns the active Spec for name, if registered.
func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Names lists every registered projection name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	return names
}

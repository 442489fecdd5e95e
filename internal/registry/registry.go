// Package registry keeps the catalog of models the broker knows about:
// the static built-in catalog, custom models registered at runtime and
// GGUF files discovered on disk for the builtin backend.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"inferd/pkg/types"
)

// Registry holds model descriptors. Descriptors are created at process
// start and never deleted; a delete operation only flips Installed off.
type Registry struct {
	mu     sync.RWMutex
	models []types.ModelDescriptor
}

// New builds a registry from the static catalog plus any extra descriptors
// (custom models, scanned GGUF files). Declaration order is preserved; it
// breaks recommendation ties.
func New(extra ...types.ModelDescriptor) *Registry {
	r := &Registry{}
	r.models = append(r.models, Catalog()...)
	r.models = append(r.models, extra...)
	return r
}

// All returns a copy of every descriptor.
func (r *Registry) All() []types.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.ModelDescriptor, len(r.models))
	copy(out, r.models)
	return out
}

// ByID looks a descriptor up by its composite id.
func (r *Registry) ByID(id string) (types.ModelDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.ID == id {
			return m, true
		}
	}
	return types.ModelDescriptor{}, false
}

// ForBackend returns descriptors declared for the given backend, in
// declaration order.
func (r *Registry) ForBackend(kind types.BackendKind) []types.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.ModelDescriptor
	for _, m := range r.models {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// Add registers a descriptor at runtime (custom models). Adding an id that
// already exists replaces the old entry in place, keeping its position.
func (r *Registry) Add(d types.ModelDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.models {
		if m.ID == d.ID {
			r.models[i] = d
			return
		}
	}
	r.models = append(r.models, d)
}

// MarkInstalled flips the installed flag for a descriptor. Unknown ids are
// ignored; adapters may serve models the catalog never declared.
func (r *Registry) MarkInstalled(id string, installed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.models {
		if r.models[i].ID == id {
			r.models[i].Installed = installed
			return
		}
	}
}

// QualifiedID builds the composite "kind:modelId" key.
func QualifiedID(kind types.BackendKind, modelID string) string {
	return string(kind) + ":" + modelID
}

// SplitID splits a composite id into backend kind and raw model id.
// Returns ok=false when the prefix is not a known backend kind.
func SplitID(id string) (types.BackendKind, string, bool) {
	prefix, rest, found := strings.Cut(id, ":")
	if !found {
		return "", id, false
	}
	switch kind := types.BackendKind(prefix); kind {
	case types.BackendBuiltin, types.BackendOllama, types.BackendCloud:
		return kind, rest, true
	}
	return "", id, false
}

// HumanSize renders a byte count the way the catalog labels sizes.
func HumanSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.0f MB", float64(n)/float64(1<<20))
	case n > 0:
		return fmt.Sprintf("%d B", n)
	default:
		return "unknown"
	}
}

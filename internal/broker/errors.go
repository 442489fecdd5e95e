package broker

import (
	"fmt"

	"inferd/pkg/types"
)

// noProviderError signals that no available backend can serve a capability,
// for 503 mapping.
type noProviderError struct{ cap types.Capability }

func (e noProviderError) Error() string {
	return "no available provider supports capability: " + string(e.cap)
}

// ErrNoProvider constructs a noProviderError.
func ErrNoProvider(cap types.Capability) error { return noProviderError{cap: cap} }

// IsNoProvider reports whether err means no backend could serve the capability.
func IsNoProvider(err error) bool {
	_, ok := err.(noProviderError)
	return ok
}

// resourceExhaustedError signals that eviction could not free enough budget,
// for 507 mapping.
type resourceExhaustedError struct {
	modelID string
	needed  int64
	budget  int64
}

func (e resourceExhaustedError) Error() string {
	return fmt.Sprintf("cannot load %s: needs %d bytes, budget is %d", e.modelID, e.needed, e.budget)
}

// ErrResourceExhausted constructs a resourceExhaustedError.
func ErrResourceExhausted(modelID string, needed, budget int64) error {
	return resourceExhaustedError{modelID: modelID, needed: needed, budget: budget}
}

// IsResourceExhausted reports whether err means the memory budget cannot fit the model.
func IsResourceExhausted(err error) bool {
	_, ok := err.(resourceExhaustedError)
	return ok
}

// modelNotFoundError signals an unknown model id, for 404 mapping.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

// ErrModelNotFound constructs a modelNotFoundError.
func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	_, ok := err.(modelNotFoundError)
	return ok
}

// backendUnavailableError signals that a named backend exists but its last
// probe failed, for 503 mapping.
type backendUnavailableError struct {
	kind   types.BackendKind
	reason string
}

func (e backendUnavailableError) Error() string {
	if e.reason == "" {
		return "backend unavailable: " + string(e.kind)
	}
	return "backend unavailable: " + string(e.kind) + ": " + e.reason
}

// ErrBackendUnavailable constructs a backendUnavailableError.
func ErrBackendUnavailable(kind types.BackendKind, reason string) error {
	return backendUnavailableError{kind: kind, reason: reason}
}

// IsBackendUnavailable reports whether err means the chosen backend is down.
func IsBackendUnavailable(err error) bool {
	_, ok := err.(backendUnavailableError)
	return ok
}

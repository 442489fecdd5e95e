//go:build !llama

package backend

// This file provides a no-CGO stub for the builtin llama runtime. It is
// compiled when the 'llama' build tag is NOT set, keeping default builds and
// CI CGO-free. The real runtime lives in builtin_llama.go (tagged 'llama').

// llamaRuntimeBuilt indicates whether real llama support was compiled in.
var llamaRuntimeBuilt = false

func newGGUFModel(path string, ctxSize, threads int) (ggufModel, error) {
	// Fail fast: llama runtime not available in this build.
	return nil, ErrRuntimeUnavailable("llama support not built (missing 'llama' build tag)")
}

// Package backend normalizes concrete inference engines into a common
// capability-call interface. Each adapter implements the small core
// contract; capability and lifecycle methods are optional interfaces the
// router discovers by assertion, so a missing capability is a first-class
// "not supported" condition rather than an error.
package backend

import (
	"context"

	"inferd/pkg/types"
)

// Adapter is the contract every backend implements.
type Adapter interface {
	Kind() types.BackendKind
	// Probe is a cheap liveness check. Network-based implementations bound
	// it with a short timeout; it must not hang.
	Probe(ctx context.Context) error
	// ListModels reports the models the backend can currently serve. An
	// errored backend returns an empty slice, never nil.
	ListModels(ctx context.Context) ([]types.ModelDescriptor, error)
	// Capabilities is the declared capability set of the backend.
	Capabilities() types.CapabilitySet
	// RecommendModel picks the best registry model for a capability at or
	// below the given tier. Deterministic: highest tier wins, declaration
	// order breaks ties.
	RecommendModel(cap types.Capability, tier types.HardwareTier) (types.ModelDescriptor, bool)
}

// Optional capability interfaces. A backend that cannot embed simply does
// not implement Embedder.
type (
	ChatProvider interface {
		Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	}
	Generator interface {
		Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	}
	Embedder interface {
		Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error)
	}
	VisionProvider interface {
		Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error)
	}
	AudioTranscriber interface {
		Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error)
	}
	ImageGenerator interface {
		GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error)
	}
)

// PullProgressFunc receives download progress events. Implementations must
// not block; percent is not guaranteed monotonic.
type PullProgressFunc func(types.PullProgress)

// Optional lifecycle interfaces. Cloud backends implement none of these.
type (
	Puller interface {
		// Pull downloads a model. Pulling an already-installed model
		// reports 100/complete immediately without re-downloading.
		Pull(ctx context.Context, modelID string, onProgress PullProgressFunc) error
	}
	Deleter interface {
		Delete(ctx context.Context, modelID string) error
	}
	ModelLoader interface {
		Load(ctx context.Context, modelID string) error
		Unload(ctx context.Context, modelID string) error
	}
)

// Supports reports whether the adapter both declares the capability and
// implements its call interface.
func Supports(a Adapter, cap types.Capability) bool {
	if !a.Capabilities().Has(cap) {
		return false
	}
	switch cap {
	case types.CapChat:
		_, ok := a.(ChatProvider)
		return ok
	case types.CapGenerate:
		_, ok := a.(Generator)
		return ok
	case types.CapEmbed:
		_, ok := a.(Embedder)
		return ok
	case types.CapVision:
		_, ok := a.(VisionProvider)
		return ok
	case types.CapAudio:
		_, ok := a.(AudioTranscriber)
		return ok
	case types.CapImageGen:
		_, ok := a.(ImageGenerator)
		return ok
	default:
		return false
	}
}

// RecommendFrom implements the shared recommendation rule over a declared
// model list: highest min-tier at or below the caller's tier that supports
// the capability; earlier declaration wins ties.
func RecommendFrom(models []types.ModelDescriptor, cap types.Capability, tier types.HardwareTier) (types.ModelDescriptor, bool) {
	var best types.ModelDescriptor
	found := false
	for _, m := range models {
		if !m.Supports(cap) || m.MinTier > tier {
			continue
		}
		if !found || m.MinTier > best.MinTier {
			best = m
			found = true
		}
	}
	return best, found
}

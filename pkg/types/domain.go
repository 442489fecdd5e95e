package types

// Capability is a named unit of inference work a backend can perform.
type Capability string

const (
	CapChat     Capability = "chat"
	CapGenerate Capability = "generate"
	CapEmbed    Capability = "embed"
	CapVision   Capability = "vision"
	CapAudio    Capability = "audio"
	CapImageGen Capability = "image_gen"
)

// CapabilitySet is the declared capability set of a backend or model.
type CapabilitySet map[Capability]bool

// Has reports whether cap is in the set. Safe on a nil set.
func (s CapabilitySet) Has(cap Capability) bool { return s[cap] }

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// BackendKind identifies a concrete inference backend.
type BackendKind string

const (
	BackendBuiltin BackendKind = "builtin" // in-process llama.cpp runtime
	BackendOllama  BackendKind = "ollama"  // local HTTP-served runtime
	BackendCloud   BackendKind = "cloud"   // OpenAI-compatible cloud API
)

// HardwareTier is a discrete hardware capability class used to gate model
// recommendations. Higher is more capable.
type HardwareTier int

const (
	TierT0 HardwareTier = iota
	TierT1
	TierT2
	TierT3
)

func (t HardwareTier) String() string {
	switch t {
	case TierT3:
		return "T3"
	case TierT2:
		return "T2"
	case TierT1:
		return "T1"
	default:
		return "T0"
	}
}

// PullPhase marks the stage of a model download.
type PullPhase string

const (
	PullDownloading PullPhase = "downloading"
	PullVerifying   PullPhase = "verifying"
	PullComplete    PullPhase = "complete"
	PullError       PullPhase = "error"
)

package types

// ModelDescriptor identifies a model known to the broker. The ID is a
// composite "kind:modelId" key; Kind always matches the prefix.
type ModelDescriptor struct {
	// Composite identifier.
	// example: ollama:llama3.2:3b
	ID string `json:"id" example:"ollama:llama3.2:3b"`
	// Backend kind that serves this model.
	// example: ollama
	Kind BackendKind `json:"kind" example:"ollama"`
	// Raw model id as the backend knows it (no kind prefix).
	// example: llama3.2:3b
	ModelID string `json:"model_id" example:"llama3.2:3b"`
	// Human-friendly name.
	// example: Llama 3.2 3B
	Name string `json:"name" example:"Llama 3.2 3B"`
	// Declared capability list.
	Capabilities []Capability `json:"capabilities"`
	// Approximate on-disk size in bytes.
	// example: 2019393536
	SizeBytes int64 `json:"size_bytes" example:"2019393536"`
	// Human size label.
	// example: 1.9 GB
	SizeLabel string `json:"size_label" example:"1.9 GB"`
	// Minimum hardware tier the model runs acceptably on.
	// example: 1
	MinTier HardwareTier `json:"min_tier" example:"1"`
	// Derived flags, never stored.
	Installed bool `json:"installed"`
	Loaded    bool `json:"loaded"`
	// Set only for user-registered custom models.
	HuggingFaceID string `json:"hugging_face_id,omitempty"`
}

// Supports reports whether the descriptor declares the capability.
func (d ModelDescriptor) Supports(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// CapabilitySet returns the declared capabilities as a set.
func (d ModelDescriptor) CapabilitySet() CapabilitySet {
	return NewCapabilitySet(d.Capabilities...)
}

// HardwareSnapshot is the result of a hardware probe.
type HardwareSnapshot struct {
	// Total physical RAM in bytes.
	// example: 34359738368
	TotalRAMBytes int64 `json:"total_ram_bytes" example:"34359738368"`
	// Detected VRAM in bytes; 0 when no GPU facility answered.
	// example: 8589934592
	VRAMBytes int64 `json:"vram_bytes" example:"8589934592"`
	// Where the VRAM figure came from: gpu, unified or none.
	// example: gpu
	VRAMSource string `json:"vram_source" example:"gpu"`
	// GPU device name when known.
	// example: NVIDIA GeForce RTX 4070
	GPUName string `json:"gpu_name,omitempty" example:"NVIDIA GeForce RTX 4070"`
	// Logical CPU count.
	// example: 16
	CPUCount int `json:"cpu_count" example:"16"`
	// Derived capability tier.
	// example: 1
	Tier HardwareTier `json:"tier" example:"1"`
	// Unix seconds of the probe.
	// example: 1700000000
	DetectedAtUnix int64 `json:"detected_at_unix" example:"1700000000"`
}

// PullProgress is a transient download progress event. Percent is not
// guaranteed monotonic: a restarted download may reset to 0.
type PullProgress struct {
	ModelID string      `json:"model_id"`
	Backend BackendKind `json:"backend"`
	// example: 42.5
	Percent float64   `json:"percent" example:"42.5"`
	Phase   PullPhase `json:"phase"`
	Error   string    `json:"error,omitempty"`
}

// LoadedModel describes one loaded model instance tracked by the governor.
type LoadedModel struct {
	ModelID string      `json:"model_id"`
	Backend BackendKind `json:"backend"`
	// Unix seconds.
	LoadedAtUnix int64 `json:"loaded_at_unix"`
	LastUsedUnix int64 `json:"last_used_unix"`
	// example: 4294967296
	MemoryBytes int64 `json:"memory_bytes" example:"4294967296"`
}

// ProviderStatus is the last-probed state of one backend. A probe replaces
// the whole value; observers never see a partial update.
type ProviderStatus struct {
	Kind      BackendKind `json:"kind"`
	Available bool        `json:"available"`
	// Human-readable probe error when unavailable.
	Error string `json:"error,omitempty"`
	// Models the backend reported; empty (not null) when unavailable.
	Models []ModelDescriptor `json:"models"`
	// In-flight download, when one is running on this backend.
	Pulling *PullProgress `json:"pulling,omitempty"`
	// Unix seconds of the probe that produced this status.
	CheckedAtUnix int64 `json:"checked_at_unix"`
}

// AllProvidersStatus aggregates per-backend status plus derived routing hints.
type AllProvidersStatus struct {
	Providers []ProviderStatus `json:"providers"`
	// True when at least one backend is available.
	HasAvailableProvider bool `json:"has_available_provider"`
	// First available backend in preference order; empty when none.
	RecommendedProvider BackendKind `json:"recommended_provider,omitempty"`
}

// SystemStats is a cached sample of system load.
type SystemStats struct {
	// example: 23.5
	CPUPercent float64 `json:"cpu_percent" example:"23.5"`
	// example: 61.2
	RAMPercent float64 `json:"ram_percent" example:"61.2"`
	// Nil when no GPU utilization source is available.
	GPUPercent *float64 `json:"gpu_percent,omitempty"`
	// Unix seconds of the sample.
	SampledAtUnix int64 `json:"sampled_at_unix"`
}

package registry

import "inferd/pkg/types"

// Catalog returns the static model registry. Order matters: within one
// backend, earlier entries win recommendation ties.
func Catalog() []types.ModelDescriptor {
	return []types.ModelDescriptor{
		// Ollama-served models.
		entry(types.BackendOllama, "llama3.2:1b", "Llama 3.2 1B", 1321098329, types.TierT0,
			types.CapChat, types.CapGenerate),
		entry(types.BackendOllama, "llama3.2:3b", "Llama 3.2 3B", 2019393536, types.TierT1,
			types.CapChat, types.CapGenerate),
		entry(types.BackendOllama, "llama3.1:8b", "Llama 3.1 8B", 4920738242, types.TierT2,
			types.CapChat, types.CapGenerate),
		entry(types.BackendOllama, "llama3.1:70b", "Llama 3.1 70B", 42520413916, types.TierT3,
			types.CapChat, types.CapGenerate),
		entry(types.BackendOllama, "llava:7b", "LLaVA 7B", 4733363377, types.TierT1,
			types.CapVision, types.CapChat),
		entry(types.BackendOllama, "llava:13b", "LLaVA 13B", 8012382378, types.TierT2,
			types.CapVision, types.CapChat),
		entry(types.BackendOllama, "nomic-embed-text", "Nomic Embed Text", 274302450, types.TierT0,
			types.CapEmbed),
		entry(types.BackendOllama, "mxbai-embed-large", "MxBai Embed Large", 669615493, types.TierT1,
			types.CapEmbed),

		// Builtin (in-process llama.cpp) models; installed entries are
		// discovered by scanning the models directory.
		entry(types.BackendBuiltin, "tinyllama-1.1b-q4.gguf", "TinyLlama 1.1B (Q4)", 668788096, types.TierT0,
			types.CapChat, types.CapGenerate),
		entry(types.BackendBuiltin, "phi-3-mini-q4.gguf", "Phi-3 Mini (Q4)", 2393232608, types.TierT1,
			types.CapChat, types.CapGenerate, types.CapEmbed),

		// Cloud models; size is zero because nothing lands on disk.
		entry(types.BackendCloud, "gpt-4o-mini", "GPT-4o mini", 0, types.TierT0,
			types.CapChat, types.CapGenerate, types.CapVision),
		entry(types.BackendCloud, "gpt-4o", "GPT-4o", 0, types.TierT0,
			types.CapChat, types.CapGenerate, types.CapVision),
		entry(types.BackendCloud, "text-embedding-3-small", "Text Embedding 3 Small", 0, types.TierT0,
			types.CapEmbed),
		entry(types.BackendCloud, "whisper-1", "Whisper v1", 0, types.TierT0,
			types.CapAudio),
		entry(types.BackendCloud, "dall-e-3", "DALL-E 3", 0, types.TierT0,
			types.CapImageGen),
	}
}

func entry(kind types.BackendKind, modelID, name string, size int64, minTier types.HardwareTier, caps ...types.Capability) types.ModelDescriptor {
	return types.ModelDescriptor{
		ID:           QualifiedID(kind, modelID),
		Kind:         kind,
		ModelID:      modelID,
		Name:         name,
		Capabilities: caps,
		SizeBytes:    size,
		SizeLabel:    HumanSize(size),
		MinTier:      minTier,
	}
}

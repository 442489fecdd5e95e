package registry

import (
	"path"
	"strings"

	"inferd/internal/settings"
	"inferd/pkg/types"
)

// DescriptorForCustom turns a persisted custom-model entry into a catalog
// descriptor. The raw model id is the last path element of the Hugging Face
// id; builtin entries get a .gguf suffix so the scanner and puller agree on
// the on-disk name.
func DescriptorForCustom(m settings.CustomModel) types.ModelDescriptor {
	raw := path.Base(m.HuggingFaceID)
	if m.Backend == types.BackendBuiltin && !strings.HasSuffix(raw, ".gguf") {
		raw += ".gguf"
	}
	name := m.DisplayName
	if name == "" {
		name = raw
	}
	caps := m.Capabilities
	if len(caps) == 0 {
		caps = []types.Capability{types.CapChat, types.CapGenerate}
	}
	return types.ModelDescriptor{
		ID:            QualifiedID(m.Backend, raw),
		Kind:          m.Backend,
		ModelID:       raw,
		Name:          name,
		Capabilities:  caps,
		MinTier:       types.TierT0,
		HuggingFaceID: m.HuggingFaceID,
	}
}

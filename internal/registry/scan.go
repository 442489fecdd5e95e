package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"inferd/internal/common/fsutil"
	"inferd/pkg/types"
)

// ScanGGUFDir scans a directory for *.gguf files and builds builtin-backend
// descriptors from them. ID is the full filename; size and tier come from
// the file size. Files the static catalog already declares are marked
// installed instead of duplicated.
func ScanGGUFDir(dir string) ([]types.ModelDescriptor, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.ModelDescriptor
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		var size int64
		if fi, err := e.Info(); err == nil {
			size = fi.Size()
		}
		d := types.ModelDescriptor{
			ID:           QualifiedID(types.BackendBuiltin, name),
			Kind:         types.BackendBuiltin,
			ModelID:      name,
			Name:         name,
			Capabilities: []types.Capability{types.CapChat, types.CapGenerate, types.CapEmbed},
			SizeBytes:    size,
			SizeLabel:    HumanSize(size),
			MinTier:      tierForSize(size),
			Installed:    true,
		}
		models = append(models, d)
	}
	return models, nil
}

// tierForSize gives a rough minimum tier for an on-disk GGUF file when the
// catalog does not declare one.
func tierForSize(size int64) types.HardwareTier {
	switch {
	case size >= 20<<30:
		return types.TierT3
	case size >= 8<<30:
		return types.TierT2
	case size >= 3<<30:
		return types.TierT1
	default:
		return types.TierT0
	}
}

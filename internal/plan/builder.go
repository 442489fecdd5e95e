// Package plan turns a free-text request plus attached files into a
// descriptive multi-phase plan the user confirms before execution. The
// construction is heuristic: file extensions and request keywords pick the
// capabilities, fixed per-step costs produce the estimate.
package plan

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"inferd/pkg/types"
)

// Per-step wall-clock cost guesses in seconds, used for the estimate.
const (
	costIngest     = 5
	costTranscribe = 60
	costVision     = 20
	costText       = 15
	costImageGen   = 45
	costEmbed      = 10
)

var audioExts = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true, ".webm": true,
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
}

// Builder constructs plans. Stateless; one instance serves all requests.
type Builder struct{}

func NewBuilder() *Builder { return &Builder{} }

// Build assembles the plan for a request. Always returns at least one
// phase with one step: even a bare request plans a text pass.
func (b *Builder) Build(req types.PlanRequest) types.Plan {
	p := types.Plan{
		ID:      uuid.NewString(),
		Request: req.Request,
	}

	var ingest, process []types.PlanStep
	estimate := 0

	for _, f := range req.Files {
		ext := strings.ToLower(filepath.Ext(f))
		base := filepath.Base(f)
		switch {
		case audioExts[ext]:
			ingest = append(ingest, types.PlanStep{
				Name:       "transcribe " + base,
				Capability: types.CapAudio,
				Detail:     "convert the recording to text",
			})
			estimate += costTranscribe
		case imageExts[ext]:
			ingest = append(ingest, types.PlanStep{
				Name:       "describe " + base,
				Capability: types.CapVision,
				Detail:     "extract what the image shows",
			})
			estimate += costVision
		default:
			ingest = append(ingest, types.PlanStep{
				Name:       "read " + base,
				Capability: types.CapGenerate,
				Detail:     "load the file contents as text",
			})
			estimate += costIngest
		}
	}

	lower := strings.ToLower(req.Request)
	switch {
	case containsAny(lower, "draw", "generate an image", "create an image", "illustration", "picture of"):
		process = append(process, types.PlanStep{
			Name:       "generate image",
			Capability: types.CapImageGen,
			Detail:     "render the requested image",
		})
		estimate += costImageGen
	case containsAny(lower, "embed", "similar", "search", "index"):
		process = append(process, types.PlanStep{
			Name:       "compute embeddings",
			Capability: types.CapEmbed,
			Detail:     "vectorize the material for similarity search",
		})
		estimate += costEmbed
	}

	// Every plan ends with a text step that produces the user's answer.
	process = append(process, types.PlanStep{
		Name:       "compose answer",
		Capability: types.CapGenerate,
		Detail:     "produce the final response from the gathered material",
	})
	estimate += costText

	if len(ingest) > 0 {
		p.Phases = append(p.Phases, types.PlanPhase{Name: "gather", Steps: ingest})
	}
	p.Phases = append(p.Phases, types.PlanPhase{Name: "process", Steps: process})
	p.EstimatedSeconds = estimate
	return p
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"inferd/internal/common/fsutil"
	"inferd/internal/registry"
	"inferd/pkg/types"
)

// ggufModel is the minimal surface the builtin adapter needs from the
// llama runtime. The concrete implementation is selected by the 'llama'
// build tag; default builds get a stub that fails fast.
type ggufModel interface {
	Predict(prompt string, maxTokens int, temperature float64) (string, error)
	Embed(text string) ([]float64, error)
	Free()
}

// BuiltinAdapter runs GGUF models in-process via llama.cpp. Models live as
// files under modelsDir; Load/Unload manage real llama contexts.
type BuiltinAdapter struct {
	modelsDir string
	reg       *registry.Registry
	ctxSize   int
	threads   int

	mu     sync.Mutex
	loaded map[string]ggufModel // keyed by raw model id (filename)
}

// NewBuiltinAdapter constructs the adapter over a GGUF models directory.
func NewBuiltinAdapter(modelsDir string, reg *registry.Registry, ctxSize, threads int) *BuiltinAdapter {
	if ctxSize <= 0 {
		ctxSize = 2048
	}
	return &BuiltinAdapter{
		modelsDir: modelsDir,
		reg:       reg,
		ctxSize:   ctxSize,
		threads:   threads,
		loaded:    make(map[string]ggufModel),
	}
}

func (a *BuiltinAdapter) Kind() types.BackendKind { return types.BackendBuiltin }

func (a *BuiltinAdapter) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapChat, types.CapGenerate, types.CapEmbed)
}

// Probe verifies the models directory is usable. No network involved.
func (a *BuiltinAdapter) Probe(ctx context.Context) error {
	dir, err := fsutil.ExpandHome(a.modelsDir)
	if err != nil {
		return Errf("builtin", err, "bad models dir %q", a.modelsDir)
	}
	if !fsutil.PathExists(dir) {
		return Errf("builtin", nil, "models dir %q does not exist", a.modelsDir)
	}
	return nil
}

func (a *BuiltinAdapter) ListModels(ctx context.Context) ([]types.ModelDescriptor, error) {
	models, err := registry.ScanGGUFDir(a.modelsDir)
	if err != nil {
		return []types.ModelDescriptor{}, Errf("builtin", err, "scan models dir")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range models {
		if _, ok := a.loaded[models[i].ModelID]; ok {
			models[i].Loaded = true
		}
	}
	return models, nil
}

func (a *BuiltinAdapter) RecommendModel(cap types.Capability, tier types.HardwareTier) (types.ModelDescriptor, bool) {
	return RecommendFrom(a.reg.ForBackend(types.BackendBuiltin), cap, tier)
}

func (a *BuiltinAdapter) modelPath(modelID string) (string, error) {
	dir, err := fsutil.ExpandHome(a.modelsDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, modelID), nil
}

// Load instantiates a llama context for the model. Idempotent: loading an
// already-loaded model is a no-op.
func (a *BuiltinAdapter) Load(ctx context.Context, modelID string) error {
	a.mu.Lock()
	if _, ok := a.loaded[modelID]; ok {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	path, err := a.modelPath(modelID)
	if err != nil {
		return Errf("builtin", err, "resolve model path")
	}
	if !fsutil.PathExists(path) {
		return Errf("builtin", nil, "model file %q not found", modelID)
	}
	start := time.Now()
	m, err := newGGUFModel(path, a.ctxSize, a.threads)
	if err != nil {
		return Errf("builtin", err, "load %s", modelID)
	}
	a.mu.Lock()
	// Another caller may have won the race; keep the first context.
	if _, ok := a.loaded[modelID]; ok {
		a.mu.Unlock()
		m.Free()
		return nil
	}
	a.loaded[modelID] = m
	a.mu.Unlock()
	log.Info().Str("model", modelID).Dur("dur", time.Since(start)).Msg("builtin model loaded")
	return nil
}

// Unload frees the llama context. Unknown ids are a no-op.
func (a *BuiltinAdapter) Unload(ctx context.Context, modelID string) error {
	a.mu.Lock()
	m, ok := a.loaded[modelID]
	delete(a.loaded, modelID)
	a.mu.Unlock()
	if ok {
		m.Free()
		log.Info().Str("model", modelID).Msg("builtin model unloaded")
	}
	return nil
}

func (a *BuiltinAdapter) ensureLoaded(ctx context.Context, modelID string) (ggufModel, error) {
	a.mu.Lock()
	m, ok := a.loaded[modelID]
	a.mu.Unlock()
	if ok {
		return m, nil
	}
	if err := a.Load(ctx, modelID); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded[modelID], nil
}

func (a *BuiltinAdapter) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	m, err := a.ensureLoaded(ctx, modelID)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	text, err := m.Predict(req.Prompt, req.MaxTokens, req.Temperature)
	if err != nil {
		return types.GenerateResponse{}, Errf("builtin", err, "generate with %s", modelID)
	}
	return types.GenerateResponse{Backend: types.BackendBuiltin, Model: modelID, Content: text}, nil
}

// Chat flattens the conversation into a plain prompt; the builtin runtime
// has no chat template support.
func (a *BuiltinAdapter) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("assistant: ")
	resp, err := a.Generate(ctx, types.GenerateRequest{
		Model:       req.Model,
		Prompt:      sb.String(),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return types.ChatResponse{}, err
	}
	return types.ChatResponse{Backend: types.BackendBuiltin, Model: resp.Model, Content: resp.Content}, nil
}

func (a *BuiltinAdapter) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	m, err := a.ensureLoaded(ctx, modelID)
	if err != nil {
		return types.EmbedResponse{}, err
	}
	out := types.EmbedResponse{Backend: types.BackendBuiltin, Model: modelID}
	for _, input := range req.Input {
		vec, err := m.Embed(input)
		if err != nil {
			return types.EmbedResponse{}, Errf("builtin", err, "embed with %s", modelID)
		}
		out.Embeddings = append(out.Embeddings, vec)
	}
	return out, nil
}

// Pull downloads a GGUF file into the models dir. The source URL comes
// from the descriptor's HuggingFaceID; already-present files report
// complete immediately.
func (a *BuiltinAdapter) Pull(ctx context.Context, modelID string, onProgress PullProgressFunc) error {
	path, err := a.modelPath(modelID)
	if err != nil {
		return Errf("builtin", err, "resolve model path")
	}
	if fsutil.PathExists(path) {
		onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendBuiltin, Percent: 100, Phase: types.PullComplete})
		return nil
	}
	d, ok := a.reg.ByID(registry.QualifiedID(types.BackendBuiltin, modelID))
	if !ok || d.HuggingFaceID == "" {
		return Errf("builtin", nil, "no download source known for %q", modelID)
	}
	url := fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s", d.HuggingFaceID, modelID)
	return a.download(ctx, modelID, url, path, onProgress)
}

func (a *BuiltinAdapter) download(ctx context.Context, modelID, url, path string, onProgress PullProgressFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Errf("builtin", err, "build download request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Errf("builtin", err, "download %s", modelID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Errf("builtin", nil, "download %s returned status %d", modelID, resp.StatusCode)
	}

	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return Errf("builtin", err, "create %s", tmp)
	}
	defer f.Close()

	total := resp.ContentLength
	var written int64
	buf := make([]byte, 1<<20)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				os.Remove(tmp)
				return Errf("builtin", werr, "write %s", tmp)
			}
			written += int64(n)
			p := types.PullProgress{ModelID: modelID, Backend: types.BackendBuiltin, Phase: types.PullDownloading}
			if total > 0 {
				p.Percent = float64(written) / float64(total) * 100
			}
			onProgress(p)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			os.Remove(tmp)
			onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendBuiltin, Phase: types.PullError, Error: rerr.Error()})
			return Errf("builtin", rerr, "download %s interrupted", modelID)
		}
	}

	onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendBuiltin, Percent: 100, Phase: types.PullVerifying})
	if total > 0 && written != total {
		os.Remove(tmp)
		return Errf("builtin", nil, "download %s truncated: got %d of %d bytes", modelID, written, total)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Errf("builtin", err, "finalize %s", modelID)
	}
	onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendBuiltin, Percent: 100, Phase: types.PullComplete})
	return nil
}

// Delete unloads and removes the model file.
func (a *BuiltinAdapter) Delete(ctx context.Context, modelID string) error {
	_ = a.Unload(ctx, modelID)
	path, err := a.modelPath(modelID)
	if err != nil {
		return Errf("builtin", err, "resolve model path")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return Errf("builtin", err, "delete %s", modelID)
	}
	return nil
}

// Close frees every loaded context. Called at process shutdown.
func (a *BuiltinAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, m := range a.loaded {
		m.Free()
		delete(a.loaded, id)
	}
}

var _ interface {
	Adapter
	ChatProvider
	Generator
	Embedder
	Puller
	Deleter
	ModelLoader
} = (*BuiltinAdapter)(nil)

package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

const (
	ollamaProbeTimeout = 2 * time.Second
	ollamaCallTimeout  = 120 * time.Second
)

// OllamaAdapter talks to a local Ollama daemon over HTTP.
type OllamaAdapter struct {
	baseURL    string
	reg        *registry.Registry
	httpClient *http.Client
}

// NewOllamaAdapter constructs the adapter. The registry enriches listed
// models with capability and tier metadata.
func NewOllamaAdapter(baseURL string, reg *registry.Registry) *OllamaAdapter {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:11434"
	}
	return &OllamaAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		reg:     reg,
		// Timeout=0: every request carries its own context deadline.
		httpClient: &http.Client{Timeout: 0},
	}
}

func (a *OllamaAdapter) Kind() types.BackendKind { return types.BackendOllama }

func (a *OllamaAdapter) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(types.CapChat, types.CapGenerate, types.CapEmbed, types.CapVision)
}

// Probe checks daemon liveness via /api/tags, bounded to 2s so an
// unreachable daemon cannot stall a status refresh.
func (a *OllamaAdapter) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return Errf("ollama", err, "build probe request")
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Errf("ollama", err, "Ollama is not running at %s", a.baseURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Errf("ollama", nil, "probe returned status %d", resp.StatusCode)
	}
	return nil
}

type ollamaTag struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

type ollamaTagsResponse struct {
	Models []ollamaTag `json:"models"`
}

// ListModels reports installed models. Known catalog entries keep their
// declared metadata; unknown tags get heuristic capabilities from the name.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]types.ModelDescriptor, error) {
	var tags ollamaTagsResponse
	if err := a.getJSON(ctx, "/api/tags", &tags); err != nil {
		return []types.ModelDescriptor{}, err
	}
	models := make([]types.ModelDescriptor, 0, len(tags.Models))
	for _, t := range tags.Models {
		id := registry.QualifiedID(types.BackendOllama, t.Name)
		if d, ok := a.reg.ByID(id); ok {
			d.Installed = true
			if d.SizeBytes == 0 && t.Size > 0 {
				d.SizeBytes = t.Size
				d.SizeLabel = registry.HumanSize(t.Size)
			}
			models = append(models, d)
			continue
		}
		models = append(models, types.ModelDescriptor{
			ID:           id,
			Kind:         types.BackendOllama,
			ModelID:      t.Name,
			Name:         t.Name,
			Capabilities: guessCapabilities(t.Name),
			SizeBytes:    t.Size,
			SizeLabel:    registry.HumanSize(t.Size),
			Installed:    true,
		})
	}
	return models, nil
}

// guessCapabilities infers capabilities for models the catalog never
// declared, from well-known name fragments.
func guessCapabilities(name string) []types.Capability {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "embed"):
		return []types.Capability{types.CapEmbed}
	case strings.Contains(lower, "llava"), strings.Contains(lower, "vision"):
		return []types.Capability{types.CapVision, types.CapChat}
	default:
		return []types.Capability{types.CapChat, types.CapGenerate}
	}
}

func (a *OllamaAdapter) RecommendModel(cap types.Capability, tier types.HardwareTier) (types.ModelDescriptor, bool) {
	return RecommendFrom(a.reg.ForBackend(types.BackendOllama), cap, tier)
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string            `json:"model"`
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func (a *OllamaAdapter) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	payload := ollamaChatRequest{
		Model:   modelID,
		Stream:  false,
		Options: samplingOptions(req.Temperature, req.MaxTokens),
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, ollamaChatMessage{Role: m.Role, Content: m.Content, Images: m.Images})
	}
	var out ollamaChatResponse
	if err := a.postJSON(ctx, "/api/chat", payload, &out); err != nil {
		return types.ChatResponse{}, err
	}
	return types.ChatResponse{Backend: types.BackendOllama, Model: out.Model, Content: out.Message.Content}, nil
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
	// KeepAlive controls how long the model stays resident after the call.
	KeepAlive any `json:"keep_alive,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (a *OllamaAdapter) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	payload := ollamaGenerateRequest{
		Model:   modelID,
		Prompt:  req.Prompt,
		Stream:  false,
		Options: samplingOptions(req.Temperature, req.MaxTokens),
	}
	var out ollamaGenerateResponse
	if err := a.postJSON(ctx, "/api/generate", payload, &out); err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{Backend: types.BackendOllama, Model: out.Model, Content: out.Response}, nil
}

func (a *OllamaAdapter) Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error) {
	resp, err := a.Chat(ctx, types.ChatRequest{
		Model: req.Model,
		Messages: []types.ChatMessage{
			{Role: "user", Content: req.Prompt, Images: []string{req.ImageBase64}},
		},
	})
	if err != nil {
		return types.VisionResponse{}, err
	}
	return types.VisionResponse{Backend: types.BackendOllama, Model: resp.Model, Content: resp.Content}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

func (a *OllamaAdapter) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	out := types.EmbedResponse{Backend: types.BackendOllama, Model: modelID}
	for _, input := range req.Input {
		var resp ollamaEmbedResponse
		if err := a.postJSON(ctx, "/api/embeddings", ollamaEmbedRequest{Model: modelID, Prompt: input}, &resp); err != nil {
			return types.EmbedResponse{}, err
		}
		out.Embeddings = append(out.Embeddings, resp.Embedding)
	}
	return out, nil
}

type ollamaPullLine struct {
	Status    string `json:"status"`
	Digest    string `json:"digest"`
	Total     int64  `json:"total"`
	Completed int64  `json:"completed"`
	Error     string `json:"error"`
}

// Pull streams a model download, forwarding NDJSON progress lines as
// PullProgress events. Already-installed models report complete/100
// immediately without touching the network path again.
func (a *OllamaAdapter) Pull(ctx context.Context, modelID string, onProgress PullProgressFunc) error {
	if a.installed(ctx, modelID) {
		onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendOllama, Percent: 100, Phase: types.PullComplete})
		return nil
	}

	body, _ := json.Marshal(map[string]any{"model": modelID, "stream": true})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return Errf("ollama", err, "build pull request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Errf("ollama", err, "pull %s failed", modelID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Errf("ollama", nil, "pull %s returned status %d: %s", modelID, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev ollamaPullLine
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Debug().Str("line", string(line)).Msg("unparseable pull progress line")
			continue
		}
		if ev.Error != "" {
			onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendOllama, Phase: types.PullError, Error: ev.Error})
			return Errf("ollama", nil, "pull %s: %s", modelID, ev.Error)
		}
		onProgress(pullProgressFrom(modelID, ev))
	}
	if err := sc.Err(); err != nil {
		return Errf("ollama", err, "pull %s stream interrupted", modelID)
	}
	onProgress(types.PullProgress{ModelID: modelID, Backend: types.BackendOllama, Percent: 100, Phase: types.PullComplete})
	return nil
}

func pullProgressFrom(modelID string, ev ollamaPullLine) types.PullProgress {
	p := types.PullProgress{ModelID: modelID, Backend: types.BackendOllama, Phase: types.PullDownloading}
	switch {
	case strings.HasPrefix(ev.Status, "verifying"):
		p.Phase = types.PullVerifying
		p.Percent = 100
	case ev.Status == "success":
		p.Phase = types.PullComplete
		p.Percent = 100
	case ev.Total > 0:
		p.Percent = float64(ev.Completed) / float64(ev.Total) * 100
	}
	return p
}

// installed checks /api/show for the model.
func (a *OllamaAdapter) installed(ctx context.Context, modelID string) bool {
	body, _ := json.Marshal(map[string]string{"model": modelID})
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (a *OllamaAdapter) Delete(ctx context.Context, modelID string) error {
	body, _ := json.Marshal(map[string]string{"model": modelID})
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, a.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return Errf("ollama", err, "build delete request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Errf("ollama", err, "delete %s failed", modelID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Errf("ollama", nil, "delete %s returned status %d", modelID, resp.StatusCode)
	}
	return nil
}

// Load warms a model by issuing an empty generate with a long keep_alive.
func (a *OllamaAdapter) Load(ctx context.Context, modelID string) error {
	var out ollamaGenerateResponse
	return a.postJSON(ctx, "/api/generate", ollamaGenerateRequest{Model: modelID, KeepAlive: "30m"}, &out)
}

// Unload asks the daemon to drop the model by setting keep_alive to zero.
func (a *OllamaAdapter) Unload(ctx context.Context, modelID string) error {
	var out ollamaGenerateResponse
	return a.postJSON(ctx, "/api/generate", ollamaGenerateRequest{Model: modelID, KeepAlive: 0}, &out)
}

func samplingOptions(temperature float64, maxTokens int) map[string]any {
	opts := map[string]any{}
	if temperature > 0 {
		opts["temperature"] = temperature
	}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (a *OllamaAdapter) getJSON(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, ollamaProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return Errf("ollama", err, "build request for %s", path)
	}
	return a.do(req, path, out)
}

func (a *OllamaAdapter) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Errf("ollama", err, "marshal request for %s", path)
	}
	ctx, cancel := context.WithTimeout(ctx, ollamaCallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Errf("ollama", err, "build request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req, path, out)
}

func (a *OllamaAdapter) do(req *http.Request, path string, out any) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Errf("ollama", err, "request to %s failed", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Errf("ollama", nil, "%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Errf("ollama", err, "decode response from %s", path)
	}
	return nil
}

var _ interface {
	Adapter
	ChatProvider
	Generator
	Embedder
	VisionProvider
	Puller
	Deleter
	ModelLoader
} = (*OllamaAdapter)(nil)

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

const (
	cloudProbeTimeout = 2 * time.Second
	cloudCallTimeout  = 120 * time.Second
)

// CloudAdapter talks to an OpenAI-compatible API. It has no local model
// lifecycle: Pull, Delete, Load and Unload are simply not implemented.
type CloudAdapter struct {
	baseURL    string
	apiKey     string
	reg        *registry.Registry
	httpClient *http.Client
}

// NewCloudAdapter constructs the adapter. baseURL must include the /v1
// prefix, e.g. "https://api.openai.com/v1".
func NewCloudAdapter(baseURL, apiKey string, reg *registry.Registry) *CloudAdapter {
	return &CloudAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		reg:        reg,
		httpClient: &http.Client{Timeout: 0},
	}
}

func (a *CloudAdapter) Kind() types.BackendKind { return types.BackendCloud }

func (a *CloudAdapter) Capabilities() types.CapabilitySet {
	return types.NewCapabilitySet(
		types.CapChat, types.CapGenerate, types.CapEmbed,
		types.CapVision, types.CapAudio, types.CapImageGen,
	)
}

func (a *CloudAdapter) Probe(ctx context.Context) error {
	if a.baseURL == "" {
		return Errf("cloud", nil, "cloud backend not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, cloudProbeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return Errf("cloud", err, "build probe request")
	}
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Errf("cloud", err, "cloud endpoint unreachable at %s", a.baseURL)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusUnauthorized {
		return Errf("cloud", nil, "cloud API key rejected")
	}
	if resp.StatusCode != http.StatusOK {
		return Errf("cloud", nil, "probe returned status %d", resp.StatusCode)
	}
	return nil
}

// ListModels returns the catalog's cloud entries. Cloud models are always
// "installed"; nothing lands on disk.
func (a *CloudAdapter) ListModels(ctx context.Context) ([]types.ModelDescriptor, error) {
	models := a.reg.ForBackend(types.BackendCloud)
	out := make([]types.ModelDescriptor, 0, len(models))
	for _, m := range models {
		m.Installed = true
		out = append(out, m)
	}
	return out, nil
}

func (a *CloudAdapter) RecommendModel(cap types.Capability, tier types.HardwareTier) (types.ModelDescriptor, bool) {
	return RecommendFrom(a.reg.ForBackend(types.BackendCloud), cap, tier)
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *CloudAdapter) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	payload := openAIChatRequest{Model: modelID, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	var out openAIChatResponse
	if err := a.postJSON(ctx, "/chat/completions", payload, &out); err != nil {
		return types.ChatResponse{}, err
	}
	if len(out.Choices) == 0 {
		return types.ChatResponse{}, Errf("cloud", nil, "chat completion returned no choices")
	}
	return types.ChatResponse{Backend: types.BackendCloud, Model: out.Model, Content: out.Choices[0].Message.Content}, nil
}

func (a *CloudAdapter) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	resp, err := a.Chat(ctx, types.ChatRequest{
		Model:       req.Model,
		Messages:    []types.ChatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{Backend: types.BackendCloud, Model: resp.Model, Content: resp.Content}, nil
}

// Vision sends the prompt plus an image_url content part, the
// OpenAI-compatible shape for multimodal chat.
func (a *CloudAdapter) Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	content := []map[string]any{
		{"type": "text", "text": req.Prompt},
		{"type": "image_url", "image_url": map[string]string{
			"url": "data:image/png;base64," + req.ImageBase64,
		}},
	}
	payload := openAIChatRequest{Model: modelID, Messages: []openAIMessage{{Role: "user", Content: content}}}
	var out openAIChatResponse
	if err := a.postJSON(ctx, "/chat/completions", payload, &out); err != nil {
		return types.VisionResponse{}, err
	}
	if len(out.Choices) == 0 {
		return types.VisionResponse{}, Errf("cloud", nil, "vision completion returned no choices")
	}
	return types.VisionResponse{Backend: types.BackendCloud, Model: out.Model, Content: out.Choices[0].Message.Content}, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Model string `json:"model"`
	Data  []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (a *CloudAdapter) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	var out openAIEmbedResponse
	if err := a.postJSON(ctx, "/embeddings", openAIEmbedRequest{Model: modelID, Input: req.Input}, &out); err != nil {
		return types.EmbedResponse{}, err
	}
	resp := types.EmbedResponse{Backend: types.BackendCloud, Model: out.Model}
	for _, d := range out.Data {
		resp.Embeddings = append(resp.Embeddings, d.Embedding)
	}
	return resp, nil
}

// Transcribe posts the audio payload as a multipart upload to the
// transcription endpoint.
func (a *CloudAdapter) Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	audio, err := decodeBase64(req.AudioBase64)
	if err != nil {
		return types.AudioResponse{}, Errf("cloud", err, "invalid audio payload")
	}
	body, contentType, err := buildTranscriptionForm(modelID, req.Language, audio)
	if err != nil {
		return types.AudioResponse{}, Errf("cloud", err, "build transcription form")
	}
	ctx, cancel := context.WithTimeout(ctx, cloudCallTimeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return types.AudioResponse{}, Errf("cloud", err, "build transcription request")
	}
	httpReq.Header.Set("Content-Type", contentType)
	a.authorize(httpReq)
	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return types.AudioResponse{}, Errf("cloud", err, "transcription request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return types.AudioResponse{}, Errf("cloud", nil, "transcription returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.AudioResponse{}, Errf("cloud", err, "decode transcription response")
	}
	return types.AudioResponse{Backend: types.BackendCloud, Model: modelID, Text: out.Text}, nil
}

type openAIImageRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Size           string `json:"size,omitempty"`
	ResponseFormat string `json:"response_format"`
}

type openAIImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (a *CloudAdapter) GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error) {
	_, modelID, _ := registry.SplitID(req.Model)
	payload := openAIImageRequest{Model: modelID, Prompt: req.Prompt, Size: req.Size, ResponseFormat: "b64_json"}
	var out openAIImageResponse
	if err := a.postJSON(ctx, "/images/generations", payload, &out); err != nil {
		return types.ImageGenResponse{}, err
	}
	resp := types.ImageGenResponse{Backend: types.BackendCloud, Model: modelID}
	for _, d := range out.Data {
		resp.Images = append(resp.Images, d.B64JSON)
	}
	return resp, nil
}

func (a *CloudAdapter) authorize(req *http.Request) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
}

func (a *CloudAdapter) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return Errf("cloud", err, "marshal request for %s", path)
	}
	ctx, cancel := context.WithTimeout(ctx, cloudCallTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Errf("cloud", err, "build request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Errf("cloud", err, "request to %s failed", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Errf("cloud", nil, "%s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Errf("cloud", err, "decode response from %s", path)
	}
	return nil
}

var _ interface {
	Adapter
	ChatProvider
	Generator
	Embedder
	VisionProvider
	AudioTranscriber
	ImageGenerator
} = (*CloudAdapter)(nil)

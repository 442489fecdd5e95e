package types

// ChatMessage is one turn of a chat conversation.
type ChatMessage struct {
	// user, assistant or system.
	// example: user
	Role string `json:"role" example:"user"`
	// example: Why is the sky blue?
	Content string `json:"content" example:"Why is the sky blue?"`
	// Base64 image payloads for vision-capable chat models.
	Images []string `json:"images,omitempty"`
}

// ChatRequest asks for a chat completion.
type ChatRequest struct {
	// Optional fully-qualified model id ("kind:modelId"). Empty uses the
	// configured default for the chat capability.
	// example: ollama:llama3.2:3b
	Model string `json:"model,omitempty" example:"ollama:llama3.2:3b"`
	// Optional preferred backend kind.
	// example: ollama
	Backend  BackendKind   `json:"backend,omitempty" example:"ollama"`
	Messages []ChatMessage `json:"messages"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Maximum number of new tokens to generate.
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
}

// ChatResponse carries a chat completion.
type ChatResponse struct {
	// Backend that served the request.
	Backend BackendKind `json:"backend"`
	// Model actually used (raw backend id).
	// example: llama3.2:3b
	Model   string `json:"model" example:"llama3.2:3b"`
	Content string `json:"content"`
}

// GenerateRequest asks for a raw text completion.
type GenerateRequest struct {
	Model   string      `json:"model,omitempty"`
	Backend BackendKind `json:"backend,omitempty"`
	// example: Write a haiku about the ocean.
	Prompt      string  `json:"prompt" example:"Write a haiku about the ocean."`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// GenerateResponse carries a text completion.
type GenerateResponse struct {
	Backend BackendKind `json:"backend"`
	Model   string      `json:"model"`
	Content string      `json:"content"`
}

// EmbedRequest asks for embeddings of one or more inputs.
type EmbedRequest struct {
	Model   string      `json:"model,omitempty"`
	Backend BackendKind `json:"backend,omitempty"`
	Input   []string    `json:"input"`
}

// EmbedResponse carries one embedding vector per input.
type EmbedResponse struct {
	Backend    BackendKind `json:"backend"`
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// VisionRequest asks a vision-capable model about an image.
type VisionRequest struct {
	Model   string      `json:"model,omitempty"`
	Backend BackendKind `json:"backend,omitempty"`
	// example: What is in this picture?
	Prompt string `json:"prompt" example:"What is in this picture?"`
	// Base64-encoded image payload.
	ImageBase64 string `json:"image_base64"`
}

// VisionResponse carries the model's description.
type VisionResponse struct {
	Backend BackendKind `json:"backend"`
	Model   string      `json:"model"`
	Content string      `json:"content"`
}

// AudioRequest asks for a transcription of an audio payload.
type AudioRequest struct {
	Model   string      `json:"model,omitempty"`
	Backend BackendKind `json:"backend,omitempty"`
	// Base64-encoded audio payload.
	AudioBase64 string `json:"audio_base64"`
	// Optional hint, e.g. "en".
	Language string `json:"language,omitempty"`
}

// AudioResponse carries the transcription text.
type AudioResponse struct {
	Backend BackendKind `json:"backend"`
	Model   string      `json:"model"`
	Text    string      `json:"text"`
}

// ImageGenRequest asks for image generation.
type ImageGenRequest struct {
	Model   string      `json:"model,omitempty"`
	Backend BackendKind `json:"backend,omitempty"`
	// example: a lighthouse at dusk, oil painting
	Prompt string `json:"prompt" example:"a lighthouse at dusk, oil painting"`
	// example: 1024x1024
	Size string `json:"size,omitempty" example:"1024x1024"`
}

// ImageGenResponse carries generated images as base64 payloads.
type ImageGenResponse struct {
	Backend BackendKind `json:"backend"`
	Model   string      `json:"model"`
	Images  []string    `json:"images"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelDescriptor `json:"models"`
}

// LoadedModelsResponse wraps GET /models/loaded.
type LoadedModelsResponse struct {
	Models []LoadedModel `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: no available provider for capability "embed"
	Error string `json:"error" example:"no available provider for capability \"embed\""`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// ExecuteFlowRequest carries a flow plus its input values.
type ExecuteFlowRequest struct {
	Flow   Flow              `json:"flow"`
	Inputs map[string]string `json:"inputs"`
}

// PlanRequest asks the plan builder to describe a multi-phase execution.
type PlanRequest struct {
	// Free-text description of what the user wants done.
	// example: transcribe this meeting and summarize the action items
	Request string `json:"request" example:"transcribe this meeting and summarize the action items"`
	// File names attached to the request.
	Files []string `json:"files,omitempty"`
}

// PlanStep is one descriptive step inside a plan phase.
type PlanStep struct {
	Name       string     `json:"name"`
	Capability Capability `json:"capability"`
	Detail     string     `json:"detail,omitempty"`
}

// PlanPhase groups plan steps for presentation.
type PlanPhase struct {
	Name  string     `json:"name"`
	Steps []PlanStep `json:"steps"`
}

// Plan is a descriptive multi-phase plan for user confirmation.
type Plan struct {
	ID      string      `json:"id"`
	Request string      `json:"request"`
	Phases  []PlanPhase `json:"phases"`
	// Rough wall-clock estimate in seconds.
	// example: 90
	EstimatedSeconds int `json:"estimated_seconds" example:"90"`
}

// Package httpapi exposes the broker over HTTP: capability endpoints,
// model lifecycle, provider status, flow validation/execution and the
// usual operational endpoints (health, readiness, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"inferd/internal/backend"
	"inferd/internal/flow"
	"inferd/internal/registry"
	"inferd/internal/settings"
	"inferd/pkg/types"
)

// Service is the broker surface the HTTP layer needs.
type Service interface {
	Hardware(ctx context.Context, forceRefresh bool) types.HardwareSnapshot
	Status() types.AllProvidersStatus
	RefreshStatus(ctx context.Context) types.AllProvidersStatus
	ListAllModels(ctx context.Context) []types.ModelDescriptor
	LoadedModels() []types.LoadedModel
	RecommendedModel(ctx context.Context, cap types.Capability, preferred types.BackendKind) (types.ModelDescriptor, error)

	Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error)
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error)
	Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error)
	Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error)
	GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error)

	Pull(ctx context.Context, qualifiedID string, onProgress backend.PullProgressFunc) error
	Delete(ctx context.Context, qualifiedID string) error
	Load(ctx context.Context, qualifiedID string) error
	Unload(ctx context.Context, qualifiedID string) error
}

// FlowRunner executes flows; the flow package's Runner satisfies it.
type FlowRunner interface {
	Execute(ctx context.Context, f types.Flow, inputs map[string]flow.Value, obs flow.Observer) types.ExecutionResult
}

// Planner builds descriptive plans.
type Planner interface {
	Build(req types.PlanRequest) types.Plan
}

// StatsProvider serves cached system load samples.
type StatsProvider interface {
	Sample(ctx context.Context) types.SystemStats
}

// Deps carries everything the mux serves.
type Deps struct {
	Service  Service
	Runner   FlowRunner
	Planner  Planner
	Stats    StatsProvider
	Settings *settings.Store
	Registry *registry.Registry
}

// NewMux builds the router with all endpoints registered.
func NewMux(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))
	}

	r.Get("/hardware", func(w http.ResponseWriter, r *http.Request) {
		refresh := r.URL.Query().Get("refresh") == "1"
		writeJSON(w, d.Service.Hardware(r.Context(), refresh))
	})

	r.Get("/providers/status", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refresh") == "1" {
			writeJSON(w, d.Service.RefreshStatus(r.Context()))
			return
		}
		writeJSON(w, d.Service.Status())
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.ModelsResponse{Models: d.Service.ListAllModels(r.Context())})
	})

	r.Get("/models/loaded", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, types.LoadedModelsResponse{Models: d.Service.LoadedModels()})
	})

	r.Get("/models/recommended", func(w http.ResponseWriter, r *http.Request) {
		cap := types.Capability(r.URL.Query().Get("capability"))
		if cap == "" {
			writeJSONError(w, http.StatusBadRequest, "capability query parameter is required")
			return
		}
		preferred := types.BackendKind(r.URL.Query().Get("backend"))
		m, err := d.Service.RecommendedModel(r.Context(), cap, preferred)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, m)
	})

	r.Route("/models/{id}", func(r chi.Router) {
		r.Post("/pull", d.handlePull)
		r.Post("/load", d.modelAction(func(ctx context.Context, id string) error {
			return d.Service.Load(ctx, id)
		}))
		r.Post("/unload", d.modelAction(func(ctx context.Context, id string) error {
			return d.Service.Unload(ctx, id)
		}))
		r.Delete("/", d.modelAction(func(ctx context.Context, id string) error {
			return d.Service.Delete(ctx, id)
		}))
	})

	r.Post("/models/custom", d.handleAddCustomModel)

	r.Get("/settings/default-model", func(w http.ResponseWriter, r *http.Request) {
		cap := types.Capability(r.URL.Query().Get("capability"))
		if cap == "" {
			writeJSONError(w, http.StatusBadRequest, "capability query parameter is required")
			return
		}
		id, _ := d.Settings.DefaultModel(cap)
		writeJSON(w, map[string]string{"model": id})
	})

	r.Put("/settings/default-model", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Capability types.Capability `json:"capability"`
			Model      string           `json:"model"`
		}
		if !decodeJSON(w, r, &body) {
			return
		}
		if body.Capability == "" {
			writeJSONError(w, http.StatusBadRequest, "capability is required")
			return
		}
		if err := d.Settings.SetDefaultModel(body.Capability, body.Model); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/system/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d.Stats.Sample(r.Context()))
	})

	r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages are required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := d.Service.Chat(ctx, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := d.Service.Generate(ctx, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/embed", func(w http.ResponseWriter, r *http.Request) {
		var req types.EmbedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Input) == 0 {
			writeJSONError(w, http.StatusBadRequest, "input is required")
			return
		}
		resp, err := d.Service.Embed(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/vision", func(w http.ResponseWriter, r *http.Request) {
		var req types.VisionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.ImageBase64 == "" {
			writeJSONError(w, http.StatusBadRequest, "image is required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := d.Service.Vision(ctx, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/audio", func(w http.ResponseWriter, r *http.Request) {
		var req types.AudioRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.AudioBase64 == "" {
			writeJSONError(w, http.StatusBadRequest, "audio is required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := d.Service.Transcribe(ctx, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/images", func(w http.ResponseWriter, r *http.Request) {
		var req types.ImageGenRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "prompt is required")
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		resp, err := d.Service.GenerateImage(ctx, req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
	})

	r.Post("/flows/validate", func(w http.ResponseWriter, r *http.Request) {
		var f types.Flow
		if !decodeJSON(w, r, &f) {
			return
		}
		writeJSON(w, flow.Validate(f))
	})

	r.Post("/flows/execute", d.handleExecuteFlow)

	r.Post("/plans", func(w http.ResponseWriter, r *http.Request) {
		var req types.PlanRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Request) == "" {
			writeJSONError(w, http.StatusBadRequest, "request text is required")
			return
		}
		writeJSON(w, d.Planner.Build(req))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Service.Status().HasAvailableProvider {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no provider available"))
	})

	MountMetrics(r)
	MountSwagger(r)

	return r
}

// handlePull streams PullProgress events as NDJSON, ending with a
// done/success line.
func (d Deps) handlePull(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "application/x-ndjson")

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	enc := json.NewEncoder(w)
	emit := func(v any) {
		_ = enc.Encode(v)
		if flush != nil {
			flush()
		}
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	err := d.Service.Pull(ctx, id, func(p types.PullProgress) {
		emit(p)
	})
	if err != nil {
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		// Headers are out; report the failure as a terminal NDJSON line.
		emit(map[string]any{"done": true, "success": false, "error": err.Error()})
		return
	}
	emit(map[string]any{"done": true, "success": true})
}

// handleExecuteFlow streams step lifecycle events and the final result as
// NDJSON.
func (d Deps) handleExecuteFlow(w http.ResponseWriter, r *http.Request) {
	var req types.ExecuteFlowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	enc := json.NewEncoder(w)
	emit := func(v any) {
		_ = enc.Encode(v)
		if flush != nil {
			flush()
		}
	}

	inputs := make(map[string]flow.Value, len(req.Inputs))
	for k, v := range req.Inputs {
		inputs[k] = flow.Text(v)
	}

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	result := d.Runner.Execute(ctx, req.Flow, inputs, flow.Observer{
		OnStepStart: func(step string) {
			emit(map[string]string{"event": "step_start", "step": step})
		},
		OnStepComplete: func(step, output string) {
			emit(map[string]string{"event": "step_complete", "step": step, "output": output})
		},
		OnStepError: func(step string, err error) {
			emit(map[string]string{"event": "step_error", "step": step, "error": err.Error()})
		},
	})
	emit(map[string]any{"event": "result", "result": result})
}

// handleAddCustomModel persists a user-registered model and makes it
// visible in the catalog immediately.
func (d Deps) handleAddCustomModel(w http.ResponseWriter, r *http.Request) {
	var m settings.CustomModel
	if !decodeJSON(w, r, &m) {
		return
	}
	if m.HuggingFaceID == "" || m.Backend == "" {
		writeJSONError(w, http.StatusBadRequest, "hugging_face_id and backend are required")
		return
	}
	if err := d.Settings.AddCustomModel(m); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	desc := registry.DescriptorForCustom(m)
	d.Registry.Add(desc)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(desc)
}

func (d Deps) modelAction(fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		if err := fn(ctx, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// decodeJSON enforces the JSON content type and body limit, writing the
// error response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

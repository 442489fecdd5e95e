package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"inferd/internal/backend"
	"inferd/internal/broker"
	"inferd/internal/flow"
	"inferd/internal/registry"
	"inferd/internal/settings"
	"inferd/pkg/types"
)

type mockService struct {
	hardware     types.HardwareSnapshot
	refreshSeen  bool
	status       types.AllProvidersStatus
	refreshed    bool
	models       []types.ModelDescriptor
	loaded       []types.LoadedModel
	chatResp     types.ChatResponse
	chatErr      error
	pullEvents   []types.PullProgress
	pullErr      error
	pulledID     string
	loadedID     string
	unloadedID   string
	deletedID    string
	actionErr    error
	recommended  types.ModelDescriptor
	recommendErr error
}

func (m *mockService) Hardware(ctx context.Context, forceRefresh bool) types.HardwareSnapshot {
	m.refreshSeen = forceRefresh
	return m.hardware
}
func (m *mockService) Status() types.AllProvidersStatus { return m.status }
func (m *mockService) RefreshStatus(ctx context.Context) types.AllProvidersStatus {
	m.refreshed = true
	return m.status
}
func (m *mockService) ListAllModels(ctx context.Context) []types.ModelDescriptor {
	return append([]types.ModelDescriptor(nil), m.models...)
}
func (m *mockService) LoadedModels() []types.LoadedModel {
	return append([]types.LoadedModel(nil), m.loaded...)
}
func (m *mockService) RecommendedModel(ctx context.Context, cap types.Capability, preferred types.BackendKind) (types.ModelDescriptor, error) {
	return m.recommended, m.recommendErr
}
func (m *mockService) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	return m.chatResp, m.chatErr
}
func (m *mockService) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	return types.GenerateResponse{Content: "gen"}, m.chatErr
}
func (m *mockService) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	return types.EmbedResponse{Embeddings: [][]float64{{0.1}}}, m.chatErr
}
func (m *mockService) Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error) {
	return types.VisionResponse{Content: "a cat"}, m.chatErr
}
func (m *mockService) Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error) {
	return types.AudioResponse{Text: "hello"}, m.chatErr
}
func (m *mockService) GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error) {
	return types.ImageGenResponse{Images: []string{"aW1n"}}, m.chatErr
}
func (m *mockService) Pull(ctx context.Context, id string, onProgress backend.PullProgressFunc) error {
	m.pulledID = id
	for _, p := range m.pullEvents {
		onProgress(p)
	}
	return m.pullErr
}
func (m *mockService) Delete(ctx context.Context, id string) error {
	m.deletedID = id
	return m.actionErr
}
func (m *mockService) Load(ctx context.Context, id string) error {
	m.loadedID = id
	return m.actionErr
}
func (m *mockService) Unload(ctx context.Context, id string) error {
	m.unloadedID = id
	return m.actionErr
}

type mockRunner struct {
	result types.ExecutionResult
	seen   types.Flow
	inputs map[string]flow.Value
}

func (m *mockRunner) Execute(ctx context.Context, f types.Flow, inputs map[string]flow.Value, obs flow.Observer) types.ExecutionResult {
	m.seen = f
	m.inputs = inputs
	if obs.OnStepStart != nil {
		obs.OnStepStart("ask")
	}
	if obs.OnStepComplete != nil {
		obs.OnStepComplete("ask", "done")
	}
	return m.result
}

type mockPlanner struct{ plan types.Plan }

func (m *mockPlanner) Build(req types.PlanRequest) types.Plan { return m.plan }

type mockStats struct{ stats types.SystemStats }

func (m *mockStats) Sample(ctx context.Context) types.SystemStats { return m.stats }

type mockHTTPError struct {
	msg  string
	code int
}

func (e mockHTTPError) Error() string   { return e.msg }
func (e mockHTTPError) StatusCode() int { return e.code }

func newTestDeps(t *testing.T, svc *mockService) Deps {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	return Deps{
		Service:  svc,
		Runner:   &mockRunner{result: types.ExecutionResult{Success: true, Output: "done"}},
		Planner:  &mockPlanner{plan: types.Plan{ID: "p1", EstimatedSeconds: 20}},
		Stats:    &mockStats{stats: types.SystemStats{CPUPercent: 12.5}},
		Settings: store,
		Registry: registry.New(),
	}
}

func postJSON(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(w, req)
	return w
}

func TestHardwareHandler(t *testing.T) {
	svc := &mockService{hardware: types.HardwareSnapshot{TotalRAMBytes: 1 << 34, Tier: types.TierT1}}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hardware", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.refreshSeen {
		t.Fatal("refresh should default to false")
	}
	var snap types.HardwareSnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("json: %v", err)
	}
	if snap.Tier != types.TierT1 {
		t.Fatalf("tier=%d", snap.Tier)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hardware?refresh=1", nil))
	if !svc.refreshSeen {
		t.Fatal("refresh=1 not passed through")
	}
}

func TestProvidersStatusHandler(t *testing.T) {
	svc := &mockService{status: types.AllProvidersStatus{
		Providers:            []types.ProviderStatus{{Kind: types.BackendOllama, Available: true, Models: []types.ModelDescriptor{}}},
		HasAvailableProvider: true,
		RecommendedProvider:  types.BackendOllama,
	}}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/providers/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.refreshed {
		t.Fatal("plain GET must serve the cache")
	}
	var body types.AllProvidersStatus
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body.RecommendedProvider != types.BackendOllama {
		t.Fatalf("recommended=%s", body.RecommendedProvider)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/providers/status?refresh=1", nil))
	if !svc.refreshed {
		t.Fatal("refresh=1 must re-probe")
	}
}

func TestModelsHandlers(t *testing.T) {
	svc := &mockService{
		models: []types.ModelDescriptor{{ID: "ollama:llama3.2:1b"}, {ID: "builtin:tiny.gguf"}},
		loaded: []types.LoadedModel{{ModelID: "tiny.gguf", Backend: types.BackendBuiltin}},
	}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var models types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &models); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(models.Models) != 2 {
		t.Fatalf("models len=%d", len(models.Models))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/loaded", nil))
	var loaded types.LoadedModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &loaded); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(loaded.Models) != 1 || loaded.Models[0].ModelID != "tiny.gguf" {
		t.Fatalf("loaded=%+v", loaded.Models)
	}
}

func TestRecommendedModelHandler(t *testing.T) {
	svc := &mockService{recommended: types.ModelDescriptor{ID: "ollama:llama3.2:3b"}}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/recommended?capability=chat", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/models/recommended", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing capability: status=%d", w.Code)
	}
}

func TestModelLifecycleHandlers(t *testing.T) {
	svc := &mockService{}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/models/builtin:tiny.gguf/load", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("load status=%d", w.Code)
	}
	if svc.loadedID != "builtin:tiny.gguf" {
		t.Fatalf("loadedID=%q", svc.loadedID)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/models/builtin:tiny.gguf/unload", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("unload status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/models/ollama:llama3.2:1b", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	if svc.deletedID != "ollama:llama3.2:1b" {
		t.Fatalf("deletedID=%q", svc.deletedID)
	}
}

func TestPullStreamsNDJSON(t *testing.T) {
	svc := &mockService{pullEvents: []types.PullProgress{
		{ModelID: "llama3.2:1b", Backend: types.BackendOllama, Percent: 40, Phase: types.PullDownloading},
		{ModelID: "llama3.2:1b", Backend: types.BackendOllama, Percent: 100, Phase: types.PullComplete},
	}}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/models/ollama:llama3.2:1b/pull", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "x-ndjson") {
		t.Fatalf("content-type=%s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 ndjson lines, got %d: %q", len(lines), lines)
	}
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("json: %v", err)
	}
	if last["done"] != true || last["success"] != true {
		t.Fatalf("terminal line=%v", last)
	}
	if svc.pulledID != "ollama:llama3.2:1b" {
		t.Fatalf("pulledID=%q", svc.pulledID)
	}
}

func TestPullFailureEndsWithErrorLine(t *testing.T) {
	svc := &mockService{pullErr: errors.New("disk full")}
	r := NewMux(newTestDeps(t, svc))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/models/builtin:tiny.gguf/pull", nil))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	var last map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("json: %v", err)
	}
	if last["success"] != false || !strings.Contains(last["error"].(string), "disk full") {
		t.Fatalf("terminal line=%v", last)
	}
}

func TestChatHandler(t *testing.T) {
	svc := &mockService{chatResp: types.ChatResponse{Backend: types.BackendOllama, Model: "llama3.2:1b", Content: "hi"}}
	r := NewMux(newTestDeps(t, svc))

	w := postJSON(t, r, "/chat", `{"messages":[{"role":"user","content":"hey"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp types.ChatResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Content != "hi" {
		t.Fatalf("content=%q", resp.Content)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := postJSON(t, r, "/chat", `{"messages":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestChatRejectsWrongContentType(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewBufferString(`{"messages":[{"role":"user","content":"x"}]}`))
	req.Header.Set("Content-Type", "text/plain")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestChatBadJSON(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := postJSON(t, r, "/chat", "not-json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestCapabilityHandlersValidateInput(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	cases := []struct {
		path string
		body string
	}{
		{"/generate", `{"prompt":"  "}`},
		{"/embed", `{"input":[]}`},
		{"/vision", `{"prompt":"what is this"}`},
		{"/audio", `{"language":"en"}`},
		{"/images", `{"size":"512x512"}`},
	}
	for _, tc := range cases {
		w := postJSON(t, r, tc.path, tc.body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", tc.path, w.Code)
		}
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"model not found", broker.ErrModelNotFound("builtin:missing.gguf"), http.StatusNotFound},
		{"no provider", broker.ErrNoProvider(types.CapChat), http.StatusServiceUnavailable},
		{"backend unavailable", broker.ErrBackendUnavailable(types.BackendOllama, "connection refused"), http.StatusServiceUnavailable},
		{"resource exhausted", broker.ErrResourceExhausted("big.gguf", 32<<30, 8<<30), http.StatusInsufficientStorage},
		{"not supported", backend.ErrNotSupported("cloud", "image generation"), http.StatusBadRequest},
		{"runtime unavailable", backend.ErrRuntimeUnavailable("llama support not built"), http.StatusServiceUnavailable},
		{"backend failure", backend.Errf("ollama", nil, "chat request: connection reset"), http.StatusBadGateway},
		{"http error", mockHTTPError{msg: "slow down", code: http.StatusTooManyRequests}, http.StatusTooManyRequests},
		{"generic", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockService{chatErr: tc.err}
			r := NewMux(newTestDeps(t, svc))
			w := postJSON(t, r, "/chat", `{"messages":[{"role":"user","content":"x"}]}`)
			if w.Code != tc.want {
				t.Fatalf("status=%d want=%d body=%s", w.Code, tc.want, w.Body.String())
			}
			var body types.ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("json: %v", err)
			}
			if body.Code != tc.want {
				t.Fatalf("payload code=%d", body.Code)
			}
		})
	}
}

func TestFlowValidateHandler(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	body := `{"id":"f1","steps":[{"name":"ask","capability":"generate","input_ref":"$missing","output_name":"out"}]}`
	w := postJSON(t, r, "/flows/validate", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var v types.FlowValidation
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v", err)
	}
	if v.Valid || len(v.Errors) == 0 {
		t.Fatalf("validation=%+v", v)
	}
}

func TestFlowExecuteStreamsEventsAndResult(t *testing.T) {
	deps := newTestDeps(t, &mockService{})
	runner := deps.Runner.(*mockRunner)
	r := NewMux(deps)

	body := `{"flow":{"id":"f1","steps":[{"name":"ask","capability":"generate","input_ref":"$question","output_name":"answer"}]},"inputs":{"question":"why?"}}`
	w := postJSON(t, r, "/flows/execute", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 ndjson lines, got %d: %q", len(lines), lines)
	}
	var first map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("json: %v", err)
	}
	if first["event"] != "step_start" || first["step"] != "ask" {
		t.Fatalf("first event=%v", first)
	}
	var last struct {
		Event  string                `json:"event"`
		Result types.ExecutionResult `json:"result"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &last); err != nil {
		t.Fatalf("json: %v", err)
	}
	if last.Event != "result" || !last.Result.Success {
		t.Fatalf("terminal line=%+v", last)
	}
	if got := runner.inputs["question"].String(); got != "why?" {
		t.Fatalf("input not threaded: %q", got)
	}
}

func TestPlansHandler(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := postJSON(t, r, "/plans", `{"request":"summarize this meeting","files":["notes.wav"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var plan types.Plan
	if err := json.Unmarshal(w.Body.Bytes(), &plan); err != nil {
		t.Fatalf("json: %v", err)
	}
	if plan.ID != "p1" {
		t.Fatalf("plan=%+v", plan)
	}

	w = postJSON(t, r, "/plans", `{"request":"  "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty request: status=%d", w.Code)
	}
}

func TestSystemStatsHandler(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/system/stats", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var stats types.SystemStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("json: %v", err)
	}
	if stats.CPUPercent != 12.5 {
		t.Fatalf("cpu=%v", stats.CPUPercent)
	}
}

func TestDefaultModelSettingsRoundTrip(t *testing.T) {
	deps := newTestDeps(t, &mockService{})
	r := NewMux(deps)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/settings/default-model",
		bytes.NewBufferString(`{"capability":"chat","model":"ollama:llama3.2:3b"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("put status=%d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/settings/default-model?capability=chat", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if body["model"] != "ollama:llama3.2:3b" {
		t.Fatalf("model=%q", body["model"])
	}
}

func TestAddCustomModel(t *testing.T) {
	deps := newTestDeps(t, &mockService{})
	r := NewMux(deps)

	w := postJSON(t, r, "/models/custom",
		`{"hugging_face_id":"TheBloke/MyModel-GGUF","display_name":"My Model","capabilities":["chat"],"backend":"builtin"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var desc types.ModelDescriptor
	if err := json.Unmarshal(w.Body.Bytes(), &desc); err != nil {
		t.Fatalf("json: %v", err)
	}
	if desc.ID != "builtin:MyModel-GGUF.gguf" {
		t.Fatalf("id=%q", desc.ID)
	}
	if _, ok := deps.Registry.ByID(desc.ID); !ok {
		t.Fatal("descriptor not added to registry")
	}
	if got := deps.Settings.CustomModels(); len(got) != 1 {
		t.Fatalf("persisted custom models=%d", len(got))
	}

	w = postJSON(t, r, "/models/custom", `{"display_name":"nameless"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fields: status=%d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestReadyzFollowsProviderAvailability(t *testing.T) {
	svc := &mockService{}
	r := NewMux(newTestDeps(t, svc))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", w.Code)
	}

	svc.status.HasAvailableProvider = true
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestMetricsEndpointMounted(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	// Drive one request through the middleware so the counter has a child.
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "inferd_http_requests_total") {
		t.Fatal("request counter not exposed")
	}
}

func TestMountSwaggerNoOp(t *testing.T) {
	r := NewMux(newTestDeps(t, &mockService{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

package broker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"inferd/internal/backend"
	"inferd/internal/governor"
	"inferd/internal/hardware"
	"inferd/internal/registry"
	"inferd/internal/settings"
	"inferd/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const gib = int64(1) << 30

// fakeAdapter is a scriptable backend for broker tests.
type fakeAdapter struct {
	kind     types.BackendKind
	caps     types.CapabilitySet
	probeErr error
	models   []types.ModelDescriptor

	mu       sync.Mutex
	loaded   []string
	unloaded []string
	chats    []string

	pullEvents []types.PullProgress
	pullErr    error
}

func (f *fakeAdapter) Kind() types.BackendKind { return f.kind }

func (f *fakeAdapter) Capabilities() types.CapabilitySet { return f.caps }

func (f *fakeAdapter) Probe(ctx context.Context) error { return f.probeErr }

func (f *fakeAdapter) ListModels(ctx context.Context) ([]types.ModelDescriptor, error) {
	return f.models, nil
}

func (f *fakeAdapter) RecommendModel(cap types.Capability, tier types.HardwareTier) (types.ModelDescriptor, bool) {
	return backend.RecommendFrom(f.models, cap, types.TierT3)
}

func (f *fakeAdapter) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	f.mu.Lock()
	f.chats = append(f.chats, req.Model)
	f.mu.Unlock()
	return types.ChatResponse{Backend: f.kind, Model: req.Model, Content: "ok"}, nil
}

func (f *fakeAdapter) Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error) {
	return types.AudioResponse{Backend: f.kind, Model: req.Model, Text: "ok"}, nil
}

func (f *fakeAdapter) Load(ctx context.Context, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, modelID)
	return nil
}

func (f *fakeAdapter) Unload(ctx context.Context, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unloaded = append(f.unloaded, modelID)
	return nil
}

func (f *fakeAdapter) Pull(ctx context.Context, modelID string, onProgress backend.PullProgressFunc) error {
	for _, ev := range f.pullEvents {
		ev.ModelID = modelID
		ev.Backend = f.kind
		onProgress(ev)
	}
	return f.pullErr
}

func (f *fakeAdapter) unloadedModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.unloaded))
	copy(out, f.unloaded)
	return out
}

func (f *fakeAdapter) loadedModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.loaded))
	copy(out, f.loaded)
	return out
}

func (f *fakeAdapter) chatModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.chats))
	copy(out, f.chats)
	return out
}

func fakeModel(kind types.BackendKind, id string, size int64, caps ...types.Capability) types.ModelDescriptor {
	if len(caps) == 0 {
		caps = []types.Capability{types.CapChat, types.CapGenerate}
	}
	return types.ModelDescriptor{
		ID:           registry.QualifiedID(kind, id),
		Kind:         kind,
		ModelID:      id,
		Name:         id,
		Capabilities: caps,
		SizeBytes:    size,
		Installed:    true,
	}
}

func newTestBroker(t *testing.T, budget int64, adapters ...backend.Adapter) *Broker {
	t.Helper()
	var extra []types.ModelDescriptor
	for _, a := range adapters {
		if f, ok := a.(*fakeAdapter); ok {
			extra = append(extra, f.models...)
		}
	}
	set, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	return New(adapters, governor.New(budget), hardware.NewProfiler(), registry.New(extra...), set)
}

func TestRefreshStatusPreferenceOrder(t *testing.T) {
	builtin := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "tiny.gguf", 1*gib)},
	}
	ollama := &fakeAdapter{
		kind:     types.BackendOllama,
		caps:     types.NewCapabilitySet(types.CapChat),
		probeErr: errors.New("connection refused"),
	}

	b := newTestBroker(t, 10*gib, builtin, ollama)
	st := b.RefreshStatus(context.Background())

	if !st.HasAvailableProvider {
		t.Fatalf("builtin is up, expected an available provider")
	}
	if st.RecommendedProvider != types.BackendBuiltin {
		t.Fatalf("expected builtin recommended, got %s", st.RecommendedProvider)
	}
	if len(st.Providers) != 2 {
		t.Fatalf("expected 2 provider statuses, got %d", len(st.Providers))
	}
	for _, p := range st.Providers {
		switch p.Kind {
		case types.BackendBuiltin:
			if !p.Available || len(p.Models) != 1 {
				t.Fatalf("builtin status wrong: %+v", p)
			}
		case types.BackendOllama:
			if p.Available || p.Error == "" {
				t.Fatalf("ollama must be down with an error, got %+v", p)
			}
			if p.Models == nil {
				t.Fatalf("models must be empty, not null")
			}
		}
	}
}

func TestChatFallsBackToAvailableProvider(t *testing.T) {
	// Ollama (normally preferred over cloud) is down; builtin serves chat.
	builtin := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "tiny.gguf", 1*gib)},
	}
	ollama := &fakeAdapter{
		kind:     types.BackendOllama,
		caps:     types.NewCapabilitySet(types.CapChat),
		probeErr: errors.New("connection refused"),
	}

	b := newTestBroker(t, 10*gib, builtin, ollama)
	b.RefreshStatus(context.Background())

	for i := 0; i < 5; i++ {
		resp, err := b.Chat(context.Background(), types.ChatRequest{
			Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
		})
		if err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
		if resp.Backend != types.BackendBuiltin {
			t.Fatalf("chat %d: expected builtin, got %s", i, resp.Backend)
		}
		if resp.Model != "builtin:tiny.gguf" {
			t.Fatalf("chat %d: unexpected resolution %s", i, resp.Model)
		}
	}
}

func TestChatExplicitUnavailableBackend(t *testing.T) {
	ollama := &fakeAdapter{
		kind:     types.BackendOllama,
		caps:     types.NewCapabilitySet(types.CapChat),
		probeErr: errors.New("connection refused"),
	}
	b := newTestBroker(t, 10*gib, ollama)
	b.RefreshStatus(context.Background())

	_, err := b.Chat(context.Background(), types.ChatRequest{Backend: types.BackendOllama})
	if err == nil {
		t.Fatalf("expected error for an explicitly pinned unavailable backend")
	}
	if !IsBackendUnavailable(err) {
		t.Fatalf("expected backend-unavailable, got %v", err)
	}
}

func TestChatPreferredBackendWinsOverModelPrefix(t *testing.T) {
	// Both hints set and both backends up: the pinned backend decides, and
	// the foreign-prefixed model id is replaced by its recommendation.
	builtin := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "tiny.gguf", 1*gib)},
	}
	ollama := &fakeAdapter{
		kind:   types.BackendOllama,
		caps:   types.NewCapabilitySet(types.CapChat),
		models: []types.ModelDescriptor{fakeModel(types.BackendOllama, "llama3", 2*gib)},
	}
	b := newTestBroker(t, 10*gib, builtin, ollama)
	b.RefreshStatus(context.Background())

	resp, err := b.Chat(context.Background(), types.ChatRequest{
		Backend:  types.BackendBuiltin,
		Model:    "ollama:llama3",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Backend != types.BackendBuiltin {
		t.Fatalf("preferred backend should win, routed to %s", resp.Backend)
	}
	if resp.Model != "builtin:tiny.gguf" {
		t.Fatalf("unexpected resolution %s", resp.Model)
	}
	if got := ollama.chatModels(); len(got) != 0 {
		t.Fatalf("ollama must not serve the call, saw %v", got)
	}
}

func TestChatPreferredBackendKeepsMatchingModel(t *testing.T) {
	builtin := &fakeAdapter{
		kind: types.BackendBuiltin,
		caps: types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{
			fakeModel(types.BackendBuiltin, "a.gguf", 1*gib),
			fakeModel(types.BackendBuiltin, "b.gguf", 1*gib),
		},
	}
	b := newTestBroker(t, 10*gib, builtin)
	b.RefreshStatus(context.Background())

	resp, err := b.Chat(context.Background(), types.ChatRequest{
		Backend:  types.BackendBuiltin,
		Model:    "builtin:b.gguf",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Model != "builtin:b.gguf" {
		t.Fatalf("matching-prefix model must be kept, got %s", resp.Model)
	}
}

func TestChatPreferredDownFallsBackToModelKind(t *testing.T) {
	// The pinned backend is down, so the qualified model id decides next.
	builtin := &fakeAdapter{
		kind:     types.BackendBuiltin,
		caps:     types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		probeErr: errors.New("models dir missing"),
	}
	ollama := &fakeAdapter{
		kind:   types.BackendOllama,
		caps:   types.NewCapabilitySet(types.CapChat),
		models: []types.ModelDescriptor{fakeModel(types.BackendOllama, "llama3", 2*gib)},
	}
	b := newTestBroker(t, 10*gib, builtin, ollama)
	b.RefreshStatus(context.Background())

	resp, err := b.Chat(context.Background(), types.ChatRequest{
		Backend:  types.BackendBuiltin,
		Model:    "ollama:llama3",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Backend != types.BackendOllama || resp.Model != "ollama:llama3" {
		t.Fatalf("expected ollama:llama3, got %s on %s", resp.Model, resp.Backend)
	}
}

func TestChatNoProvider(t *testing.T) {
	embedOnly := &fakeAdapter{
		kind: types.BackendBuiltin,
		caps: types.NewCapabilitySet(types.CapEmbed),
	}
	b := newTestBroker(t, 10*gib, embedOnly)
	b.RefreshStatus(context.Background())

	_, err := b.Chat(context.Background(), types.ChatRequest{})
	if !IsNoProvider(err) {
		t.Fatalf("expected no-provider error, got %v", err)
	}
}

func TestDefaultModelFromSettings(t *testing.T) {
	builtin := &fakeAdapter{
		kind: types.BackendBuiltin,
		caps: types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{
			fakeModel(types.BackendBuiltin, "a.gguf", 1*gib),
			fakeModel(types.BackendBuiltin, "b.gguf", 1*gib),
		},
	}
	b := newTestBroker(t, 10*gib, builtin)
	b.RefreshStatus(context.Background())
	if err := b.settings.SetDefaultModel(types.CapChat, "builtin:b.gguf"); err != nil {
		t.Fatalf("set default: %v", err)
	}

	resp, err := b.Chat(context.Background(), types.ChatRequest{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Model != "builtin:b.gguf" {
		t.Fatalf("expected the configured default, got %s", resp.Model)
	}
}

func TestEnsureLoadedEvictsLRU(t *testing.T) {
	builtin := &fakeAdapter{
		kind: types.BackendBuiltin,
		caps: types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{
			fakeModel(types.BackendBuiltin, "a.gguf", 4*gib),
			fakeModel(types.BackendBuiltin, "b.gguf", 4*gib),
			fakeModel(types.BackendBuiltin, "c.gguf", 4*gib),
		},
	}
	b := newTestBroker(t, 10*gib, builtin)
	b.RefreshStatus(context.Background())

	if err := b.Load(context.Background(), "builtin:a.gguf"); err != nil {
		t.Fatalf("load a: %v", err)
	}
	time.Sleep(2 * time.Millisecond) // distinct LastUsed timestamps
	if err := b.Load(context.Background(), "builtin:b.gguf"); err != nil {
		t.Fatalf("load b: %v", err)
	}

	// 8GB of 10GB used; c needs 4GB, so the LRU victim (a) must go.
	if err := b.Load(context.Background(), "builtin:c.gguf"); err != nil {
		t.Fatalf("load c: %v", err)
	}

	unloaded := builtin.unloadedModels()
	if len(unloaded) != 1 || unloaded[0] != "a.gguf" {
		t.Fatalf("expected [a.gguf] evicted, got %v", unloaded)
	}

	loaded := b.LoadedModels()
	ids := map[string]bool{}
	for _, m := range loaded {
		ids[m.ModelID] = true
	}
	if !ids["b.gguf"] || !ids["c.gguf"] || ids["a.gguf"] {
		t.Fatalf("unexpected resident set %v", ids)
	}
}

func TestEnsureLoadedResourceExhausted(t *testing.T) {
	builtin := &fakeAdapter{
		kind: types.BackendBuiltin,
		caps: types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{
			fakeModel(types.BackendBuiltin, "huge.gguf", 12*gib),
		},
	}
	b := newTestBroker(t, 10*gib, builtin)
	b.RefreshStatus(context.Background())

	err := b.Load(context.Background(), "builtin:huge.gguf")
	if !IsResourceExhausted(err) {
		t.Fatalf("expected resource-exhausted, got %v", err)
	}
	if len(builtin.unloadedModels()) != 0 {
		t.Fatalf("nothing should be evicted for an impossible load")
	}
}

func TestRecommendedModelPreferredAvailabilityGate(t *testing.T) {
	builtin := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapChat, types.CapGenerate),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "tiny.gguf", 1*gib)},
	}
	ollama := &fakeAdapter{
		kind:     types.BackendOllama,
		caps:     types.NewCapabilitySet(types.CapChat),
		models:   []types.ModelDescriptor{fakeModel(types.BackendOllama, "llama3", 2*gib)},
		probeErr: errors.New("connection refused"),
	}
	b := newTestBroker(t, 10*gib, builtin, ollama)
	b.RefreshStatus(context.Background())

	// A down preferred kind yields to the preference-order scan.
	d, err := b.RecommendedModel(context.Background(), types.CapChat, types.BackendOllama)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if d.Kind != types.BackendBuiltin {
		t.Fatalf("expected the available backend's model, got %s", d.ID)
	}
}

func TestRecommendedModelPreferredDownNoFallback(t *testing.T) {
	ollama := &fakeAdapter{
		kind:     types.BackendOllama,
		caps:     types.NewCapabilitySet(types.CapChat),
		models:   []types.ModelDescriptor{fakeModel(types.BackendOllama, "llama3", 2*gib)},
		probeErr: errors.New("connection refused"),
	}
	b := newTestBroker(t, 10*gib, ollama)
	b.RefreshStatus(context.Background())

	_, err := b.RecommendedModel(context.Background(), types.CapChat, types.BackendOllama)
	if !IsBackendUnavailable(err) {
		t.Fatalf("expected backend-unavailable for a down pinned kind, got %v", err)
	}
}

func TestTranscribeLoadsThroughGovernor(t *testing.T) {
	audio := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapAudio),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "whisper.gguf", 2*gib, types.CapAudio)},
	}
	b := newTestBroker(t, 10*gib, audio)
	b.RefreshStatus(context.Background())

	if _, err := b.Transcribe(context.Background(), types.AudioRequest{AudioBase64: "YXVkaW8="}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got := audio.loadedModels(); len(got) != 1 || got[0] != "whisper.gguf" {
		t.Fatalf("transcription must load through the governor, loaded=%v", got)
	}
	if used := b.gov.UsedBytes(); used != 2*gib {
		t.Fatalf("governor should account the audio model, used=%d", used)
	}
}

func TestPullFansOutToSubscribers(t *testing.T) {
	builtin := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapChat),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "tiny.gguf", 1*gib)},
		pullEvents: []types.PullProgress{
			{Phase: types.PullDownloading, Percent: 50},
			{Phase: types.PullComplete, Percent: 100},
		},
	}
	b := newTestBroker(t, 10*gib, builtin)

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	if err := b.Pull(context.Background(), "builtin:tiny.gguf", nil); err != nil {
		t.Fatalf("pull: %v", err)
	}

	for _, ch := range []<-chan types.PullProgress{ch1, ch2} {
		var got []types.PullProgress
	drain:
		for {
			select {
			case p := <-ch:
				got = append(got, p)
			default:
				break drain
			}
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 events per subscriber, got %d", len(got))
		}
		if got[1].Phase != types.PullComplete {
			t.Fatalf("expected terminal complete, got %+v", got[1])
		}
		if got[0].ModelID != "tiny.gguf" || got[0].Backend != types.BackendBuiltin {
			t.Fatalf("event not attributed: %+v", got[0])
		}
	}
}

func TestPullUnknownKind(t *testing.T) {
	b := newTestBroker(t, 10*gib)
	if err := b.Pull(context.Background(), "not-qualified", nil); !IsModelNotFound(err) {
		t.Fatalf("expected model-not-found for an unqualified id, got %v", err)
	}
}

func TestStatusReturnsCopy(t *testing.T) {
	builtin := &fakeAdapter{kind: types.BackendBuiltin, caps: types.NewCapabilitySet(types.CapChat)}
	b := newTestBroker(t, 10*gib, builtin)
	b.RefreshStatus(context.Background())

	st := b.Status()
	st.Providers[0].Available = false
	st.Providers[0].Error = "mutated"

	again := b.Status()
	if !again.Providers[0].Available || again.Providers[0].Error != "" {
		t.Fatalf("mutating a snapshot must not affect the cache: %+v", again.Providers[0])
	}
}

func TestReclaimLoopUnloadsIdle(t *testing.T) {
	builtin := &fakeAdapter{
		kind:   types.BackendBuiltin,
		caps:   types.NewCapabilitySet(types.CapChat),
		models: []types.ModelDescriptor{fakeModel(types.BackendBuiltin, "tiny.gguf", 1*gib)},
	}
	b := newTestBroker(t, 10*gib, builtin)
	b.RefreshStatus(context.Background())

	if err := b.Load(context.Background(), "builtin:tiny.gguf"); err != nil {
		t.Fatalf("load: %v", err)
	}

	b.StartReclaimLoop(5*time.Millisecond, time.Nanosecond)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(b.LoadedModels()) == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Close()

	if len(b.LoadedModels()) != 0 {
		t.Fatalf("idle model should have been reclaimed")
	}
	if got := builtin.unloadedModels(); len(got) == 0 || got[0] != "tiny.gguf" {
		t.Fatalf("expected unload of tiny.gguf, got %v", got)
	}
}

// Package broker routes capability calls to backend adapters. It owns the
// provider status cache, resolves which backend and model serve a request,
// sequences budget-driven eviction through the governor and fans pull
// progress out to subscribers.
package broker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"inferd/internal/backend"
	"inferd/internal/governor"
	"inferd/internal/hardware"
	"inferd/internal/registry"
	"inferd/internal/settings"
	"inferd/pkg/types"
)

const defaultIdleUnload = 30 * time.Minute

// Broker coordinates adapters, governor and registry behind one API.
type Broker struct {
	// adapters in preference order: builtin, ollama, cloud.
	adapters []backend.Adapter
	byKind   map[types.BackendKind]backend.Adapter
	gov      *governor.Governor
	profiler *hardware.Profiler
	reg      *registry.Registry
	settings *settings.Store

	// status is replaced as a whole value on every refresh; readers never
	// see a half-written update.
	statusMu sync.RWMutex
	status   types.AllProvidersStatus

	subMu   sync.Mutex
	subs    map[int]chan types.PullProgress
	nextSub int

	pullMu  sync.Mutex
	pulling map[types.BackendKind]*types.PullProgress

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wires a broker over the given adapters. Adapter order is the
// preference order used for capability resolution.
func New(adapters []backend.Adapter, gov *governor.Governor, profiler *hardware.Profiler, reg *registry.Registry, set *settings.Store) *Broker {
	b := &Broker{
		adapters: adapters,
		byKind:   make(map[types.BackendKind]backend.Adapter, len(adapters)),
		gov:      gov,
		profiler: profiler,
		reg:      reg,
		settings: set,
		subs:     make(map[int]chan types.PullProgress),
		pulling:  make(map[types.BackendKind]*types.PullProgress),
		done:     make(chan struct{}),
	}
	for _, a := range adapters {
		b.byKind[a.Kind()] = a
	}
	return b
}

// StartReclaimLoop unloads models idle beyond idleFor on a periodic tick.
// Call Close to stop it.
func (b *Broker) StartReclaimLoop(interval, idleFor time.Duration) {
	if idleFor <= 0 {
		idleFor = defaultIdleUnload
	}
	if interval <= 0 {
		interval = time.Minute
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ticker.C:
				b.reclaimIdle(idleFor)
			}
		}
	}()
}

func (b *Broker) reclaimIdle(idleFor time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range b.gov.IdleModels(idleFor) {
		kind, modelID, ok := registry.SplitID(id)
		if !ok {
			continue
		}
		if err := b.unload(ctx, kind, modelID, false); err != nil {
			log.Warn().Err(err).Str("model", id).Msg("idle reclaim failed")
			continue
		}
		log.Info().Str("model", id).Msg("unloaded idle model")
	}
}

// Close stops background work, waits for it, then unloads every model
// still resident so backend runtimes release their memory.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, h := range b.gov.Handles() {
		if err := b.unload(ctx, h.Backend, h.ModelID, false); err != nil {
			log.Warn().Err(err).Str("model", h.ModelID).Msg("shutdown unload failed")
		}
	}
}

// RefreshStatus probes every adapter concurrently and replaces the cached
// status as one value.
func (b *Broker) RefreshStatus(ctx context.Context) types.AllProvidersStatus {
	now := time.Now().Unix()
	statuses := make([]types.ProviderStatus, len(b.adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range b.adapters {
		g.Go(func() error {
			st := types.ProviderStatus{
				Kind:          a.Kind(),
				Models:        []types.ModelDescriptor{},
				CheckedAtUnix: now,
			}
			if err := a.Probe(gctx); err != nil {
				st.Error = err.Error()
			} else {
				st.Available = true
				models, err := a.ListModels(gctx)
				if err != nil {
					log.Warn().Err(err).Str("backend", string(a.Kind())).Msg("model listing failed")
				} else {
					st.Models = models
				}
			}
			statuses[i] = st
			return nil
		})
	}
	g.Wait()

	b.pullMu.Lock()
	for i := range statuses {
		if p, ok := b.pulling[statuses[i].Kind]; ok {
			cp := *p
			statuses[i].Pulling = &cp
		}
	}
	b.pullMu.Unlock()

	next := types.AllProvidersStatus{Providers: statuses}
	for _, st := range statuses {
		if st.Available {
			next.HasAvailableProvider = true
			if next.RecommendedProvider == "" {
				next.RecommendedProvider = st.Kind
			}
		}
	}

	b.statusMu.Lock()
	b.status = next
	b.statusMu.Unlock()
	return next
}

// Status returns the last refreshed provider status without probing.
func (b *Broker) Status() types.AllProvidersStatus {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	out := b.status
	out.Providers = make([]types.ProviderStatus, len(b.status.Providers))
	copy(out.Providers, b.status.Providers)
	return out
}

func (b *Broker) available(kind types.BackendKind) (bool, string) {
	b.statusMu.RLock()
	defer b.statusMu.RUnlock()
	for _, st := range b.status.Providers {
		if st.Kind == kind {
			return st.Available, st.Error
		}
	}
	return false, "never probed"
}

// resolve picks the adapter and fully-qualified model id for a request.
// Order: preferred backend kind while its last probe was available, then
// an explicit "kind:model" id, then the configured default model for the
// capability, then the first available adapter in preference order that
// supports the capability.
func (b *Broker) resolve(cap types.Capability, model string, preferred types.BackendKind) (backend.Adapter, string, error) {
	// An unavailable preferred kind falls through to the later steps; its
	// error is kept so a fully failed resolution names the pinned backend.
	var preferredDown error
	if preferred != "" {
		a, ok := b.byKind[preferred]
		if !ok {
			return nil, "", backendUnavailableError{kind: preferred, reason: "not configured"}
		}
		if !backend.Supports(a, cap) {
			return nil, "", ErrNoProvider(cap)
		}
		avail, reason := b.available(preferred)
		if avail {
			return a, b.modelOn(a, cap, model), nil
		}
		preferredDown = backendUnavailableError{kind: preferred, reason: reason}
	}

	if model != "" {
		if kind, _, ok := registry.SplitID(model); ok {
			return b.adapterFor(kind, cap, model)
		}
		// A bare model id rides on the first provider that could serve it.
		for _, a := range b.adapters {
			if ok, _ := b.available(a.Kind()); ok && backend.Supports(a, cap) {
				return a, registry.QualifiedID(a.Kind(), model), nil
			}
		}
		if preferredDown != nil {
			return nil, "", preferredDown
		}
		return nil, "", ErrNoProvider(cap)
	}

	if def, ok := b.settings.DefaultModel(cap); ok {
		if kind, _, ok := registry.SplitID(def); ok {
			if avail, _ := b.available(kind); avail {
				return b.adapterFor(kind, cap, def)
			}
		}
	}

	for _, a := range b.adapters {
		if ok, _ := b.available(a.Kind()); ok && backend.Supports(a, cap) {
			return a, b.pickModel(a, cap), nil
		}
	}
	if preferredDown != nil {
		return nil, "", preferredDown
	}
	return nil, "", ErrNoProvider(cap)
}

// modelOn resolves the model id to run on an already-chosen adapter. A
// bare id gets the adapter's kind prefix; an id prefixed with a different
// kind loses to the chosen backend and is replaced by its recommendation.
func (b *Broker) modelOn(a backend.Adapter, cap types.Capability, model string) string {
	if model != "" {
		kind, _, ok := registry.SplitID(model)
		if !ok {
			return registry.QualifiedID(a.Kind(), model)
		}
		if kind == a.Kind() {
			return model
		}
	}
	return b.pickModel(a, cap)
}

// adapterFor returns the adapter for an explicit kind, verifying support
// and availability. model, when non-empty, is returned as the resolved id.
func (b *Broker) adapterFor(kind types.BackendKind, cap types.Capability, model string) (backend.Adapter, string, error) {
	a, ok := b.byKind[kind]
	if !ok {
		return nil, "", backendUnavailableError{kind: kind, reason: "not configured"}
	}
	if !backend.Supports(a, cap) {
		return nil, "", ErrNoProvider(cap)
	}
	if avail, reason := b.available(kind); !avail {
		return nil, "", backendUnavailableError{kind: kind, reason: reason}
	}
	if model == "" {
		model = b.pickModel(a, cap)
	}
	return a, model, nil
}

func (b *Broker) pickModel(a backend.Adapter, cap types.Capability) string {
	tier := b.profiler.Detect(context.Background(), false).Tier
	if d, ok := a.RecommendModel(cap, tier); ok {
		return d.ID
	}
	return ""
}

// ensureLoaded runs budget governance before a model call: check the
// budget, evict LRU victims once if needed, then load through the owning
// adapter when it manages model lifecycle.
func (b *Broker) ensureLoaded(ctx context.Context, a backend.Adapter, qualifiedID string) error {
	kind, modelID, ok := registry.SplitID(qualifiedID)
	if !ok || kind != a.Kind() {
		modelID = qualifiedID
	}

	d, known := b.reg.ByID(registry.QualifiedID(a.Kind(), modelID))
	var size int64
	if known {
		size = d.SizeBytes
	}
	if size == 0 {
		// Unknown size cannot be budgeted; let the backend try.
		return b.loadThrough(ctx, a, modelID, size)
	}

	if !b.gov.CanLoad(size) {
		victims, enough := b.gov.ModelsToEvict(size)
		if !enough {
			return resourceExhaustedError{modelID: modelID, needed: size, budget: b.gov.Budget()}
		}
		for _, victim := range victims {
			vkind, vmodel, ok := registry.SplitID(victim)
			if !ok {
				continue
			}
			if err := b.unload(ctx, vkind, vmodel, true); err != nil {
				log.Warn().Err(err).Str("model", victim).Msg("eviction unload failed")
			}
		}
		if !b.gov.CanLoad(size) {
			return resourceExhaustedError{modelID: modelID, needed: size, budget: b.gov.Budget()}
		}
	}
	return b.loadThrough(ctx, a, modelID, size)
}

func (b *Broker) loadThrough(ctx context.Context, a backend.Adapter, modelID string, size int64) error {
	loader, ok := a.(backend.ModelLoader)
	if !ok {
		// Stateless backend (cloud): nothing resident to track.
		return nil
	}
	if err := loader.Load(ctx, modelID); err != nil {
		return err
	}
	b.gov.TrackLoaded(a.Kind(), modelID, size)
	return nil
}

func (b *Broker) unload(ctx context.Context, kind types.BackendKind, modelID string, evicted bool) error {
	a, ok := b.byKind[kind]
	if !ok {
		return backendUnavailableError{kind: kind, reason: "not configured"}
	}
	loader, ok := a.(backend.ModelLoader)
	if !ok {
		return backend.ErrNotSupported(string(kind), "unload")
	}
	if err := loader.Unload(ctx, modelID); err != nil {
		return err
	}
	b.gov.TrackUnloaded(kind, modelID, evicted)
	return nil
}

// Chat routes a chat completion to the resolved backend.
func (b *Broker) Chat(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	a, model, err := b.resolve(types.CapChat, req.Model, req.Backend)
	if err != nil {
		return types.ChatResponse{}, err
	}
	if err := b.ensureLoaded(ctx, a, model); err != nil {
		return types.ChatResponse{}, err
	}
	req.Model = model
	resp, err := a.(backend.ChatProvider).Chat(ctx, req)
	if err != nil {
		return types.ChatResponse{}, err
	}
	b.trackUsed(a.Kind(), model)
	return resp, nil
}

// Generate routes a raw completion.
func (b *Broker) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	a, model, err := b.resolve(types.CapGenerate, req.Model, req.Backend)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	if err := b.ensureLoaded(ctx, a, model); err != nil {
		return types.GenerateResponse{}, err
	}
	req.Model = model
	resp, err := a.(backend.Generator).Generate(ctx, req)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	b.trackUsed(a.Kind(), model)
	return resp, nil
}

// Embed routes an embedding request.
func (b *Broker) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	a, model, err := b.resolve(types.CapEmbed, req.Model, req.Backend)
	if err != nil {
		return types.EmbedResponse{}, err
	}
	if err := b.ensureLoaded(ctx, a, model); err != nil {
		return types.EmbedResponse{}, err
	}
	req.Model = model
	resp, err := a.(backend.Embedder).Embed(ctx, req)
	if err != nil {
		return types.EmbedResponse{}, err
	}
	b.trackUsed(a.Kind(), model)
	return resp, nil
}

// Vision routes an image-understanding request.
func (b *Broker) Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error) {
	a, model, err := b.resolve(types.CapVision, req.Model, req.Backend)
	if err != nil {
		return types.VisionResponse{}, err
	}
	if err := b.ensureLoaded(ctx, a, model); err != nil {
		return types.VisionResponse{}, err
	}
	req.Model = model
	resp, err := a.(backend.VisionProvider).Vision(ctx, req)
	if err != nil {
		return types.VisionResponse{}, err
	}
	b.trackUsed(a.Kind(), model)
	return resp, nil
}

// Transcribe routes an audio transcription request.
func (b *Broker) Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error) {
	a, model, err := b.resolve(types.CapAudio, req.Model, req.Backend)
	if err != nil {
		return types.AudioResponse{}, err
	}
	if err := b.ensureLoaded(ctx, a, model); err != nil {
		return types.AudioResponse{}, err
	}
	req.Model = model
	resp, err := a.(backend.AudioTranscriber).Transcribe(ctx, req)
	if err != nil {
		return types.AudioResponse{}, err
	}
	b.trackUsed(a.Kind(), model)
	return resp, nil
}

// GenerateImage routes an image generation request.
func (b *Broker) GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error) {
	a, model, err := b.resolve(types.CapImageGen, req.Model, req.Backend)
	if err != nil {
		return types.ImageGenResponse{}, err
	}
	if err := b.ensureLoaded(ctx, a, model); err != nil {
		return types.ImageGenResponse{}, err
	}
	req.Model = model
	resp, err := a.(backend.ImageGenerator).GenerateImage(ctx, req)
	if err != nil {
		return types.ImageGenResponse{}, err
	}
	b.trackUsed(a.Kind(), model)
	return resp, nil
}

func (b *Broker) trackUsed(kind types.BackendKind, qualifiedID string) {
	_, modelID, ok := registry.SplitID(qualifiedID)
	if !ok {
		modelID = qualifiedID
	}
	b.gov.TrackUsed(kind, modelID)
}

// Subscribe registers a pull-progress listener. The returned cancel func
// must be called to release the channel.
func (b *Broker) Subscribe() (<-chan types.PullProgress, func()) {
	ch := make(chan types.PullProgress, 64)
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.subMu.Unlock()
	return ch, func() {
		b.subMu.Lock()
		delete(b.subs, id)
		b.subMu.Unlock()
	}
}

// publish fans a progress event out. Slow subscribers lose events rather
// than stalling the download.
func (b *Broker) publish(p types.PullProgress) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Pull downloads a model on its backend, streaming progress to the given
// callback (optional) and to every subscriber.
func (b *Broker) Pull(ctx context.Context, qualifiedID string, onProgress backend.PullProgressFunc) error {
	kind, modelID, ok := registry.SplitID(qualifiedID)
	if !ok {
		return ErrModelNotFound(qualifiedID)
	}
	a, found := b.byKind[kind]
	if !found {
		return backendUnavailableError{kind: kind, reason: "not configured"}
	}
	puller, canPull := a.(backend.Puller)
	if !canPull {
		return backend.ErrNotSupported(string(kind), "pull")
	}

	forward := func(p types.PullProgress) {
		b.pullMu.Lock()
		if p.Phase == types.PullComplete || p.Phase == types.PullError {
			delete(b.pulling, kind)
		} else {
			cp := p
			b.pulling[kind] = &cp
		}
		b.pullMu.Unlock()
		b.publish(p)
		if onProgress != nil {
			onProgress(p)
		}
	}

	err := puller.Pull(ctx, modelID, forward)
	if err != nil {
		b.pullMu.Lock()
		delete(b.pulling, kind)
		b.pullMu.Unlock()
		return err
	}
	b.reg.MarkInstalled(registry.QualifiedID(kind, modelID), true)
	return nil
}

// Delete removes an installed model from its backend.
func (b *Broker) Delete(ctx context.Context, qualifiedID string) error {
	kind, modelID, ok := registry.SplitID(qualifiedID)
	if !ok {
		return ErrModelNotFound(qualifiedID)
	}
	a, found := b.byKind[kind]
	if !found {
		return backendUnavailableError{kind: kind, reason: "not configured"}
	}
	deleter, canDelete := a.(backend.Deleter)
	if !canDelete {
		return backend.ErrNotSupported(string(kind), "delete")
	}
	if err := deleter.Delete(ctx, modelID); err != nil {
		return err
	}
	b.gov.TrackUnloaded(kind, modelID, false)
	b.reg.MarkInstalled(registry.QualifiedID(kind, modelID), false)
	return nil
}

// Load explicitly loads a model under budget governance.
func (b *Broker) Load(ctx context.Context, qualifiedID string) error {
	kind, _, ok := registry.SplitID(qualifiedID)
	if !ok {
		return ErrModelNotFound(qualifiedID)
	}
	a, found := b.byKind[kind]
	if !found {
		return backendUnavailableError{kind: kind, reason: "not configured"}
	}
	return b.ensureLoaded(ctx, a, qualifiedID)
}

// Unload explicitly unloads a model.
func (b *Broker) Unload(ctx context.Context, qualifiedID string) error {
	kind, modelID, ok := registry.SplitID(qualifiedID)
	if !ok {
		return ErrModelNotFound(qualifiedID)
	}
	return b.unload(ctx, kind, modelID, false)
}

// LoadedModels reports every model under budget accounting.
func (b *Broker) LoadedModels() []types.LoadedModel {
	handles := b.gov.Handles()
	out := make([]types.LoadedModel, 0, len(handles))
	for _, h := range handles {
		out = append(out, types.LoadedModel{
			ModelID:      h.ModelID,
			Backend:      h.Backend,
			LoadedAtUnix: h.LoadedAt.Unix(),
			LastUsedUnix: h.LastUsed.Unix(),
			MemoryBytes:  h.SizeBytes,
		})
	}
	return out
}

// RecommendedModel picks the best model for a capability, optionally
// pinned to a backend kind.
func (b *Broker) RecommendedModel(ctx context.Context, cap types.Capability, preferred types.BackendKind) (types.ModelDescriptor, error) {
	tier := b.profiler.Detect(ctx, false).Tier
	var preferredDown error
	if preferred != "" {
		a, ok := b.byKind[preferred]
		if !ok {
			return types.ModelDescriptor{}, backendUnavailableError{kind: preferred, reason: "not configured"}
		}
		avail, reason := b.available(preferred)
		if avail {
			if d, ok := a.RecommendModel(cap, tier); ok {
				return d, nil
			}
			return types.ModelDescriptor{}, ErrNoProvider(cap)
		}
		// Same fall-through as request resolution: a down preferred kind
		// yields to the preference-order scan.
		preferredDown = backendUnavailableError{kind: preferred, reason: reason}
	}
	for _, a := range b.adapters {
		if avail, _ := b.available(a.Kind()); !avail || !backend.Supports(a, cap) {
			continue
		}
		if d, ok := a.RecommendModel(cap, tier); ok {
			return d, nil
		}
	}
	if preferredDown != nil {
		return types.ModelDescriptor{}, preferredDown
	}
	return types.ModelDescriptor{}, ErrNoProvider(cap)
}

// ListAllModels merges the registry catalog with live adapter listings.
// Installed and loaded flags come from the adapters when available.
func (b *Broker) ListAllModels(ctx context.Context) []types.ModelDescriptor {
	seen := map[string]int{}
	var out []types.ModelDescriptor
	for _, d := range b.reg.All() {
		seen[d.ID] = len(out)
		out = append(out, d)
	}
	for _, st := range b.Status().Providers {
		for _, d := range st.Models {
			if i, ok := seen[d.ID]; ok {
				out[i].Installed = d.Installed
				out[i].Loaded = d.Loaded
				if out[i].SizeBytes == 0 {
					out[i].SizeBytes = d.SizeBytes
					out[i].SizeLabel = d.SizeLabel
				}
				continue
			}
			seen[d.ID] = len(out)
			out = append(out, d)
		}
	}
	for _, h := range b.gov.Handles() {
		if i, ok := seen[registry.QualifiedID(h.Backend, h.ModelID)]; ok {
			out[i].Loaded = true
		}
	}
	return out
}

// Hardware returns the cached hardware snapshot.
func (b *Broker) Hardware(ctx context.Context, forceRefresh bool) types.HardwareSnapshot {
	return b.profiler.Detect(ctx, forceRefresh)
}

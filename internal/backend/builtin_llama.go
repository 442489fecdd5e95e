//go:build llama

package backend

import (
	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaRuntimeBuilt indicates this binary was compiled with real llama support.
var llamaRuntimeBuilt = true

type llamaGGUF struct {
	model   *llama.LLama
	threads int
}

func newGGUFModel(path string, ctxSize, threads int) (ggufModel, error) {
	m, err := llama.New(path,
		llama.SetContext(ctxSize),
		llama.EnableEmbeddings,
	)
	if err != nil {
		return nil, err
	}
	if threads <= 0 {
		threads = 4
	}
	return &llamaGGUF{model: m, threads: threads}, nil
}

func (g *llamaGGUF) Predict(prompt string, maxTokens int, temperature float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	po := []llama.PredictOption{
		llama.SetTokens(maxTokens),
		llama.SetThreads(g.threads),
	}
	if temperature > 0 {
		po = append(po, llama.SetTemperature(float32(temperature)))
	}
	return g.model.Predict(prompt, po...)
}

func (g *llamaGGUF) Embed(text string) ([]float64, error) {
	raw, err := g.model.Embeddings(text, llama.SetThreads(g.threads))
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

func (g *llamaGGUF) Free() {
	if g.model != nil {
		g.model.Free()
		g.model = nil
	}
}

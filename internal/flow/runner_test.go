package flow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inferd/pkg/types"
)

// fakeClient scripts capability responses per prompt/step.
type fakeClient struct {
	generate func(prompt string) (string, error)
	calls    []string
}

func (c *fakeClient) Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error) {
	c.calls = append(c.calls, req.Prompt)
	out := "echo: " + req.Prompt
	var err error
	if c.generate != nil {
		out, err = c.generate(req.Prompt)
	}
	return types.GenerateResponse{Content: out}, err
}

func (c *fakeClient) Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error) {
	return types.EmbedResponse{Embeddings: [][]float64{{0.5, 1.5}}}, nil
}

func (c *fakeClient) Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error) {
	return types.VisionResponse{Content: "a cat"}, nil
}

func (c *fakeClient) Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error) {
	return types.AudioResponse{Text: "transcript of " + req.AudioBase64}, nil
}

func (c *fakeClient) GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error) {
	return types.ImageGenResponse{Images: []string{"b64-image"}}, nil
}

func TestExecuteThreadsOutputs(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "question", Required: true}},
		Steps: []types.FlowStep{
			{Name: "ask", Capability: types.CapGenerate, InputRef: "$question", OutputName: "answer"},
			{Name: "summarize", Capability: types.CapGenerate, InputRef: "$answer", Prompt: "Summarize: $answer", OutputName: "summary"},
		},
	}

	res := r.Execute(context.Background(), f, map[string]Value{"question": Text("why?")}, Observer{})
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "echo: Summarize: echo: why?", res.Output)
	assert.Equal(t, res.StepResults["summarize"], res.Output)
	assert.Len(t, res.StepResults, 2)
	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, "f1", res.FlowID)
}

func TestExecuteMissingRequiredInputFails(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "question", Required: true}},
		Steps: []types.FlowStep{
			{Name: "ask", Capability: types.CapGenerate, InputRef: "$question", OutputName: "answer"},
		},
	}

	res := r.Execute(context.Background(), f, map[string]Value{}, Observer{})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, `missing required input "question"`)
	assert.Empty(t, res.StepResults, "no step may run without required inputs")

	// An explicitly empty value satisfies the requirement.
	res = r.Execute(context.Background(), f, map[string]Value{"question": Text("")}, Observer{})
	require.True(t, res.Success, "error: %s", res.Error)
}

func TestExecuteStopConditionEndsEarly(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	// q resolves empty, so summarize's stop condition fires before it runs.
	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "text", Required: false}},
		Steps: []types.FlowStep{
			{Name: "ask", Capability: types.CapGenerate, InputRef: "$text", OutputName: "q"},
			{
				Name: "summarize", Capability: types.CapGenerate, InputRef: "$q", OutputName: "summary",
				Condition: &types.StepCondition{Variable: "$q", Op: types.OpEmpty, Action: types.ActionStop},
			},
		},
	}

	client.generate = func(prompt string) (string, error) { return "", nil } // ask returns empty
	res := r.Execute(context.Background(), f, map[string]Value{"text": Text("")}, Observer{})

	require.True(t, res.Success)
	assert.Equal(t, res.StepResults["ask"], res.Output, "final output must be the last executed step's")
	_, summarized := res.StepResults["summarize"]
	assert.False(t, summarized, "summarize must never run")
	assert.Len(t, client.calls, 1)
}

func TestExecuteSkipJumpsToTarget(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "mode"}},
		Steps: []types.FlowStep{
			{
				Name: "gate", Capability: types.CapGenerate, InputRef: "$mode", OutputName: "gate_out",
				Condition: &types.StepCondition{Variable: "$mode", Op: types.OpEquals, Value: "fast", Action: types.ActionSkip, Target: "final"},
			},
			{Name: "slow", Capability: types.CapGenerate, InputRef: "slow work", OutputName: "slow_out"},
			{Name: "final", Capability: types.CapGenerate, InputRef: "done", OutputName: "final_out"},
		},
	}

	res := r.Execute(context.Background(), f, map[string]Value{"mode": Text("fast")}, Observer{})
	require.True(t, res.Success, "error: %s", res.Error)
	_, gateRan := res.StepResults["gate"]
	_, slowRan := res.StepResults["slow"]
	assert.False(t, gateRan, "a matched skip bypasses the step itself")
	assert.False(t, slowRan)
	assert.Equal(t, "echo: done", res.Output)
}

func TestExecuteSkipWithoutTargetAdvances(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "q"}},
		Steps: []types.FlowStep{
			{
				Name: "maybe", Capability: types.CapGenerate, InputRef: "$q", OutputName: "maybe_out",
				Condition: &types.StepCondition{Variable: "$q", Op: types.OpNotEmpty, Action: types.ActionSkip},
			},
			{Name: "always", Capability: types.CapGenerate, InputRef: "hello", OutputName: "always_out"},
		},
	}

	res := r.Execute(context.Background(), f, map[string]Value{"q": Text("present")}, Observer{})
	require.True(t, res.Success)
	assert.Equal(t, "echo: hello", res.Output)
	assert.Len(t, res.StepResults, 1)
}

func TestExecuteStepFailureKeepsPartialResults(t *testing.T) {
	client := &fakeClient{}
	client.generate = func(prompt string) (string, error) {
		if prompt == "boom" {
			return "", errors.New("model exploded")
		}
		return "ok:" + prompt, nil
	}
	r := NewRunner(client)

	f := types.Flow{
		ID: "f1",
		Steps: []types.FlowStep{
			{Name: "first", Capability: types.CapGenerate, InputRef: "fine", OutputName: "a"},
			{Name: "second", Capability: types.CapGenerate, InputRef: "boom", OutputName: "b"},
			{Name: "third", Capability: types.CapGenerate, InputRef: "never", OutputName: "c"},
		},
	}

	var errored string
	res := r.Execute(context.Background(), f, nil, Observer{
		OnStepError: func(name string, err error) { errored = name },
	})

	require.False(t, res.Success)
	assert.Equal(t, "second", res.FailedStep)
	assert.Equal(t, "second", errored)
	assert.Contains(t, res.Error, `"second"`)
	assert.Contains(t, res.Error, "model exploded")
	assert.Equal(t, map[string]string{"first": "ok:fine"}, res.StepResults)
}

func TestExecuteCyclicFlowHitsLimit(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	// loop jumps back to itself forever.
	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "q"}},
		Steps: []types.FlowStep{
			{
				Name: "loop", Capability: types.CapGenerate, InputRef: "$q", OutputName: "out",
				Condition: &types.StepCondition{Variable: "$q", Op: types.OpNotEmpty, Action: types.ActionSkip, Target: "loop"},
			},
		},
	}

	res := r.Execute(context.Background(), f, map[string]Value{"q": Text("x")}, Observer{})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "step executions")
	assert.Empty(t, client.calls, "a pure jump loop never dispatches")
}

func TestExecuteInvalidFlowNeverDispatches(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID: "f1",
		Steps: []types.FlowStep{
			{Name: "s", Capability: types.CapGenerate, InputRef: "$missing", OutputName: "out"},
		},
	}
	res := r.Execute(context.Background(), f, nil, Observer{})
	require.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid flow")
	assert.Empty(t, client.calls)
}

func TestExecuteObserverOrder(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID: "f1",
		Steps: []types.FlowStep{
			{Name: "one", Capability: types.CapGenerate, InputRef: "a", OutputName: "x"},
			{Name: "two", Capability: types.CapGenerate, InputRef: "b", OutputName: "y"},
		},
	}

	var trace []string
	res := r.Execute(context.Background(), f, nil, Observer{
		OnStepStart:    func(name string) { trace = append(trace, "start:"+name) },
		OnStepComplete: func(name, out string) { trace = append(trace, "done:"+name) },
	})
	require.True(t, res.Success)
	assert.Equal(t, []string{"start:one", "done:one", "start:two", "done:two"}, trace)
}

func TestExecuteAudioAndEmbedSteps(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	f := types.Flow{
		ID:     "f1",
		Inputs: []types.FlowInput{{Name: "recording"}},
		Steps: []types.FlowStep{
			{Name: "transcribe", Capability: types.CapAudio, InputRef: "$recording", OutputName: "transcript"},
			{Name: "vectorize", Capability: types.CapEmbed, InputRef: "$transcript", OutputName: "vector"},
		},
	}

	res := r.Execute(context.Background(), f, map[string]Value{"recording": Text("AAAA")}, Observer{})
	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, "transcript of AAAA", res.StepResults["transcribe"])
	assert.Equal(t, "0.5,1.5", res.StepResults["vectorize"])
}

func TestExecuteCanceledContext(t *testing.T) {
	client := &fakeClient{}
	r := NewRunner(client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := types.Flow{
		ID: "f1",
		Steps: []types.FlowStep{
			{Name: "s", Capability: types.CapGenerate, InputRef: "hi", OutputName: "out"},
		},
	}
	res := r.Execute(ctx, f, nil, Observer{})
	require.False(t, res.Success)
	assert.Equal(t, fmt.Sprint(context.Canceled), res.Error)
}

package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"inferd/pkg/types"
)

// CapabilityClient is the routing surface the runner dispatches steps
// through. The broker satisfies it.
type CapabilityClient interface {
	Generate(ctx context.Context, req types.GenerateRequest) (types.GenerateResponse, error)
	Embed(ctx context.Context, req types.EmbedRequest) (types.EmbedResponse, error)
	Vision(ctx context.Context, req types.VisionRequest) (types.VisionResponse, error)
	Transcribe(ctx context.Context, req types.AudioRequest) (types.AudioResponse, error)
	GenerateImage(ctx context.Context, req types.ImageGenRequest) (types.ImageGenResponse, error)
}

// Observer receives per-step lifecycle callbacks. Any field may be nil.
type Observer struct {
	OnStepStart    func(stepName string)
	OnStepComplete func(stepName, output string)
	OnStepError    func(stepName string, err error)
}

// stepExecutionFactor bounds backward jumps: a flow may execute at most
// this many steps per declared step before it is presumed cyclic.
const stepExecutionFactor = 10

// executionLimitError signals a flow that kept jumping backward past the
// execution bound.
type executionLimitError struct {
	flowID string
	limit  int
}

func (e executionLimitError) Error() string {
	return fmt.Sprintf("flow %s exceeded %d step executions; aborting a likely cyclic flow", e.flowID, e.limit)
}

// IsExecutionLimit reports whether err means the flow hit the cyclic-jump bound.
func IsExecutionLimit(err error) bool {
	_, ok := err.(executionLimitError)
	return ok
}

// Runner executes validated flows against a capability client.
type Runner struct {
	client CapabilityClient
}

func NewRunner(client CapabilityClient) *Runner {
	return &Runner{client: client}
}

// Execute runs the flow sequentially. Validation failures and step
// failures are reported in the result, never as a panic or a hang; the
// partial step results survive a mid-flow failure.
func (r *Runner) Execute(ctx context.Context, f types.Flow, inputs map[string]Value, obs Observer) types.ExecutionResult {
	start := time.Now()
	result := types.ExecutionResult{
		ExecutionID:   uuid.NewString(),
		FlowID:        f.ID,
		StepResults:   map[string]string{},
		StartedAtUnix: start.Unix(),
	}
	finish := func() types.ExecutionResult {
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	if v := Validate(f); !v.Valid {
		result.Error = "invalid flow: " + strings.Join(v.Errors, "; ")
		return finish()
	}

	// Required inputs must be supplied before any step runs. An explicitly
	// empty value is allowed; step conditions decide what emptiness means.
	for _, in := range f.Inputs {
		if !in.Required {
			continue
		}
		if _, ok := inputs[in.Name]; !ok {
			result.Error = fmt.Sprintf("missing required input %q", in.Name)
			return finish()
		}
	}

	vars := map[string]Value{}
	for name, v := range inputs {
		vars[name] = v
	}

	indexByName := map[string]int{}
	for i, s := range f.Steps {
		indexByName[s.Name] = i
	}

	limit := stepExecutionFactor * len(f.Steps)
	executed := 0
	lastOutput := ""

	i := 0
	for i < len(f.Steps) {
		if err := ctx.Err(); err != nil {
			result.Error = err.Error()
			result.FailedStep = f.Steps[i].Name
			return finish()
		}
		if executed >= limit {
			err := executionLimitError{flowID: f.ID, limit: limit}
			result.Error = err.Error()
			result.FailedStep = f.Steps[i].Name
			return finish()
		}
		executed++

		step := f.Steps[i]
		input := r.resolveInput(step.InputRef, vars)

		if step.Condition != nil {
			matched := evalCondition(*step.Condition, vars)
			if matched {
				switch step.Condition.Action {
				case types.ActionStop:
					result.Success = true
					result.Output = lastOutput
					log.Debug().Str("flow", f.ID).Str("step", step.Name).Msg("condition stopped flow")
					return finish()
				case types.ActionSkip:
					if target, ok := indexByName[step.Condition.Target]; ok && step.Condition.Target != "" {
						i = target
					} else {
						i++
					}
					continue
				case types.ActionContinue:
					// fall through to execution
				}
			}
		}

		if obs.OnStepStart != nil {
			obs.OnStepStart(step.Name)
		}
		output, err := r.dispatch(ctx, step, input, vars)
		if err != nil {
			if obs.OnStepError != nil {
				obs.OnStepError(step.Name, err)
			}
			result.FailedStep = step.Name
			result.Error = fmt.Sprintf("step %q failed: %v", step.Name, err)
			return finish()
		}
		vars[step.OutputName] = Text(output)
		result.StepResults[step.Name] = output
		lastOutput = output
		if obs.OnStepComplete != nil {
			obs.OnStepComplete(step.Name, output)
		}
		i++
	}

	result.Success = true
	result.Output = lastOutput
	return finish()
}

// resolveInput turns a step's inputRef into a value: $refs look up inputs
// and prior outputs, anything else is a literal.
func (r *Runner) resolveInput(ref string, vars map[string]Value) Value {
	if name, ok := reference(ref); ok {
		if v, found := vars[name]; found {
			return v
		}
		return Text("")
	}
	return Text(ref)
}

func (r *Runner) dispatch(ctx context.Context, step types.FlowStep, input Value, vars map[string]Value) (string, error) {
	cap, _ := StepCapability(step)
	prompt := Interpolate(step.Prompt, vars)
	if strings.TrimSpace(prompt) == "" {
		prompt = input.String()
	}

	switch cap {
	case types.CapChat, types.CapGenerate:
		resp, err := r.client.Generate(ctx, types.GenerateRequest{Model: step.Model, Prompt: prompt})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	case types.CapVision:
		resp, err := r.client.Vision(ctx, types.VisionRequest{Model: step.Model, Prompt: prompt, ImageBase64: input.String()})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	case types.CapAudio:
		resp, err := r.client.Transcribe(ctx, types.AudioRequest{Model: step.Model, AudioBase64: input.String()})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	case types.CapEmbed:
		resp, err := r.client.Embed(ctx, types.EmbedRequest{Model: step.Model, Input: input.parts})
		if err != nil {
			return "", err
		}
		return formatEmbeddings(resp.Embeddings), nil
	case types.CapImageGen:
		resp, err := r.client.GenerateImage(ctx, types.ImageGenRequest{Model: step.Model, Prompt: prompt})
		if err != nil {
			return "", err
		}
		if len(resp.Images) == 0 {
			return "", fmt.Errorf("image generation returned no images")
		}
		return resp.Images[0], nil
	default:
		// Unreachable after validation.
		return "", fmt.Errorf("unknown capability %q", cap)
	}
}

// formatEmbeddings renders vectors as comma-joined floats, one vector per
// line, so downstream text steps can consume them.
func formatEmbeddings(vectors [][]float64) string {
	lines := make([]string, 0, len(vectors))
	for _, vec := range vectors {
		parts := make([]string, len(vec))
		for i, f := range vec {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		lines = append(lines, strings.Join(parts, ","))
	}
	return strings.Join(lines, "\n")
}

func evalCondition(c types.StepCondition, vars map[string]Value) bool {
	var v Value
	if name, ok := reference(c.Variable); ok {
		v = vars[name] // zero Value when unresolved: counts as empty
	} else {
		v = Text(c.Variable)
	}
	s := v.String()

	switch c.Op {
	case types.OpEmpty:
		return v.IsEmpty()
	case types.OpNotEmpty:
		return !v.IsEmpty()
	case types.OpContains:
		return strings.Contains(s, c.Value)
	case types.OpEquals:
		return s == c.Value
	case types.OpNotEquals:
		return s != c.Value
	default:
		return false
	}
}

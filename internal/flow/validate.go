// Package flow validates and executes sequential capability pipelines.
// Validation catches schema problems (dangling references, duplicate
// output names) before execution, so the runner never fails on them.
package flow

import (
	"fmt"
	"strings"

	"inferd/pkg/types"
)

// legacy model_type values mapped onto capabilities for older flows.
var legacyModelTypes = map[string]types.Capability{
	"text":      types.CapGenerate,
	"chat":      types.CapChat,
	"vision":    types.CapVision,
	"audio":     types.CapAudio,
	"embedding": types.CapEmbed,
	"embed":     types.CapEmbed,
	"image":     types.CapImageGen,
	"image_gen": types.CapImageGen,
}

var knownCapabilities = map[types.Capability]bool{
	types.CapChat:     true,
	types.CapGenerate: true,
	types.CapEmbed:    true,
	types.CapVision:   true,
	types.CapAudio:    true,
	types.CapImageGen: true,
}

// StepCapability resolves a step's effective capability, honoring the
// legacy model_type field when capability is unset.
func StepCapability(s types.FlowStep) (types.Capability, bool) {
	if s.Capability != "" {
		return s.Capability, knownCapabilities[s.Capability]
	}
	c, ok := legacyModelTypes[strings.ToLower(s.ModelType)]
	return c, ok
}

// Validate checks a flow for schema problems. A flow that validates clean
// cannot fail at runtime on a dangling reference or duplicate output.
func Validate(f types.Flow) types.FlowValidation {
	errs := []string{}

	if len(f.Steps) == 0 {
		errs = append(errs, "flow has no steps")
	}

	stepNames := map[string]bool{}
	for _, s := range f.Steps {
		if s.Name == "" {
			errs = append(errs, "every step needs a name")
			continue
		}
		if stepNames[s.Name] {
			errs = append(errs, fmt.Sprintf("duplicate step name %q", s.Name))
		}
		stepNames[s.Name] = true
	}

	// References resolve against declared inputs and any earlier step's
	// output. Outputs are collected in declaration order.
	resolvable := map[string]bool{}
	for _, in := range f.Inputs {
		if in.Name == "" {
			errs = append(errs, "every input needs a name")
			continue
		}
		resolvable[in.Name] = true
	}

	outputs := map[string]string{} // output name -> owning step
	for _, s := range f.Steps {
		if ref, ok := reference(s.InputRef); ok && !resolvable[ref] {
			errs = append(errs, fmt.Sprintf("step %q references $%s, which is not a declared input or an earlier step's output", s.Name, ref))
		}
		if s.Condition != nil {
			if ref, ok := reference(s.Condition.Variable); ok && !resolvable[ref] {
				errs = append(errs, fmt.Sprintf("step %q condition references $%s, which is not a declared input or an earlier step's output", s.Name, ref))
			}
			if s.Condition.Action == types.ActionSkip && s.Condition.Target != "" && !stepNames[s.Condition.Target] {
				errs = append(errs, fmt.Sprintf("step %q skips to unknown step %q", s.Name, s.Condition.Target))
			}
		}

		if _, ok := StepCapability(s); !ok {
			errs = append(errs, fmt.Sprintf("step %q has no usable capability (capability=%q, model_type=%q)", s.Name, s.Capability, s.ModelType))
		}

		if s.OutputName == "" {
			errs = append(errs, fmt.Sprintf("step %q needs an output name", s.Name))
		} else if owner, dup := outputs[s.OutputName]; dup {
			errs = append(errs, fmt.Sprintf("steps %q and %q both write output %q", owner, s.Name, s.OutputName))
		} else {
			outputs[s.OutputName] = s.Name
			resolvable[s.OutputName] = true
		}
	}

	return types.FlowValidation{Valid: len(errs) == 0, Errors: errs}
}

// reference extracts the name from a $name token. Returns ok=false for
// literals.
func reference(s string) (string, bool) {
	if !strings.HasPrefix(s, "$") || len(s) < 2 {
		return "", false
	}
	return s[1:], true
}

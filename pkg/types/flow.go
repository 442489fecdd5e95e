package types

// ConditionOp compares a resolved flow variable against a value.
type ConditionOp string

const (
	OpEmpty     ConditionOp = "empty"
	OpNotEmpty  ConditionOp = "not_empty"
	OpContains  ConditionOp = "contains"
	OpEquals    ConditionOp = "equals"
	OpNotEquals ConditionOp = "not_equals"
)

// ConditionAction says what happens when a step condition holds.
type ConditionAction string

const (
	ActionStop     ConditionAction = "stop"
	ActionSkip     ConditionAction = "skip"
	ActionContinue ConditionAction = "continue"
)

// FlowInput declares a named user-supplied value a flow requires.
type FlowInput struct {
	// example: question
	Name string `json:"name" example:"question"`
	// text, file, audio or image.
	// example: text
	Type string `json:"type" example:"text"`
	Required bool `json:"required"`
}

// StepCondition gates a step. Variable is a $-reference into inputs or
// earlier step outputs.
type StepCondition struct {
	// example: $question
	Variable string          `json:"variable" example:"$question"`
	Op       ConditionOp     `json:"op"`
	Value    string          `json:"value,omitempty"`
	Action   ConditionAction `json:"action"`
	// Named step to jump to when Action is skip; empty means advance.
	Target string `json:"target,omitempty"`
}

// FlowStep is one capability invocation in a flow.
type FlowStep struct {
	// example: summarize
	Name       string     `json:"name" example:"summarize"`
	Capability Capability `json:"capability,omitempty"`
	// Legacy field mapped onto Capability during validation.
	ModelType string `json:"model_type,omitempty"`
	// Literal text, or a $-reference to an input or earlier output.
	// example: $transcript
	InputRef string `json:"input_ref" example:"$transcript"`
	// Prompt template; $name tokens are interpolated, unresolved tokens
	// pass through untouched.
	Prompt string `json:"prompt,omitempty"`
	// example: summary
	OutputName string         `json:"output_name" example:"summary"`
	Condition  *StepCondition `json:"condition,omitempty"`
	// Optional fully-qualified model override for this step.
	Model string `json:"model,omitempty"`
}

// Flow is a sequential pipeline of capability-invoking steps.
type Flow struct {
	ID     string      `json:"id"`
	Name   string      `json:"name,omitempty"`
	Inputs []FlowInput `json:"inputs"`
	Steps  []FlowStep  `json:"steps"`
}

// FlowValidation is the result of validating a flow before execution.
type FlowValidation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ExecutionResult carries the outcome of one flow execution, including the
// partial step results accumulated before a failure.
type ExecutionResult struct {
	ExecutionID string `json:"execution_id"`
	FlowID      string `json:"flow_id"`
	Success     bool   `json:"success"`
	// Output of the last executed step.
	Output      string            `json:"output"`
	StepResults map[string]string `json:"step_results"`
	// Name of the failing step when Success is false.
	FailedStep    string `json:"failed_step,omitempty"`
	Error         string `json:"error,omitempty"`
	StartedAtUnix int64  `json:"started_at_unix"`
	DurationMs    int64  `json:"duration_ms"`
}

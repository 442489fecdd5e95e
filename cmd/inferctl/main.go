// Command inferctl is a terminal client for the inferd daemon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"inferd/internal/registry"
	"inferd/pkg/types"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	server := os.Getenv("INFERCTL_SERVER")
	if server == "" {
		server = "http://127.0.0.1:8090"
	}

	root := &cobra.Command{
		Use:           "inferctl",
		Short:         "Client for the inferd inference broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&server, "server", server, "inferd base URL (defaults INFERCTL_SERVER)")
	cli := func() *client { return newClient(server) }

	statusCmd := &cobra.Command{Use: "status", Short: "Show provider availability", RunE: func(cmd *cobra.Command, args []string) error {
		var st types.AllProvidersStatus
		if err := cli().getJSON(cmd.Context(), "/providers/status?refresh=1", &st); err != nil {
			return err
		}
		for _, p := range st.Providers {
			state := "available"
			if !p.Available {
				state = "unavailable"
				if p.Error != "" {
					state += " (" + p.Error + ")"
				}
			}
			fmt.Printf("%-8s %s, %d models\n", p.Kind, state, len(p.Models))
		}
		if st.RecommendedProvider != "" {
			fmt.Println("recommended:", st.RecommendedProvider)
		}
		return nil
	}}

	var hwRefresh bool
	hardwareCmd := &cobra.Command{Use: "hardware", Short: "Show the detected hardware profile", RunE: func(cmd *cobra.Command, args []string) error {
		path := "/hardware"
		if hwRefresh {
			path += "?refresh=1"
		}
		var snap types.HardwareSnapshot
		if err := cli().getJSON(cmd.Context(), path, &snap); err != nil {
			return err
		}
		fmt.Printf("tier:  %s\n", snap.Tier)
		fmt.Printf("ram:   %s\n", registry.HumanSize(snap.TotalRAMBytes))
		fmt.Printf("vram:  %s (%s)\n", registry.HumanSize(snap.VRAMBytes), snap.VRAMSource)
		if snap.GPUName != "" {
			fmt.Printf("gpu:   %s\n", snap.GPUName)
		}
		fmt.Printf("cpus:  %d\n", snap.CPUCount)
		return nil
	}}
	hardwareCmd.Flags().BoolVar(&hwRefresh, "refresh", false, "Force a fresh hardware probe")

	var onlyLoaded bool
	modelsCmd := &cobra.Command{Use: "models", Short: "List known models", RunE: func(cmd *cobra.Command, args []string) error {
		if onlyLoaded {
			var resp types.LoadedModelsResponse
			if err := cli().getJSON(cmd.Context(), "/models/loaded", &resp); err != nil {
				return err
			}
			for _, m := range resp.Models {
				fmt.Printf("%s:%s  %s resident\n", m.Backend, m.ModelID, registry.HumanSize(m.MemoryBytes))
			}
			return nil
		}
		var resp types.ModelsResponse
		if err := cli().getJSON(cmd.Context(), "/models", &resp); err != nil {
			return err
		}
		for _, m := range resp.Models {
			flags := ""
			if m.Installed {
				flags += " installed"
			}
			if m.Loaded {
				flags += " loaded"
			}
			caps := make([]string, 0, len(m.Capabilities))
			for _, c := range m.Capabilities {
				caps = append(caps, string(c))
			}
			fmt.Printf("%-36s %-10s [%s]%s\n", m.ID, m.SizeLabel, strings.Join(caps, ","), flags)
		}
		return nil
	}}
	modelsCmd.Flags().BoolVar(&onlyLoaded, "loaded", false, "Show only resident models")

	pullCmd := &cobra.Command{Use: "pull <model-id>", Short: "Download a model, streaming progress", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return cli().stream(cmd.Context(), "/models/"+args[0]+"/pull", nil, func(line []byte) error {
			var p struct {
				types.PullProgress
				Done    *bool  `json:"done"`
				Success *bool  `json:"success"`
				Err     string `json:"error"`
			}
			if err := json.Unmarshal(line, &p); err != nil {
				return err
			}
			if p.Done != nil {
				if p.Success != nil && !*p.Success {
					return fmt.Errorf("pull failed: %s", p.Err)
				}
				fmt.Println("\ndone")
				return nil
			}
			fmt.Printf("\r%-12s %5.1f%%", p.Phase, p.Percent)
			return nil
		})
	}}

	loadCmd := &cobra.Command{Use: "load <model-id>", Short: "Load a model into memory", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return cli().do(cmd.Context(), "POST", "/models/"+args[0]+"/load")
	}}
	unloadCmd := &cobra.Command{Use: "unload <model-id>", Short: "Unload a resident model", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return cli().do(cmd.Context(), "POST", "/models/"+args[0]+"/unload")
	}}
	deleteCmd := &cobra.Command{Use: "delete <model-id>", Short: "Delete a model from disk", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return cli().do(cmd.Context(), "DELETE", "/models/"+args[0])
	}}

	var chatModel, chatBackend string
	chatCmd := &cobra.Command{Use: "chat <message...>", Short: "Send a single chat message", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		req := types.ChatRequest{
			Model:    chatModel,
			Backend:  types.BackendKind(chatBackend),
			Messages: []types.ChatMessage{{Role: "user", Content: strings.Join(args, " ")}},
		}
		var resp types.ChatResponse
		if err := cli().postJSON(cmd.Context(), "/chat", req, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Content)
		return nil
	}}
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Fully-qualified model id, e.g. ollama:llama3.2:3b")
	chatCmd.Flags().StringVarP(&chatBackend, "backend", "b", "", "Preferred backend: builtin|ollama|cloud")

	var genModel, genBackend string
	generateCmd := &cobra.Command{Use: "generate <prompt...>", Short: "Run a raw text completion", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		req := types.GenerateRequest{
			Model:   genModel,
			Backend: types.BackendKind(genBackend),
			Prompt:  strings.Join(args, " "),
		}
		var resp types.GenerateResponse
		if err := cli().postJSON(cmd.Context(), "/generate", req, &resp); err != nil {
			return err
		}
		fmt.Println(resp.Content)
		return nil
	}}
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "Fully-qualified model id")
	generateCmd.Flags().StringVarP(&genBackend, "backend", "b", "", "Preferred backend")

	statsCmd := &cobra.Command{Use: "stats", Short: "Show system load", RunE: func(cmd *cobra.Command, args []string) error {
		var st types.SystemStats
		if err := cli().getJSON(cmd.Context(), "/system/stats", &st); err != nil {
			return err
		}
		fmt.Printf("cpu: %.1f%%  ram: %.1f%%", st.CPUPercent, st.RAMPercent)
		if st.GPUPercent != nil {
			fmt.Printf("  gpu: %.1f%%", *st.GPUPercent)
		}
		fmt.Println()
		return nil
	}}

	flowCmd := &cobra.Command{Use: "flow", Short: "Validate and run flows", RunE: func(cmd *cobra.Command, args []string) error {
		return fmt.Errorf("flow requires a subcommand: validate|run")
	}}
	flowValidate := &cobra.Command{Use: "validate <file>", Short: "Validate a flow file (YAML or JSON)", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadFlowFile(args[0])
		if err != nil {
			return err
		}
		var v types.FlowValidation
		if err := cli().postJSON(cmd.Context(), "/flows/validate", f, &v); err != nil {
			return err
		}
		if v.Valid {
			fmt.Println("valid")
			return nil
		}
		for _, e := range v.Errors {
			fmt.Println("-", e)
		}
		return fmt.Errorf("flow is invalid")
	}}
	var flowInputs []string
	flowRun := &cobra.Command{Use: "run <file>", Short: "Execute a flow, streaming step events", Example: "  inferctl flow run summarize.yaml --input transcript=@notes.txt", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		f, err := loadFlowFile(args[0])
		if err != nil {
			return err
		}
		inputs, err := parseInputs(flowInputs)
		if err != nil {
			return err
		}
		req := types.ExecuteFlowRequest{Flow: f, Inputs: inputs}
		var final *types.ExecutionResult
		err = cli().stream(cmd.Context(), "/flows/execute", req, func(line []byte) error {
			var ev struct {
				Event  string                 `json:"event"`
				Step   string                 `json:"step"`
				Output string                 `json:"output"`
				Error  string                 `json:"error"`
				Result *types.ExecutionResult `json:"result"`
			}
			if err := json.Unmarshal(line, &ev); err != nil {
				return err
			}
			switch ev.Event {
			case "step_start":
				fmt.Fprintf(os.Stderr, "> %s\n", ev.Step)
			case "step_error":
				fmt.Fprintf(os.Stderr, "! %s: %s\n", ev.Step, ev.Error)
			case "result":
				final = ev.Result
			}
			return nil
		})
		if err != nil {
			return err
		}
		if final == nil {
			return fmt.Errorf("stream ended without a result")
		}
		if !final.Success {
			return fmt.Errorf("flow failed at %s: %s", final.FailedStep, final.Error)
		}
		fmt.Println(final.Output)
		return nil
	}}
	flowRun.Flags().StringArrayVar(&flowInputs, "input", nil, "Flow input as name=value; @file reads the value from a file")
	flowCmd.AddCommand(flowValidate, flowRun)

	var planFiles []string
	planCmd := &cobra.Command{Use: "plan <request...>", Short: "Preview an execution plan for a request", Args: cobra.MinimumNArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		req := types.PlanRequest{Request: strings.Join(args, " "), Files: planFiles}
		var p types.Plan
		if err := cli().postJSON(cmd.Context(), "/plans", req, &p); err != nil {
			return err
		}
		for _, phase := range p.Phases {
			fmt.Println(phase.Name + ":")
			for _, s := range phase.Steps {
				fmt.Printf("  - %s (%s)\n", s.Name, s.Capability)
			}
		}
		fmt.Printf("estimated: ~%ds\n", p.EstimatedSeconds)
		return nil
	}}
	planCmd.Flags().StringArrayVar(&planFiles, "file", nil, "Attached file name (repeatable)")

	root.AddCommand(statusCmd, hardwareCmd, modelsCmd, pullCmd, loadCmd, unloadCmd, deleteCmd,
		chatCmd, generateCmd, statsCmd, flowCmd, planCmd)
	return root
}

// loadFlowFile reads a flow definition from YAML or JSON. YAML documents are
// round-tripped through JSON so the wire types' json tags apply.
func loadFlowFile(path string) (types.Flow, error) {
	var f types.Flow
	b, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if strings.HasSuffix(path, ".json") {
		return f, json.Unmarshal(b, &f)
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return f, err
	}
	jb, err := json.Marshal(doc)
	if err != nil {
		return f, err
	}
	return f, json.Unmarshal(jb, &f)
}

func parseInputs(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("bad --input %q, want name=value", p)
		}
		if strings.HasPrefix(value, "@") {
			b, err := os.ReadFile(value[1:])
			if err != nil {
				return nil, err
			}
			value = string(b)
		}
		inputs[name] = value
	}
	return inputs, nil
}

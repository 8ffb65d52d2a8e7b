package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/harness"
)

// CompiledNode describes one node of a built process.
type CompiledNode struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Incoming    []string `json:"incoming"`
	Outgoing    []string `json:"outgoing"`
	Transitions []string `json:"transitions"`
	Message     string   `json:"message,omitempty"`
}

// CompiledFlow describes one flow of a built process.
type CompiledFlow struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Guarded bool   `json:"guarded,omitempty"`
	Default bool   `json:"default,omitempty"`
}

// CompiledProcess is a process as the engine will execute it.
type CompiledProcess struct {
	ID    string         `json:"id"`
	Nodes []CompiledNode `json:"nodes"`
	Flows []CompiledFlow `json:"flows"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile <scenario>",
		Short: "Build the processes of a scenario and show their transitions",
		Long: `Build every process of a scenario file and print each node with its
flows and the transitions its kind installs, in evaluation order.

Examples:
  nayra compile ./scenarios/inclusive_all_paths.yaml
  nayra compile ./scenarios/inclusive_all_paths.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runCompile(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.Formatter(cmd)

	s, err := harness.LoadScenario(path)
	if err != nil {
		return outputCommandError(formatter, classifyLoadError(path, err))
	}

	compiled := make([]CompiledProcess, 0, len(s.Processes))
	for _, def := range s.Processes {
		p, err := def.Build()
		if err != nil {
			return outputCommandError(formatter, classifyLoadError(path, err))
		}
		compiled = append(compiled, compileProcess(p))
	}

	if formatter.JSON() {
		return formatter.Success(compiled)
	}
	for i, p := range compiled {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		printProcess(formatter, p)
	}
	return nil
}

func compileProcess(p *bpmn.Process) CompiledProcess {
	cp := CompiledProcess{ID: p.ID, Nodes: []CompiledNode{}, Flows: []CompiledFlow{}}
	for _, n := range p.Nodes() {
		cn := CompiledNode{
			ID:          n.ID,
			Kind:        string(n.Kind),
			Incoming:    flowIDs(n.Incoming),
			Outgoing:    flowIDs(n.Outgoing),
			Transitions: n.Transitions(),
		}
		if n.Message != nil {
			cn.Message = n.Message.ID
		}
		cp.Nodes = append(cp.Nodes, cn)
	}
	for _, f := range p.Flows() {
		cp.Flows = append(cp.Flows, CompiledFlow{
			ID:      f.ID,
			From:    f.Origin,
			To:      f.Target,
			Guarded: f.Condition != nil,
			Default: f.Default,
		})
	}
	return cp
}

func flowIDs(flows []*bpmn.Flow) []string {
	ids := make([]string, len(flows))
	for i, f := range flows {
		ids[i] = f.ID
	}
	return ids
}

func printProcess(f *OutputFormatter, p CompiledProcess) {
	w := f.Writer
	fmt.Fprintln(w, headerStyle.Render("Process "+p.ID))
	for _, n := range p.Nodes {
		line := fmt.Sprintf("  %s %s", n.ID, dimStyle.Render("("+n.Kind+")"))
		if n.Message != "" {
			line += " message=" + n.Message
		}
		fmt.Fprintln(w, line)
		fmt.Fprintf(w, "    in: %s  out: %s\n", listOrDash(n.Incoming), listOrDash(n.Outgoing))
		fmt.Fprintf(w, "    transitions: %s\n", strings.Join(n.Transitions, " -> "))
	}
	for _, fl := range p.Flows {
		mark := ""
		switch {
		case fl.Default:
			mark = " [default]"
		case fl.Guarded:
			mark = " [guarded]"
		}
		fmt.Fprintf(w, "  %s: %s -> %s%s\n", fl.ID, fl.From, fl.To, mark)
	}
}

func listOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}

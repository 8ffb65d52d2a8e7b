package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/engine"
	"github.com/ichavezg/nayra/internal/harness"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
}

// ReplayInstance pairs a replayed instance with its recorded counterpart.
type ReplayInstance struct {
	Alias    string `json:"alias"`
	Recorded string `json:"recorded,omitempty"` // recorded instance ID, empty when unmatched
	Events   int    `json:"events"`
	Status   string `json:"status"`
	Match    bool   `json:"match"`
}

// ReplayResult holds the replay comparison.
type ReplayResult struct {
	Scenario      string           `json:"scenario"`
	Instances     []ReplayInstance `json:"instances"`
	Deterministic bool             `json:"deterministic"`
	Errors        []string         `json:"errors,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario>",
		Short: "Re-run a scenario and compare it with a recorded log",
		Long: `Re-run a scenario in memory and verify that every instance produces
the same events (type, node and flow) and final status as recorded by
"nayra run".

Instances are paired by their event sequence, so logs recorded with
--workers compare equal as long as each instance behaved the same.

Exit codes:
  0 - Every instance matches its recording
  1 - Differences detected
  2 - Command error (database not found, etc.)

Examples:
  nayra replay ./scenarios/message_correlation.yaml --db ./nayra.db
  nayra replay ./scenarios/message_correlation.yaml --db ./nayra.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

// recorded is the stored log of one instance.
type recorded struct {
	id     string
	status string
	seq    []string
	used   bool
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.Formatter(cmd)

	s, err := harness.LoadScenario(path)
	if err != nil {
		return outputCommandError(formatter, classifyLoadError(path, err))
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	defer st.Close()
	events, err := st.ReadEvents(ctx)
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: opts.Database})
	}
	records, err := st.ListInstances(ctx)
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: opts.Database})
	}

	replayed, err := harness.RunContext(ctx, s, harness.WithLogger(opts.Logger(formatter.GetErrWriter())))
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeGeneric, Message: err.Error(), File: path})
	}

	result := compareReplay(s.Name, replayed, events, records)
	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Deterministic {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_REPLAY_MISMATCH", Message: "replay differs from the recorded log"}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		printReplayResult(formatter, result)
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, "replay differs from the recorded log")
	}
	return nil
}

// compareReplay pairs every replayed instance with an unused recorded
// instance that has the same event sequence and final status.
func compareReplay(name string, replayed *harness.Result, events []bpmn.Event, records []engine.InstanceRecord) ReplayResult {
	stored := map[string]*recorded{}
	var order []*recorded
	get := func(id string) *recorded {
		r, ok := stored[id]
		if !ok {
			r = &recorded{id: id}
			stored[id] = r
			order = append(order, r)
		}
		return r
	}
	for _, rec := range records {
		get(rec.ID).status = string(rec.Status)
	}
	for _, ev := range events {
		r := get(ev.Instance)
		r.seq = append(r.seq, eventKey(string(ev.Type), ev.Node, ev.Flow))
	}

	byAlias := map[string][]string{}
	for _, ev := range replayed.Trace {
		byAlias[ev.Instance] = append(byAlias[ev.Instance], eventKey(ev.Type, ev.Node, ev.Flow))
	}

	result := ReplayResult{Scenario: name, Instances: []ReplayInstance{}, Deterministic: true}
	for _, inst := range replayed.Instances {
		seq := byAlias[inst.Alias]
		ri := ReplayInstance{Alias: inst.Alias, Events: len(seq), Status: inst.Status}
		for _, r := range order {
			if !r.used && r.status == inst.Status && slices.Equal(r.seq, seq) {
				r.used = true
				ri.Recorded = r.id
				ri.Match = true
				break
			}
		}
		if !ri.Match {
			result.Deterministic = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: no recorded instance with the same %d events ending %s",
				inst.Alias, len(seq), inst.Status))
		}
		result.Instances = append(result.Instances, ri)
	}
	for _, r := range order {
		if !r.used {
			result.Deterministic = false
			result.Errors = append(result.Errors, fmt.Sprintf("recorded instance %s (%d events) was not replayed", r.id, len(r.seq)))
		}
	}
	return result
}

func eventKey(typ, node, flow string) string {
	return strings.Join([]string{typ, node, flow}, "|")
}

func printReplayResult(f *OutputFormatter, r ReplayResult) {
	w := f.Writer
	fmt.Fprintln(w, headerStyle.Render("Replay: "+r.Scenario))
	for _, inst := range r.Instances {
		label := fmt.Sprintf("%s (%d events, %s)", inst.Alias, inst.Events, inst.Status)
		if inst.Match {
			fmt.Fprintln(w, passMark(label)+dimStyle.Render(" = "+inst.Recorded))
		} else {
			fmt.Fprintln(w, failMark(label))
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
	fmt.Fprintln(w)
	if r.Deterministic {
		fmt.Fprintln(w, passMark("Replay matches the recorded log"))
	} else {
		fmt.Fprintln(w, failMark("Replay differs from the recorded log"))
	}
}

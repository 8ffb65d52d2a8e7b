package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/ichavezg/nayra/internal/bpmn"
	"github.com/ichavezg/nayra/internal/engine"
	"github.com/ichavezg/nayra/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Instance string // optional, filter to one instance
	Node     string // optional, filter to one node
}

// TraceInstance is an instance record in trace output.
type TraceInstance struct {
	ID      string `json:"id"`
	Process string `json:"process"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Instances []TraceInstance `json:"instances"`
	Events    []bpmn.Event    `json:"events"`
	Stats     TraceStats      `json:"stats"`
}

// TraceStats summarizes the traced events.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByType      map[string]int `json:"by_type"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the lifecycle event log of a database",
		Long: `Show the lifecycle events recorded by "nayra run".

Events are listed in seq order, optionally restricted to one instance
or node, followed by the recorded instance statuses.

Examples:
  nayra trace --db ./nayra.db
  nayra trace --db ./nayra.db --instance 0191d3c2-...
  nayra trace --db ./nayra.db --node review --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "filter to one instance ID")
	cmd.Flags().StringVar(&opts.Node, "node", "", "filter to one node ID")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.Formatter(cmd)

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	defer st.Close()

	var events []bpmn.Event
	if opts.Instance != "" {
		events, err = st.ReadInstanceEvents(ctx, opts.Instance)
	} else {
		events, err = st.ReadEvents(ctx)
	}
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: opts.Database})
	}
	records, err := st.ListInstances(ctx)
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: opts.Database})
	}

	result := buildTrace(events, records, opts.Instance, bpmn.NormalizeKey(opts.Node))
	if formatter.JSON() {
		return formatter.Success(result)
	}
	printTrace(formatter, result)
	return nil
}

// buildTrace filters events by node and keeps the records of instanceID,
// or all records when it is empty.
func buildTrace(events []bpmn.Event, records []engine.InstanceRecord, instanceID, node string) TraceResult {
	result := TraceResult{
		Instances: []TraceInstance{},
		Events:    []bpmn.Event{},
		Stats:     TraceStats{ByType: map[string]int{}},
	}
	for _, ev := range events {
		if node != "" && ev.Node != node {
			continue
		}
		result.Events = append(result.Events, ev)
		result.Stats.ByType[string(ev.Type)]++
	}
	result.Stats.TotalEvents = len(result.Events)
	for _, rec := range records {
		if instanceID != "" && rec.ID != instanceID {
			continue
		}
		result.Instances = append(result.Instances, TraceInstance{
			ID:      rec.ID,
			Process: rec.Process,
			Status:  string(rec.Status),
			Error:   rec.Error,
		})
	}
	return result
}

func printTrace(f *OutputFormatter, result TraceResult) {
	w := f.Writer
	if len(result.Events) == 0 {
		fmt.Fprintln(w, "No events found.")
	} else {
		fmt.Fprintln(w, headerStyle.Render("Events"))
		for _, ev := range result.Events {
			flow := ""
			if ev.Flow != "" {
				flow = dimStyle.Render(" via " + ev.Flow)
			}
			fmt.Fprintf(w, "  %s %s %s %s%s\n",
				dimStyle.Render(fmt.Sprintf("[%d]", ev.Seq)),
				shortID(ev.Instance),
				eventTypeStyle(ev.Type).Render(string(ev.Type)),
				ev.Node,
				flow)
			if f.Verbose && ev.Token != "" {
				fmt.Fprintf(w, "      token %s\n", ev.Token)
			}
		}
	}

	if len(result.Instances) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Instances"))
		for _, inst := range result.Instances {
			line := fmt.Sprintf("%s %s %s", inst.ID, inst.Process, statusStyle(inst.Status).Render(inst.Status))
			if inst.Error != "" {
				line += " " + failStyle.Render(inst.Error)
			}
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d events\n", result.Stats.TotalEvents)
}

// eventTypeStyle colors events by the kind of element that emitted them.
func eventTypeStyle(t bpmn.EventType) lipgloss.Style {
	s := string(t)
	switch {
	case t == bpmn.EventActivityCancelled:
		return cancelStyle
	case strings.HasPrefix(s, "ACTIVITY_"):
		return activityStyle
	case strings.HasPrefix(s, "GATEWAY_"):
		return gatewayStyle
	default:
		return eventStyle
	}
}

func statusStyle(status string) lipgloss.Style {
	switch bpmn.InstanceStatus(status) {
	case bpmn.InstanceCompleted:
		return passStyle
	case bpmn.InstanceTerminated:
		return failStyle
	default:
		return dimStyle
	}
}

// shortID abbreviates UUIDs to their last block.
func shortID(id string) string {
	if i := strings.LastIndexByte(id, '-'); i >= 0 && len(id) > 12 {
		return id[i+1:]
	}
	return id
}

// openExistingStore opens path, refusing to create a new database.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("database not found: %s", path), File: path}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: path}
	}
	return st, nil
}

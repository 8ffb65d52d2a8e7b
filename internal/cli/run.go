package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ichavezg/nayra/internal/collab"
	"github.com/ichavezg/nayra/internal/config"
	"github.com/ichavezg/nayra/internal/engine"
	"github.com/ichavezg/nayra/internal/harness"
	"github.com/ichavezg/nayra/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database   string
	Workers    int
	Concurrent bool
}

// RunResult is the outcome of one recorded run.
type RunResult struct {
	Scenario  string                   `json:"scenario"`
	Database  string                   `json:"database"`
	Pass      bool                     `json:"pass"`
	Events    int                      `json:"events"`
	Instances []harness.InstanceResult `json:"instances"`
	Metrics   engine.MetricsSnapshot   `json:"metrics"`
	Errors    []string                 `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario and record its event log",
		Long: `Run one scenario and record instances and lifecycle events in a
SQLite database for "nayra trace" and "nayra replay".

The database defaults to store.path from the config file and must not
already hold events. Delay steps use the configured delay backend; with
backend "redis" they are parked in a Redis sorted set until due.

Examples:
  nayra run ./scenarios/message_correlation.yaml --db ./nayra.db
  nayra run ./scenarios/inclusive_all_paths.yaml --db ./nayra.db --workers 4
  nayra run ./scenarios/inclusive_all_paths.yaml --db ./nayra.db --concurrent
  nayra run ./scenarios/delayed_message.yaml --db ./nayra.db --config nayra.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default store.path)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "drive the scenario with a worker pool of this size")
	cmd.Flags().BoolVar(&opts.Concurrent, "concurrent", false, "drive the scenario with engine.workers from the config")

	return cmd
}

func runRun(opts *RunOptions, path string, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	formatter := opts.Formatter(cmd)
	logger := opts.Logger(formatter.GetErrWriter())

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Config.Store.Path
	}
	if dbPath == "" {
		return outputCommandError(formatter, &LoadError{
			Code:    ErrCodeDatabase,
			Message: "no database: pass --db or set store.path",
		})
	}

	s, err := harness.LoadScenario(path)
	if err != nil {
		return outputCommandError(formatter, classifyLoadError(path, err))
	}
	if err := ensureEmptyStore(ctx, dbPath); err != nil {
		return outputCommandError(formatter, err)
	}

	runOpts := []harness.Option{
		harness.WithStorePath(dbPath),
		harness.WithLogger(logger),
		harness.WithMaxSteps(opts.Config.Engine.MaxSteps),
	}
	workers := opts.Workers
	if workers == 0 && opts.Concurrent {
		workers = opts.Config.Engine.Workers
	}
	if workers > 0 {
		runOpts = append(runOpts, harness.WithWorkers(workers))
	}
	sched, closeSched, err := newScheduler(ctx, opts.Config.Delay, logger)
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeGeneric, Message: err.Error()})
	}
	defer closeSched()
	if sched != nil {
		runOpts = append(runOpts, harness.WithScheduler(sched))
	}

	formatter.VerboseLog("running %s into %s", s.Name, dbPath)
	result, err := harness.RunContext(ctx, s, runOpts...)
	if err != nil {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeGeneric, Message: err.Error(), File: path})
	}

	out := RunResult{
		Scenario:  s.Name,
		Database:  dbPath,
		Pass:      result.Pass,
		Events:    len(result.Trace),
		Instances: result.Instances,
		Metrics:   result.Metrics,
		Errors:    result.Errors,
	}
	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: out}
		if !out.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_RUN_FAILED", Message: "scenario expectations failed"}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		printRunResult(formatter, out)
	}
	if !out.Pass {
		return NewExitError(ExitFailure, "scenario expectations failed")
	}
	return nil
}

func printRunResult(f *OutputFormatter, r RunResult) {
	w := f.Writer
	label := fmt.Sprintf("%s: %d events recorded in %s", r.Scenario, r.Events, r.Database)
	if r.Pass {
		fmt.Fprintln(w, passMark(label))
	} else {
		fmt.Fprintln(w, failMark(label))
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	for _, inst := range r.Instances {
		fmt.Fprintf(w, "  %s %s %s\n", inst.Alias, dimStyle.Render(inst.ID), statusStyle(inst.Status).Render(inst.Status))
	}
	if f.Verbose {
		m := r.Metrics
		fmt.Fprintf(w, "  %d transitions, %d message deliveries, %d instances completed\n",
			m.Transitions, m.MessageDeliveries, m.InstancesCompleted)
	}
}

// ensureEmptyStore refuses databases that already hold events. Runs use
// deterministic IDs and sequence numbers that would collide with them.
func ensureEmptyStore(ctx context.Context, path string) error {
	st, err := store.Open(path)
	if err != nil {
		return &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: path}
	}
	defer st.Close()
	seq, err := st.MaxSeq(ctx)
	if err != nil {
		return &LoadError{Code: ErrCodeDatabase, Message: err.Error(), File: path}
	}
	if seq > 0 {
		return &LoadError{
			Code:    ErrCodeDatabase,
			Message: fmt.Sprintf("database already holds %d events", seq),
			File:    path,
		}
	}
	return nil
}

// newScheduler builds the configured delay scheduler. It returns nil for
// the timer backend, which is the harness default. The returned function
// stops the scheduler and closes its connection.
func newScheduler(ctx context.Context, cfg config.DelayConfig, logger *slog.Logger) (collab.Scheduler, func(), error) {
	if cfg.Backend != config.DelayRedis {
		return nil, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	sched := collab.NewRedisScheduler(client, cfg.Redis.Prefix,
		collab.WithPollInterval(cfg.Redis.PollInterval),
		collab.WithRedisLogger(logger),
	)
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := sched.Run(runCtx); err != nil && runCtx.Err() == nil {
			logger.Error("redis scheduler stopped", slog.Any("error", err))
		}
	}()
	return sched, func() {
		cancel()
		<-done
		_ = client.Close()
	}, nil
}

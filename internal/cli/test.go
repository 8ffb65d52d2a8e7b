package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ichavezg/nayra/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update  bool   // regenerate golden files
	Filter  string // scenario filter (glob pattern)
	Workers int    // drive scenarios with the worker pool
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated", "missing" or "skipped"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run scenario files and compare their traces",
		Long: `Run scenario files against a fresh engine each.

Every expect step and assertion must hold. When golden/<name>.golden
exists next to the scenarios the event trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  nayra test ./scenarios
  nayra test ./scenarios --filter "inclusive_*"
  nayra test ./scenarios --update
  nayra test ./scenarios --workers 4 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "run with a worker pool of this size (golden files are not compared)")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.Formatter(cmd)

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return outputCommandError(formatter, &LoadError{
			Code:    ErrCodeNotFound,
			Message: fmt.Sprintf("scenarios directory not found: %s", dir),
		})
	}
	files, err := FindScenarioFiles(dir, opts.Filter)
	if err != nil {
		return outputCommandError(formatter, err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	if len(files) == 0 {
		if formatter.JSON() {
			return formatter.Encode(CLIResponse{Status: "ok", Data: result})
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	logger := opts.Logger(formatter.GetErrWriter())
	for _, sf := range LoadScenarioFiles(files) {
		sr := runScenario(opts, sf, logger)
		if !formatter.JSON() {
			printScenarioResult(formatter, sr)
		}
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: fmt.Sprintf("%d scenario(s) failed", result.Failed)}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Test Summary: %d passed, %d failed, %d total",
			result.Passed, result.Failed, result.Total)))
		if result.Failed == 0 {
			fmt.Fprintln(w, passMark("All scenarios passed"))
		}
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

func runScenario(opts *TestOptions, sf ScenarioFile, logger *slog.Logger) ScenarioResult {
	sr := ScenarioResult{Name: scenarioName(sf), File: sf.Path}
	if sf.Err != nil {
		sr.Errors = []string{fmt.Sprintf("load error [%s]: %s", sf.Err.Code, sf.Err.Message)}
		return sr
	}

	var runOpts []harness.Option
	runOpts = append(runOpts, harness.WithLogger(logger))
	if opts.Workers > 0 {
		runOpts = append(runOpts, harness.WithWorkers(opts.Workers))
	}
	result, err := harness.Run(sf.Scenario, runOpts...)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return sr
	}
	sr.Pass = result.Pass
	sr.Errors = append(sr.Errors, result.Errors...)

	if opts.Workers > 0 {
		sr.Golden = "skipped"
		return sr
	}

	goldenPath := goldenFilePath(sf.Path)
	trace := harness.FormatTrace(sf.Scenario.Name, result)
	if opts.Update {
		if err := writeGoldenFile(goldenPath, trace); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return sr
		}
		sr.Golden = "updated"
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sr.Golden = "missing"
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, fmt.Sprintf("failed to read golden file: %v", err))
	case !bytes.Equal(want, trace):
		sr.Pass = false
		sr.Golden = "mismatch"
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
	default:
		sr.Golden = "match"
	}
	return sr
}

func printScenarioResult(f *OutputFormatter, sr ScenarioResult) {
	w := f.Writer
	label := sr.Name
	if sr.Golden == "updated" {
		label += dimStyle.Render(" (golden updated)")
	}
	if sr.Pass {
		fmt.Fprintln(w, passMark(label))
		return
	}
	fmt.Fprintln(w, failMark(label))
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func scenarioName(sf ScenarioFile) string {
	if sf.Scenario != nil {
		return sf.Scenario.Name
	}
	base := filepath.Base(sf.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// goldenFilePath returns golden/<name>.golden next to the scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

func writeGoldenFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

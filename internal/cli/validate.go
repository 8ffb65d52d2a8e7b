package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationError is one invalid scenario file.
type ValidationError struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate scenario files without running them",
		Long: `Validate scenario files without running them.

Each file is checked against the scenario schema, decoded strictly and its
processes are built, so graph errors such as flows to unknown nodes or two
default flows on one gateway are reported. Directories are searched for
.yaml and .yml files.

Exit codes:
  0 - All files are valid
  1 - One or more files are invalid
  2 - Command error (path not found, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.Formatter(cmd)

	var files []string
	for _, p := range paths {
		found, err := FindScenarioFiles(p, "")
		if err != nil {
			return outputCommandError(formatter, err)
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return outputCommandError(formatter, &LoadError{Code: ErrCodeNoFiles, Message: "no scenario files found"})
	}

	result := ValidationResult{Valid: true, Files: len(files)}
	for _, sf := range LoadScenarioFiles(files) {
		formatter.VerboseLog("validated %s", sf.Path)
		if sf.Err == nil {
			continue
		}
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			File:    sf.Path,
			Code:    sf.Err.Code,
			Message: sf.Err.Message,
		})
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeSchema, Message: fmt.Sprintf("%d invalid file(s)", len(result.Errors))}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		for _, e := range result.Errors {
			fmt.Fprintln(w, failMark(e.File))
			fmt.Fprintf(w, "  [%s] %s\n", e.Code, e.Message)
		}
		if result.Valid {
			fmt.Fprintln(w, passMark(fmt.Sprintf("%d file(s) valid", result.Files)))
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d invalid file(s)", len(result.Errors)))
	}
	return nil
}

// outputCommandError reports a LoadError and turns it into a command
// error exit.
func outputCommandError(f *OutputFormatter, err error) error {
	code, msg := ErrCodeGeneric, err.Error()
	var le *LoadError
	if errors.As(err, &le) {
		code, msg = le.Code, le.Message
	}
	if outErr := f.Error(code, msg, nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitCommandError, "command failed", err)
}

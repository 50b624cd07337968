package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jensinjames/opsync/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Trace bool // print the full trace
}

// RunReport is the JSON payload for a single scenario run.
type RunReport struct {
	Name    string               `json:"name"`
	Pass    bool                 `json:"pass"`
	Pending int                  `json:"pending"`
	Errors  []string             `json:"errors,omitempty"`
	Trace   []harness.TraceEvent `json:"trace,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a single scenario",
		Long: `Run one scenario file against the sync pipeline and report the outcome.

Exit codes:
  0 - Scenario passed
  1 - Assertions failed
  2 - Command error (file not found, malformed scenario, etc.)

Examples:
  opsync run scenarios/insert-and-sync.yaml
  opsync run scenarios/insert-and-sync.yaml --trace
  opsync run scenarios/insert-and-sync.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the full trace")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario file not found: %s", path))
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	result, err := harness.Run(scenario)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}

	report := RunReport{
		Name:    scenario.Name,
		Pass:    result.Pass,
		Pending: result.PendingCount,
		Errors:  result.Errors,
	}
	if opts.Trace {
		report.Trace = result.Trace
	}

	if opts.Format == "json" {
		if err := outputRunJSON(cmd, report); err != nil {
			return err
		}
	} else {
		outputRunText(cmd, opts, report)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

func outputRunJSON(cmd *cobra.Command, report RunReport) error {
	response := CLIResponse{Status: "ok", Data: report}
	if !report.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeRunFailed,
			Message: fmt.Sprintf("scenario %s failed", report.Name),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

func outputRunText(cmd *cobra.Command, opts *RunOptions, report RunReport) {
	w := cmd.OutOrStdout()

	if report.Pass {
		fmt.Fprintf(w, "✓ %s\n", report.Name)
	} else {
		fmt.Fprintf(w, "✗ %s\n", report.Name)
		for _, e := range report.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if opts.Trace {
		fmt.Fprintln(w, "\nTrace:")
		for i, event := range report.Trace {
			fmt.Fprintf(w, "  [%d] %s (seq %d)", i+1, event.Label(), event.Seq)
			if event.Error != "" {
				fmt.Fprintf(w, " error=%q", event.Error)
			}
			fmt.Fprintln(w)
		}
	}
}

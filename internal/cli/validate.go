package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jensinjames/opsync/internal/record"
	"github.com/Jensinjames/opsync/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Table   string // table to validate the payload against
	Payload string // path to a JSON payload file
}

// ValidateReport is the JSON payload for a validate run.
type ValidateReport struct {
	Tables []string `json:"tables"`
	Table  string   `json:"table,omitempty"`
	Valid  *bool    `json:"valid,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <schemas-dir>",
		Short: "Load CUE table schemas and optionally validate a payload",
		Long: `Load the CUE table schemas from a directory and list the declared tables.
With --table and --payload, additionally validate a JSON payload against one
table's schema.

Exit codes:
  0 - Schemas loaded (and payload valid, if given)
  1 - Payload failed validation
  2 - Command error (bad paths, schemas do not compile, etc.)

Examples:
  opsync validate ./schemas
  opsync validate ./schemas --table entries --payload entry.json
  opsync validate ./schemas --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table to validate the payload against")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "path to a JSON payload file")

	return cmd
}

func runValidate(opts *ValidateOptions, schemasDir string, cmd *cobra.Command) error {
	if (opts.Table == "") != (opts.Payload == "") {
		return NewExitError(ExitCommandError, "--table and --payload must be used together")
	}

	registry, err := schema.LoadDir(schemasDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load schemas", err)
	}

	report := ValidateReport{Tables: registry.Tables()}

	var validateErr error
	if opts.Table != "" {
		payload, err := loadPayload(opts.Payload)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load payload", err)
		}

		report.Table = opts.Table
		valid := true
		if err := registry.Validate(opts.Table, payload); err != nil {
			valid = false
			report.Error = err.Error()
			validateErr = NewExitError(ExitFailure, err.Error())
		}
		report.Valid = &valid
	}

	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: report}
		if validateErr != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: ErrCodeInvalid, Message: report.Error}
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return validateErr
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Tables: %v\n", report.Tables)
	if report.Table != "" {
		if validateErr == nil {
			fmt.Fprintf(w, "✓ payload valid for table %q\n", report.Table)
		} else {
			fmt.Fprintf(w, "✗ %s\n", report.Error)
		}
	}
	return validateErr
}

// loadPayload reads a JSON payload file through the canonical decoder, so the
// same value restrictions apply as everywhere else (no floats, no nulls).
func loadPayload(path string) (record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return record.UnmarshalCanonical(data)
}

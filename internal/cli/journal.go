package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Jensinjames/opsync/internal/journal"
	"github.com/Jensinjames/opsync/internal/record"
)

// JournalOptions holds flags for the journal subcommands.
type JournalOptions struct {
	*RootOptions
	DB      string // journal database path
	Pending bool   // list only pending entries
}

// JournalEntryView is the JSON shape of one journal entry.
type JournalEntryView struct {
	ID       string        `json:"id"`
	Table    string        `json:"table"`
	Op       string        `json:"op"`
	Resource string        `json:"resource"`
	Seq      int64         `json:"seq"`
	Status   string        `json:"status"`
	Attempts int           `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
	Payload  record.Record `json:"payload,omitempty"`
}

// NewJournalCommand creates the journal command with list/stats/purge
// subcommands.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and maintain a sync journal",
	}
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to the journal database (required)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List journal entries in drain order",
		Long: `List journal entries in drain order (seq, then id).

Examples:
  opsync journal list --db sync.db
  opsync journal list --db sync.db --pending
  opsync journal list --db sync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(opts, func(j *journal.Journal) error {
				return listEntries(opts, j, cmd)
			})
		},
	}
	list.Flags().BoolVar(&opts.Pending, "pending", false, "show only pending entries")

	stats := &cobra.Command{
		Use:           "stats",
		Short:         "Summarize journal entries by status",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(opts, func(j *journal.Journal) error {
				return showStats(opts, j, cmd)
			})
		},
	}

	purge := &cobra.Command{
		Use:           "purge",
		Short:         "Delete settled (done or failed) entries",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournal(opts, func(j *journal.Journal) error {
				return purgeEntries(opts, j, cmd)
			})
		},
	}

	cmd.AddCommand(list, stats, purge)
	return cmd
}

// withJournal opens the journal at --db, runs fn, and closes it.
func withJournal(opts *JournalOptions, fn func(*journal.Journal) error) error {
	if opts.DB == "" {
		return NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(opts.DB); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal database not found: %s", opts.DB))
	}

	j, err := journal.Open(opts.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	return fn(j)
}

func listEntries(opts *JournalOptions, j *journal.Journal, cmd *cobra.Command) error {
	ctx := cmd.Context()

	var (
		entries []journal.Entry
		err     error
	)
	if opts.Pending {
		entries, err = j.Pending(ctx)
	} else {
		entries, err = j.List(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	views := make([]JournalEntryView, len(entries))
	for i, e := range entries {
		views[i] = JournalEntryView{
			ID:       e.ID,
			Table:    e.Table,
			Op:       e.Op.String(),
			Resource: e.Resource,
			Seq:      e.Seq,
			Status:   string(e.Status),
			Attempts: e.Attempts,
			Error:    e.LastError,
			Payload:  e.Payload,
		}
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: views})
	}

	w := cmd.OutOrStdout()
	if len(views) == 0 {
		fmt.Fprintln(w, "No entries.")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(w, "%-8s seq=%-4d %s %s/%s", v.Status, v.Seq, v.ID, v.Table, v.Op)
		if v.Attempts > 0 {
			fmt.Fprintf(w, " attempts=%d", v.Attempts)
		}
		if v.Error != "" {
			fmt.Fprintf(w, " error=%q", v.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func showStats(opts *JournalOptions, j *journal.Journal, cmd *cobra.Command) error {
	stats, err := j.Stats(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: stats})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Pending: %d\n", stats.Pending)
	fmt.Fprintf(w, "Done:    %d\n", stats.Done)
	fmt.Fprintf(w, "Failed:  %d\n", stats.Failed)
	fmt.Fprintf(w, "Total:   %d\n", stats.Total)
	return nil
}

func purgeEntries(opts *JournalOptions, j *journal.Journal, cmd *cobra.Command) error {
	removed, err := j.Purge(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to purge journal", err)
	}

	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: map[string]int64{"removed": removed}})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d settled entries.\n", removed)
	return nil
}

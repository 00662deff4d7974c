package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"stocktake/services/admin"
	"stocktake/services/scanner"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stockctl",
		Short:         "Operator utility for stocktake audits and scanner queues",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newAuditsCommand())
	cmd.AddCommand(newQueueCommand())
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newAuditsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audits",
		Short: "Inspect and manage audits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().String("api", "http://localhost:8080", "Base URL of the audit API")

	cmd.AddCommand(newAuditsListCommand())
	cmd.AddCommand(newAuditsShowCommand())
	cmd.AddCommand(newAuditsFinishCommand())
	cmd.AddCommand(newAuditsResetCommand())
	return cmd
}

func apiClient(cmd *cobra.Command) (*admin.Client, error) {
	base, err := cmd.Flags().GetString("api")
	if err != nil {
		return nil, err
	}
	return admin.NewClient(base, 15*time.Second)
}

func newAuditsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List audits with their counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiClient(cmd)
			if err != nil {
				return err
			}

			audits, err := client.ListAudits(commandContext(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tLOCATION\tFOUND\tMISSING\tUNEXPECTED\tSTARTED")
			for _, a := range audits {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					a.ID, a.Status, a.Location, a.Counters.Found, a.Counters.Missing,
					a.Counters.Unexpected, a.StartedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newAuditsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <audit-id>",
		Short: "Show one audit with snapshot progress and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auditID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid audit id %q", args[0])
			}
			client, err := apiClient(cmd)
			if err != nil {
				return err
			}

			ctx := commandContext(cmd)
			detail, err := client.GetAudit(ctx, auditID)
			if err != nil {
				return err
			}
			tasks, err := client.ListTasks(ctx, auditID, "")
			if err != nil {
				return err
			}

			a := detail.Audit
			fmt.Printf("Audit %s (%s)\n", a.ID, a.Status)
			fmt.Printf("  location:    %s\n", a.Location)
			fmt.Printf("  progress:    %d / %d items found\n", detail.DistinctFound, detail.SnapshotSize)
			fmt.Printf("  found:       %d\n", a.Counters.Found)
			fmt.Printf("  missing:     %d\n", a.Counters.Missing)
			fmt.Printf("  unexpected:  %d\n", a.Counters.Unexpected)
			fmt.Printf("  incongruent: %d\n", a.Counters.Incongruent)
			fmt.Printf("  duplicates:  %d\n", a.Counters.Duplicate)
			fmt.Printf("  not found:   %d\n", a.Counters.NotFound)
			if a.Note != "" {
				fmt.Printf("  note:        %s\n", a.Note)
			}
			fmt.Printf("  tasks:       %d\n", len(tasks))
			return nil
		},
	}
}

func newAuditsFinishCommand() *cobra.Command {
	var (
		note string
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "finish <audit-id>",
		Short: "Close an audit and generate follow-up tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auditID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid audit id %q", args[0])
			}
			client, err := apiClient(cmd)
			if err != nil {
				return err
			}

			finished, tasks, err := admin.Finish(commandContext(cmd), admin.FinishConfig{
				Client:  client,
				AuditID: auditID,
				Note:    note,
				Yes:     yes,
				Stdin:   os.Stdin,
				Stdout:  os.Stdout,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Audit %s finished; %d follow-up tasks created.\n", finished.ID, tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Completion note recorded on the audit")
	cmd.Flags().BoolVar(&yes, "yes", false, "Finish without prompting even if discrepancies remain")
	return cmd
}

func newAuditsResetCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <audit-id>",
		Short: "Delete every scan from an audit and reopen it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auditID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid audit id %q", args[0])
			}
			client, err := apiClient(cmd)
			if err != nil {
				return err
			}

			reset, deleted, err := admin.Reset(commandContext(cmd), admin.ResetConfig{
				Client:  client,
				AuditID: auditID,
				Yes:     yes,
				Stdin:   os.Stdin,
				Stdout:  os.Stdout,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Audit %s reset; %d scans deleted, status %s.\n", reset.ID, deleted, reset.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the typed confirmation")
	return cmd
}

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and clear a scanner's offline queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().String("path", "/var/lib/stocktake/scan_queue.db", "Path to the scanner queue database")

	cmd.AddCommand(newQueueListCommand())
	cmd.AddCommand(newQueueClearCommand())
	return cmd
}

func openQueue(cmd *cobra.Command) (*scanner.Queue, error) {
	path, err := cmd.Flags().GetString("path")
	if err != nil {
		return nil, err
	}
	return scanner.OpenQueue(path)
}

func newQueueListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List queued scans in capture order",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			entries, err := queue.Entries(commandContext(cmd))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SEQ\tCODE\tSTATE\tATTEMPTS\tCAPTURED\tLAST ERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
					e.Seq, e.RawCode, e.State, e.Attempts,
					e.CapturedAt.Format(time.RFC3339), e.LastError)
			}
			return w.Flush()
		},
	}
}

func newQueueClearCommand() *cobra.Command {
	var (
		seq int64
		all bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove a wedged entry (or everything) from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (seq != 0) {
				return fmt.Errorf("pass exactly one of --seq or --all")
			}

			queue, err := openQueue(cmd)
			if err != nil {
				return err
			}
			defer queue.Close()

			ctx := commandContext(cmd)
			if all {
				dropped, err := queue.ClearAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Dropped %d queued scans.\n", dropped)
				return nil
			}

			if err := queue.Clear(ctx, seq); err != nil {
				return err
			}
			fmt.Printf("Dropped queue entry %d.\n", seq)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seq, "seq", 0, "Sequence number of the entry to drop")
	cmd.Flags().BoolVar(&all, "all", false, "Drop every queued scan")
	return cmd
}

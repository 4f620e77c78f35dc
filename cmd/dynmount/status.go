package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"dynmount/internal/state"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var asJSON, clearRecord bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last recorded session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			states, err := state.NewManager(a.fs, a.cfg.StateFile)
			if err != nil {
				return err
			}
			if clearRecord {
				return clearSession(cmd.OutOrStdout(), states)
			}

			rec, err := states.Load()
			if errors.Is(err, state.ErrNoRecord) {
				fmt.Fprintln(cmd.OutOrStdout(), "No session recorded")
				return nil
			}
			if err != nil {
				return err
			}

			if asJSON {
				data, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printRecord(cmd.OutOrStdout(), rec)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw record")
	cmd.Flags().BoolVar(&clearRecord, "clear", false, "remove the record, keeping a backup")
	cmd.MarkFlagsMutuallyExclusive("json", "clear")
	return cmd
}

func clearSession(w io.Writer, states *state.Manager) error {
	if _, err := states.Load(); errors.Is(err, state.ErrNoRecord) {
		fmt.Fprintln(w, "No session recorded")
		return nil
	}
	if err := states.Clear(); err != nil {
		return err
	}
	backups, err := states.Backups()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Session record cleared")
	if len(backups) > 0 {
		fmt.Fprintf(w, "Previous record kept at %s\n", backups[0])
	}
	return nil
}

func printRecord(w io.Writer, rec *state.Record) {
	fmt.Fprintf(w, "Session: %s\n", rec.SessionID)
	fmt.Fprintf(w, "Peripheral: %s\n", rec.PeripheralType)
	fmt.Fprintf(w, "Namespace: %s\n", rec.Namespace)
	fmt.Fprintf(w, "Attached: %s\n", rec.AttachedAt.Format(time.RFC3339))
	if rec.Attached() {
		fmt.Fprintln(w, "State: attached")
	} else {
		fmt.Fprintf(w, "State: detached at %s\n", rec.DetachedAt.Format(time.RFC3339))
	}

	fmt.Fprintf(w, "Bindings: %d\n", len(rec.Bindings))
	for _, b := range rec.Bindings {
		if b.Actual != b.Requested {
			fmt.Fprintf(w, "  %s (requested %s)\n", b.Actual, b.Requested)
			continue
		}
		fmt.Fprintf(w, "  %s\n", b.Actual)
	}
	if len(rec.Issues) > 0 {
		fmt.Fprintln(w, "Issues:")
		for _, issue := range rec.Issues {
			fmt.Fprintf(w, "  [%s] %s", issue.Code, issue.Message)
			if issue.Path != "" {
				fmt.Fprintf(w, " (%s)", issue.Path)
			}
			fmt.Fprintln(w)
		}
	}
}

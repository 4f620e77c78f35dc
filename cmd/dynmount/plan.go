package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"dynmount/internal/mount"

	"github.com/spf13/cobra"
)

var errPeripheralRequired = errors.New("a peripheral type is required (--peripheral or DYNMOUNT_PERIPHERAL)")

func newPlanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what would be mounted for a peripheral type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			peripheral, err := a.requirePeripheral()
			if err != nil {
				return err
			}
			plan := mount.NewPlanner(a.fs, a.cfg.Layout()).Plan(peripheral)
			printPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	addPeripheralFlag(cmd)
	return cmd
}

func printPlan(w io.Writer, plan *mount.Plan) {
	fmt.Fprintf(w, "Peripheral: %s\n", plan.PeripheralType)
	fmt.Fprintf(w, "Index: %s\n", plan.Index.Path)
	if len(plan.Programs) == 0 {
		fmt.Fprintln(w, "Programs: none")
	} else {
		fmt.Fprintf(w, "Programs: %s\n", strings.Join(plan.Programs, ", "))
	}

	fmt.Fprintln(w, "Mounts:")
	for _, req := range plan.Requests {
		if req.Kind == mount.RequestExtras {
			fmt.Fprintf(w, "  %-7s %s (%d files)\n", req.Kind, req.VirtualPath, len(req.Files))
			for _, key := range plan.ExtraKeys() {
				fmt.Fprintf(w, "          %s <- %s\n", key, req.Files[key])
			}
			continue
		}
		fmt.Fprintf(w, "  %-7s %s <- %s\n", req.Kind, req.VirtualPath, req.HostPath)
	}

	printIssues(w, plan.Issues)
}

func printIssues(w io.Writer, issues []mount.Issue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintln(w, "Issues:")
	for _, issue := range issues {
		fmt.Fprintf(w, "  %s\n", issue)
	}
}

// logIssues reports attach and detach issues without failing the command.
func logIssues(issues []mount.Issue) {
	for _, issue := range issues {
		logger.Warn("%s", issue)
	}
}

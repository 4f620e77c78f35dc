package main

import (
	"dynmount/internal/luart"
	"dynmount/internal/mount"
	"dynmount/internal/resources"
	"dynmount/internal/vfs"

	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PROGRAM [ARGS...]",
		Short: "Attach in memory and run a mounted program",
		Long: `run attaches a session to a private virtual filesystem and runs one of
the mounted Lua programs, for example "dyn" to list installed programs.
The working directory is the only host location the program can change.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peripheral, err := a.requirePeripheral()
			if err != nil {
				return err
			}

			fsys := vfs.NewFileSystem(a.fs)
			session := mount.NewSession(mount.Options{
				Layout:    a.cfg.Layout(),
				HostFS:    a.fs,
				Resources: resources.FS(),
			})
			res := session.Attach(fsys, mount.PeripheralType(peripheral))
			logIssues(res.Issues)
			defer func() {
				logIssues(session.Detach(fsys))
			}()

			rt, err := luart.New(luart.Options{
				FS:             fsys,
				PeripheralType: peripheral,
				Namespace:      a.cfg.Namespace,
				Stdout:         cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			return rt.RunProgram(args[0], args[1:]...)
		},
	}
	addPeripheralFlag(cmd)
	cmd.Flags().SetInterspersed(false)
	return cmd
}

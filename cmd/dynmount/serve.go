package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"dynmount/internal/config"
	"dynmount/internal/mount"
	"dynmount/internal/resources"
	"dynmount/internal/state"
	"dynmount/internal/vfs"
	"dynmount/internal/watch"

	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach a peripheral and keep its programs mounted",
		Long: `serve attaches a session for the peripheral type and keeps it attached
until interrupted. With --mount-point the virtual filesystem is exposed
through FUSE. With --watch the session is re-attached whenever the installed
programs change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			peripheral, err := a.requirePeripheral()
			if err != nil {
				return err
			}
			return a.serve(cmd.Context(), peripheral)
		},
	}
	addPeripheralFlag(cmd)
	cmd.Flags().String("mount-point", "", "expose the virtual filesystem at this directory")
	cmd.Flags().Bool("watch", false, "re-attach when installed programs change")
	cmd.Flags().Duration("debounce", config.Defaults().Debounce, "quiet period before re-attaching")
	return cmd
}

func (a *app) serve(ctx context.Context, peripheral string) error {
	cfg := a.cfg
	logger.Info("Starting dynmount for peripheral %q", peripheral)

	states, err := state.NewManager(a.fs, cfg.StateFile)
	if err != nil {
		return err
	}

	fsys := vfs.NewFileSystem(a.fs)
	session := mount.NewSession(mount.Options{
		Layout:    cfg.Layout(),
		HostFS:    a.fs,
		Resources: resources.FS(),
	})
	p := mount.PeripheralType(peripheral)

	attach := func() *state.Record {
		res := session.Attach(fsys, p)
		logIssues(res.Issues)
		rec := state.NewRecord(res, peripheral, cfg.Namespace)
		if err := states.Save(rec); err != nil {
			logger.Error("Failed to save session record: %v", err)
		}
		return rec
	}
	rec := attach()

	var served <-chan error
	if cfg.MountPoint != "" {
		server := vfs.NewServer(fsys, cfg.MountPoint)
		if err := server.Mount(); err != nil {
			logIssues(session.Detach(fsys))
			return err
		}
		defer func() {
			if err := server.Unmount(); err != nil {
				logger.Error("Unmount error: %v", err)
			}
		}()
		served = server.Done()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	changes := make(chan []string, 1)
	var watchErr chan error
	if cfg.Watch {
		watchErr, err = a.startWatcher(ctx, cfg, changes)
		if err != nil {
			logger.Warn("Not watching installed programs: %v", err)
		}
	}

	logger.Info("Session %s attached", session.ID())

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			break loop

		case err := <-served:
			if err != nil {
				logger.Error("FUSE server stopped: %v", err)
			} else {
				logger.Info("Filesystem unmounted externally")
			}
			break loop

		case err := <-watchErr:
			if err != nil {
				logger.Error("Watcher stopped: %v", err)
			}
			watchErr = nil

		case changed := <-changes:
			logger.Info("Installed programs changed (%d paths), re-attaching", len(changed))
			detachIssues := session.Detach(fsys)
			logIssues(detachIssues)
			rec = attach()
		}
	}

	detachIssues := session.Detach(fsys)
	logIssues(detachIssues)
	rec.MarkDetached(detachIssues)
	if err := states.Save(rec); err != nil {
		logger.Error("Failed to save session record: %v", err)
	}
	logger.Info("Clean shutdown complete")
	return nil
}

// startWatcher watches the installed-programs directory and forwards
// debounced changes. A change is dropped if one is already queued, since the
// re-attach it triggers reads the whole index anyway.
func (a *app) startWatcher(ctx context.Context, cfg *config.Config, changes chan<- []string) (chan error, error) {
	dir := cfg.Layout().InstalledDir()
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w, err := watch.New(watch.Config{
		Dir:      dir,
		Debounce: cfg.Debounce,
		OnChange: func(_ context.Context, changed []string) error {
			select {
			case changes <- changed:
			default:
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}

	errs := make(chan error, 1)
	go func() { errs <- w.Run(ctx) }()
	return errs, nil
}

package main

import (
	"strings"

	"dynmount/internal/config"
	"dynmount/internal/logging"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	fs         afero.Fs
	cfg        *config.Config
	configFile string
	verbose    bool
}

// configFlags maps flag names to the configuration keys they override.
var configFlags = map[string]string{
	"base-dir":    "base_dir",
	"namespace":   "namespace",
	"log-level":   "log_level",
	"state-file":  "state_file",
	"peripheral":  "peripheral",
	"mount-point": "mount_point",
	"watch":       "watch",
	"debounce":    "debounce",
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "dynmount",
		Short: "Mount installed programs into a computer's virtual filesystem",
		Long: `dynmount overlays installed programs onto a virtual filesystem for as
long as a peripheral is attached. Programs declare the peripheral types they
support in an index; only matching programs are mounted.

Examples:
  dynmount plan --peripheral disk_drive
  dynmount serve --peripheral disk_drive --mount-point /mnt/computer --watch
  dynmount run --peripheral disk_drive dyn info p1
  dynmount status`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd.Flags())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (yaml, json or toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("base-dir", "", "installation base directory")
	flags.String("namespace", "", "installation namespace")
	flags.String("log-level", "", "log level (ERROR, WARN, INFO, DEBUG, TRACE)")
	flags.String("state-file", "", "session record file")

	root.AddCommand(newPlanCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newRunCmd(a))
	root.AddCommand(newStatusCmd(a))
	return root
}

// addPeripheralFlag registers the peripheral type flag shared by commands
// that attach.
func addPeripheralFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("peripheral", "p", "", "peripheral type to attach")
}

func (a *app) loadConfig(flags *pflag.FlagSet) error {
	overrides := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := configFlags[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})

	cfg, err := config.Load(config.LoadOptions{
		ConfigFile: a.configFile,
		Overrides:  overrides,
		Fs:         a.fs,
	})
	if err != nil {
		return err
	}
	a.cfg = cfg

	level := cfg.Level()
	if a.verbose && level < logging.LevelDebug {
		level = logging.LevelDebug
	}
	logging.GetLogger().SetLevel(level)
	logger.Debug("Base directory: %s", cfg.BaseDir)
	logger.Debug("Namespace: %s", cfg.Namespace)
	logger.Debug("State file: %s", cfg.StateFile)
	return nil
}

func (a *app) requirePeripheral() (string, error) {
	p := strings.TrimSpace(a.cfg.Peripheral)
	if p == "" {
		return "", errPeripheralRequired
	}
	return p, nil
}

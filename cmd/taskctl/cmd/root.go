package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taskcore/pkg/config"
	"taskcore/pkg/logger"
)

var (
	// Global flags
	verboseFlag bool
	configFile  string

	// Set by PersistentPreRunE.
	cfg *config.Config
	log *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "taskctl boots a task kernel and runs a configured workload.",
	Long: `taskctl loads a kernel configuration, spawns the tasks it lists and
dispatches them until they all terminate.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configFile != "" {
			cfg, err = config.Load(configFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.Default()
		}
		if verboseFlag {
			cfg.Log.Level = "debug"
		}
		log, err = logger.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// ExecuteContext runs the root command.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Kernel configuration file (YAML)")
}

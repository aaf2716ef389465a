// Command copilot serves the CI/CD copilot API and converts MOP documents into
// Jenkins declarative pipelines from the command line.
package main

import (
	"cicdcopilot/internal/config"
	"cicdcopilot/internal/logging"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	verbose    bool

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zap.NewNop()}
	root := &cobra.Command{
		Use:           "copilot",
		Short:         "Turn method-of-procedure documents into Jenkins pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath, ".env")
			if err != nil {
				return err
			}
			logCfg := cfg.Log
			if opts.verbose {
				logCfg = logging.Verbose(logCfg)
			}
			logger, err := logging.New(logCfg)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = opts.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newServeCmd(opts), newConvertCmd(opts), newGraphCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

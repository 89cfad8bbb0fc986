package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"shelfcheck/config"
	"shelfcheck/internal/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "shelfcheck",
	Short: "Shelf price validation - match shelf labels to the catalog and check prices",
	Long: `shelfcheck indexes store catalogs into a vector index, matches product names
read off shelf photos to catalog entries by embedding similarity, and checks the
observed shelf price against the catalog price.

Example usage:
  shelfcheck index ./catalogs                    # Index every row file under ./catalogs
  shelfcheck match "LECHE LALA 1L" --store 810   # Show the best catalog candidates
  shelfcheck validate items.json --store 810     # Validate a shelf photo's items
  shelfcheck serve                               # Start the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./shelfcheck.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "data directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openApp wires the components for a command and registers cleanup.
func openApp(cmd *cobra.Command, opts appOptions) (*app, error) {
	return newApp(cmd.Context(), GetConfig(), GetRootDir(), opts)
}

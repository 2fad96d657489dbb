package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opensandbox/batchfleet/internal/config"
	"github.com/opensandbox/batchfleet/internal/fleet"
	"github.com/opensandbox/batchfleet/internal/logging"
)

var (
	timeout time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bfctl",
	Short: "batchfleet CLI - operate Azure Batch pools, jobs and tasks",
	Long: `bfctl drives the batchfleet control plane directly against the Batch
service configured through BATCHFLEET_* environment variables.

It resizes and heals pools, manages job lifecycles, commits task batches
atomically, publishes application packages and picks VM sizes.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Deadline for the whole command")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log control-plane decisions to stderr")
}

// withFleet loads configuration, builds the control plane without stores
// and runs fn under the command deadline.
func withFleet(fn func(ctx context.Context, f *fleet.Fleet) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := zap.NewNop()
	if verbose {
		if logger, err = logging.New("debug"); err != nil {
			return err
		}
		defer logger.Sync()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	f, err := fleet.New(ctx, cfg, logger, fleet.Options{SkipStores: true})
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(ctx, f)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}

// Command cortexd runs the cartography daemon: it consumes MapJobs off the
// background queue, builds or refreshes SiteMaps through the orchestrator,
// and serves the operator HTTP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexmap/cortex/internal/config"
	"github.com/cortexmap/cortex/internal/server"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cortexd",
		Short: "Cortex cartography daemon: MAP/QUERY/PATHFIND/REFRESH service",
		RunE:  runDaemon,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	return root
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := cmd.Context()
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	return app.Run(ctx)
}

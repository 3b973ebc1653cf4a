// simulation-service is the HTTP API server that prepares, runs and
// collects SimPARTIX simulations.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"simcontroller/internal/config"

	"github.com/spf13/cobra"
)

var (
	flagPort     string
	flagDir      string
	flagRuntime  string
	flagLogLevel string
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&flagPort, "port", "", "API port (overrides PORT)")
		cmd.Flags().StringVar(&flagDir, "dir", "", "simulations directory (overrides SIMULATIONS_DIR)")
		cmd.Flags().StringVar(&flagRuntime, "runtime", "", "process runtime: exec or docker (overrides RUNTIME)")
		cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	}

	rootCmd.SilenceErrors = true
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "simulation-service",
	Short:        "HTTP service managing SimPARTIX simulation runs",
	SilenceUsage: true,
	RunE:         doServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the simulation API (default command)",
	RunE:  doServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("simulation-service: version info not available")
			return
		}
		fmt.Printf("simulation-service: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
	},
}

func doServe(cmd *cobra.Command, args []string) error {
	cfg := config.LoadServiceConfig()
	if flagPort != "" {
		cfg.Port = flagPort
	}
	if flagDir != "" {
		cfg.SimulationsDir = flagDir
	}
	if flagRuntime != "" {
		cfg.Runtime = flagRuntime
	}
	if flagLogLevel != "" {
		cfg.LogLevel = config.ParseLevel(flagLogLevel)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))
	return serve(cmd.Context(), cfg)
}

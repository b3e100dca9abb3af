// Command wansim runs the WAN load-balancing simulator, either as a
// long-lived server for the browser UI and gRPC clients or as a headless
// batch run that prints per-link results.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/signalsfoundry/wan-balancer-sim/internal/config"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "wansim",
		Short:        "WAN load-balancing simulator (round-robin and weighted round-robin)",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "Path to a config file (default ./wansim.yaml or $HOME/.wansim/wansim.yaml)")
	pf.String("scenario-path", "", "YAML scenario describing sites, hosts and links")
	pf.String("algorithm", "", "Scheduling algorithm: round-robin (rr) or weighted-round-robin (wrr)")
	pf.Float64("generation-rate", 0, "Packets generated per second; 0 disables generation")
	pf.Int("total-packets", 0, "Packet budget; 0 means unlimited")
	pf.Float64("animation-speed", 0, "Speed setting; packet speed is this value / 1000")
	pf.Duration("frame-interval", 0, "Advancement period")
	pf.Uint64("seed", 0, "Seed for reproducible runs; 0 picks one at random")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print wansim version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wansim %s\n", version)
		},
	}

	root.AddCommand(newServeCmd(), newRunCmd(), versionCmd)
	return root
}

// loadConfig reads settings with the command's flags taking precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	changed := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			changed.AddFlag(f)
		}
	})
	cfg, err := config.Load(path, changed)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// loadScenario reads the scenario at path, or the built-in quick-start one
// when path is empty.
func loadScenario(path string) (kb.Scenario, error) {
	if path == "" {
		return kb.DefaultScenario(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return kb.Scenario{}, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	return kb.LoadScenario(f)
}

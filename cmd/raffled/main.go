// Package main provides the entry point for the raffle node.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

type flags struct {
	configPath     string
	host           string
	port           int
	env            string
	keeperMode     string
	keeperInterval time.Duration
	autoFulfill    bool
	historyPath    string
	allowOrigin    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "raffled",
		Short:         "Local node running an automated VRF raffle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "config file (.json or .toml)")

	root.AddCommand(newServeCmd(f), newAddressesCmd(f), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "raffled version %s\n", Version)
		},
	}
}

// loadConfig reads the config file, if any, and applies the flags the user set.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadFromFile(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	changed := cmd.Flags().Changed
	if changed("host") {
		cfg.Host = f.host
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("env") {
		cfg.Env = f.env
	}
	if changed("keeper") {
		cfg.KeeperMode = f.keeperMode
	}
	if changed("keeper-interval") {
		cfg.KeeperInterval = f.keeperInterval
	}
	if changed("auto-fulfill") {
		cfg.VRF.AutoFulfill = f.autoFulfill
	}
	if changed("history") {
		cfg.HistoryPath = f.historyPath
	}
	if changed("allow-origin") {
		cfg.AllowOrigin = f.allowOrigin
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

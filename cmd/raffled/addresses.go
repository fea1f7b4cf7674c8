package main

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/itachi47/hardhat-lottery-backend/pkg/backend"
	"github.com/itachi47/hardhat-lottery-backend/pkg/genesis"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
)

func newAddressesCmd(f *flags) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "addresses",
		Short: "Print the deployed contract addresses keyed by chain id",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			// Addresses depend only on the deployer and its nonce.
			cfg.KeeperMode = "manual"
			cfg.HistoryPath = ""

			node, err := backend.New(cfg, nil, logger.Discard())
			if err != nil {
				return err
			}
			defer node.Close()

			data, err := json.MarshalIndent(map[string]genesis.Deployment{
				strconv.FormatUint(cfg.ChainID, 10): node.Deployment(),
			}, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")

	return cmd
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"github.com/itachi47/hardhat-lottery-backend/pkg/api"
	"github.com/itachi47/hardhat-lottery-backend/pkg/backend"
	"github.com/itachi47/hardhat-lottery-backend/pkg/config"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger"
	"github.com/itachi47/hardhat-lottery-backend/pkg/logger/sl"
	"github.com/itachi47/hardhat-lottery-backend/pkg/rpc"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Deploy the raffle and serve JSON-RPC, REST and the event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.host, "host", config.DefaultHost, "listen host")
	flags.IntVarP(&f.port, "port", "p", config.DefaultPort, "listen port")
	flags.StringVar(&f.env, "env", config.DefaultEnv, "log environment (local, dev, prod)")
	flags.StringVar(&f.keeperMode, "keeper", config.DefaultKeeperMode, "upkeep trigger (auto, interval, manual)")
	flags.DurationVar(&f.keeperInterval, "keeper-interval", config.DefaultKeeperInterval, "poll interval in interval mode")
	flags.BoolVar(&f.autoFulfill, "auto-fulfill", false, "answer randomness requests immediately")
	flags.StringVar(&f.historyPath, "history", "", "bbolt file recording settled rounds")
	flags.StringVar(&f.allowOrigin, "allow-origin", config.DefaultAllowOrigin, "CORS origin allowed to call the node")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Setup(cfg.Env)

	log.Info("starting raffle node",
		slog.String("env", cfg.Env),
		slog.Uint64("chain_id", cfg.ChainID),
		slog.String("keeper", cfg.KeeperMode),
		slog.Bool("auto_fulfill", cfg.VRF.AutoFulfill),
	)
	log.Debug("debug messages are enabled")

	node, err := backend.New(cfg, nil, log)
	if err != nil {
		log.Error("failed to init node", sl.Err(err))
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			log.Error("failed to close node", sl.Err(err))
		}
	}()

	if err := node.Start(); err != nil {
		log.Error("failed to start node", sl.Err(err))
		return err
	}

	dep := node.Deployment()
	log.Info("raffle deployed",
		sl.Address("raffle", dep.Raffle),
		sl.Address("vrf_coordinator", dep.Coordinator),
		sl.Address("deployer", dep.Deployer),
	)

	router := api.New(node, rpc.NewServer(node, log), cfg.AllowOrigin, log)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("server started", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", sl.Err(err))
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("failed to shut down server", sl.Err(err))
			return err
		}
	}

	log.Info("server stopped")
	return nil
}

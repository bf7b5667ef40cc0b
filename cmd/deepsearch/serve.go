package main

import (
	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/logger"
	srv "github.com/mohammad-safakhou/deepsearch/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var serveAddr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.General)
			defer func() { _ = log.Sync() }()
			log.Info("starting deepsearch api",
				zap.String("default_model", cfg.LLM.DefaultModel),
				zap.Bool("redis_guard", cfg.Storage.Redis.Enabled),
				zap.Bool("tracing", cfg.Telemetry.Enabled))
			return srv.Run(cmd.Context(), cfg, serveAddr, log)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.address)")
	return serve
}

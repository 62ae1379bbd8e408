package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/popradius/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve population queries over HTTP for the map UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port

		a, err := buildApp(cfg, "serve")
		if err != nil {
			return err
		}

		srv := server.New(a.orch, a.catalog, server.Config{
			CORSOrigins:     cfg.Server.CORSOrigins,
			RateLimitRPS:    cfg.Server.RateLimitRPS,
			RateLimitBurst:  cfg.Server.RateLimitBurst,
			DefaultRadiusKm: cfg.Query.DefaultRadiusKm,
			MinFileBytes:    cfg.Raster.MinFileBytes,
		})
		return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port),
			time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moltbot/pool/pkg/config"
	"github.com/moltbot/pool/pkg/gateway"
	"github.com/moltbot/pool/pkg/log"
	"github.com/moltbot/pool/pkg/pool"
	"github.com/moltbot/pool/pkg/statusapi"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "moltpool",
	Short:   "moltpool - sticky-routing worker pool supervisor",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"moltpool version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)

	serveCmd.Flags().String("config", "", "path to a YAML configuration file")
	statusCmd.Flags().String("addr", "", "status server address (overrides config default)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor, gateway, and status server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})

		p := pool.New(cfg)
		gw := gateway.New(p)
		statusSrv := statusapi.New(gw, cfg.StatusAddr)

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := gw.Start(ctx); err != nil {
			return fmt.Errorf("start pool: %w", err)
		}
		log.Info("pool started")

		errCh := make(chan error, 1)
		go func() {
			if err := statusSrv.Start(); err != nil {
				errCh <- fmt.Errorf("status server error: %w", err)
			}
		}()
		log.Info("status server listening on " + cfg.StatusAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("received shutdown signal")
		case err := <-errCh:
			log.Errorf("status server failed", err)
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		_ = statusSrv.Stop(stopCtx)
		if err := gw.Stop(stopCtx); err != nil {
			return fmt.Errorf("stop pool: %w", err)
		}

		log.Info("shutdown complete")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running supervisor's /status endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = config.Default().StatusAddr
		}
		if len(addr) > 0 && addr[0] == ':' {
			addr = "127.0.0.1" + addr
		}

		client := http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/status", addr))
		if err != nil {
			return fmt.Errorf("query status: %w", err)
		}
		defer resp.Body.Close()

		var status interface{}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

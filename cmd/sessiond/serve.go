package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sessiond/sessiond/internal/config"
	"github.com/sessiond/sessiond/internal/fileapi"
	"github.com/sessiond/sessiond/internal/logger"
	"github.com/sessiond/sessiond/internal/pkgapi"
	"github.com/sessiond/sessiond/internal/registry"
	"github.com/sessiond/sessiond/internal/runapi"
	"github.com/sessiond/sessiond/internal/transport"
	"github.com/sessiond/sessiond/internal/webdav"
)

func serveCmd() *cobra.Command {
	var logLevel string
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sessiond HTTP/WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logger.Init(logLevel, logFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if cfg.SecretKey == "" {
				logger.Warn("SECRET_KEY not set — webdav bridge disabled")
			}

			reg := registry.New(registry.Options{
				StorageDir:   cfg.StorageDir,
				Shell:        cfg.Shell,
				IdleTimeout:  cfg.IdleTimeout,
				ReapInterval: cfg.ReapInterval,
			})

			router := transport.New(reg).Router()
			fileapi.New(reg).Register(router)
			pkgapi.New(reg).Register(router)
			runapi.New(reg).Register(router)
			webdav.New(reg, cfg.SecretKey).Register(router)

			httpSrv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: router,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logger.Info("sessiond listening", "addr", httpSrv.Addr, "storage_dir", cfg.StorageDir)
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
					return
				}
				errCh <- nil
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpSrv.Shutdown(shutdownCtx); err != nil {
					logger.Warn("http shutdown error", "error", err)
				}
				reg.Shutdown(shutdownCtx)
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFile, "log-file", "", "optional path to also write logs to")

	return cmd
}

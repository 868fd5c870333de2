package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jgoldverg/grdt/internal"
	"github.com/jgoldverg/grdt/pkg/audit"
	"github.com/jgoldverg/grdt/pkg/endpoint"
	"github.com/jgoldverg/grdt/pkg/metrics"
	"github.com/jgoldverg/grdt/pkg/server"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// ServeCommand runs the dispatcher in the foreground: the well-known UDP
// listener, the optional Prometheus metrics endpoint, and the transfer audit
// journal all share this command's lifetime.
func ServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the grdt server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.LoadServerConfig(configPath)
			if err != nil {
				return fmt.Errorf("failed to load server config: %w", err)
			}
			if err := internal.ConfigureLogger(cfg.LogLevel); err != nil {
				internal.Warn("invalid log level in server config, defaulting to info", internal.Fields{
					internal.FieldError: err.Error(),
				})
			}

			auditLog, err := audit.Open(cfg.StorageDir)
			if err != nil {
				return fmt.Errorf("open audit journal: %w", err)
			}
			collector := metrics.NewCollector("grdt")

			d, err := server.New(cfg.BindAddr, cfg.StorageDir, endpoint.Options{
				ReadBufferSize:  cfg.UDPReadBufferSize,
				WriteBufferSize: cfg.UDPWriteBufferSize,
			}, collector, auditLog)
			if err != nil {
				return fmt.Errorf("start dispatcher: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var metricsSrv *http.Server
			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
				mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write([]byte("ok"))
				})
				metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						internal.Warn("metrics server exited", internal.Fields{internal.FieldError: err.Error()})
					}
				}()
				internal.Info("metrics endpoint listening", internal.Fields{internal.FieldPort: cfg.MetricsAddr})
			}

			internal.Info("grdt server listening", internal.Fields{
				internal.FieldPeer:  d.LocalAddr().String(),
				internal.StorageDir: cfg.StorageDir,
			})

			runErr := make(chan error, 1)
			go func() { runErr <- d.Run(ctx) }()

			select {
			case <-ctx.Done():
				internal.Info("shutdown signal received", nil)
				<-runErr
			case err := <-runErr:
				if err != nil {
					internal.Error("dispatcher exited with error", internal.Fields{internal.FieldError: err.Error()})
				}
			}

			if metricsSrv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metricsSrv.Shutdown(shutdownCtx)
			}
			internal.Info("grdt server shutdown complete", nil)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the server config file (TOML)")
	return cmd
}

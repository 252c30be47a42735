package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"copilot-connector/internal/bootstrap"
	"copilot-connector/internal/config"
	"copilot-connector/internal/mcp"
)

var version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:   "copilot-mcp",
		Short: "Expose a Copilot Studio agent as an MCP tool",
		Long:  "copilot-mcp relays MCP tool calls to a Copilot Studio agent over the Direct Line API.",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query_agent tool over stdio or HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if addr == "" {
				addr = cfg.MCPAddr
			}
			// stdout carries the protocol on stdio, so logs always go to stderr.
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			app, err := bootstrap.Build(ctx, cfg, logger, reg, bootstrap.DefaultAWSConfig)
			if err != nil {
				return err
			}
			defer app.Close()
			if !app.Ready {
				logger.Warn("direct line is not configured; tool calls will report the agent as not initialized")
			}

			srv, err := mcp.NewServer(mcp.Config{
				Query:   app.Query,
				Agent:   app.Agent,
				Version: version,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			logger.Info("starting MCP server", "agent", app.Agent.Name, "transport", transport)

			switch transport {
			case "stdio":
				err = srv.ServeStdio(ctx, os.Stdin, os.Stdout)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			case "http":
				return serveHTTP(ctx, addr, mcp.NewRouter(mcp.RouterConfig{
					Server:         srv,
					MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
					Ready:          func() bool { return app.Ready },
				}), logger)
			default:
				return fmt.Errorf("unknown transport %q (want stdio or http)", transport)
			}
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "stdio", "transport to serve: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for the http transport (default MCP_ADDR or :8080)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return server.Shutdown(shutdownCtx)
}

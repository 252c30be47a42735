package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"copilot-connector/handler"
	"copilot-connector/internal/bootstrap"
	"copilot-connector/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// ---- Clients ----
	// Nothing scrapes a Lambda, so no registry: exchange metrics stay off.
	app, err := bootstrap.Build(ctx, cfg, logger, nil, bootstrap.DefaultAWSConfig)
	if err != nil {
		slog.Error("failed to build connector", "err", err)
		os.Exit(1)
	}
	defer app.Close()
	if !app.Ready {
		slog.Warn("direct line is not configured; queries will fail until it is")
	}

	// ---- Handler ----
	h, err := handler.NewHandler(app.Query)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	lambda.Start(h.Handle)
}

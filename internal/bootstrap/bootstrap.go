package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"copilot-connector/internal/config"
	"copilot-connector/internal/domain"
	"copilot-connector/internal/integrations/directline"
	"copilot-connector/internal/integrations/paramstore"
	"copilot-connector/internal/metrics"
	"copilot-connector/internal/repository"
	"copilot-connector/internal/usecase"
)

// AWSConfigLoader returns the shared AWS SDK config. Build only calls it when
// SSM or DynamoDB is actually needed.
type AWSConfigLoader func(ctx context.Context) (aws.Config, error)

// DefaultAWSConfig loads the AWS config from the standard credential chain.
func DefaultAWSConfig(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// App is the wired connector shared by the Lambda and MCP front ends.
type App struct {
	Query *usecase.QueryService
	Agent domain.AgentDefinition
	// Ready is false when Direct Line could not be configured; every query
	// then fails as not initialized.
	Ready bool

	closers []func()
}

// Close releases idle connections held by the app.
func (a *App) Close() {
	if a == nil {
		return
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Build wires config into a QueryService. A missing Direct Line config is not
// fatal: the returned App answers every query with NOT_INITIALIZED. Exchange
// metrics are only collected when reg is non-nil.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer, loadAWS AWSConfigLoader) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if loadAWS == nil {
		loadAWS = DefaultAWSConfig
	}
	loadAWS = onceAWS(loadAWS)

	app := &App{Agent: config.LoadAgentDefinition(cfg.AgentDefinitionPath)}

	dl, err := BuildDirectLineClient(ctx, cfg, loadAWS)
	if err != nil {
		logger.Error("failed to initialize direct line client", "err", err)
	}

	// A typed nil pointer in the interface would bypass the engine's nil check.
	var wire usecase.WireClient
	if dl != nil {
		wire = dl
		app.Ready = true
		app.closers = append(app.closers, dl.Close)
	}
	engine := usecase.NewEngine(wire,
		usecase.WithPollInterval(cfg.PollInterval),
		usecase.WithLogger(logger),
	)

	transcript, err := BuildTranscriptStore(ctx, cfg, loadAWS)
	if err != nil {
		return nil, err
	}

	qcfg := usecase.QueryConfig{
		MaxMessageLen: cfg.MaxMessageLength,
		Timeout:       cfg.ExchangeTimeout,
		Logger:        logger,
	}
	if reg != nil {
		qcfg.Observer = metrics.NewExchangeMetrics(reg)
	}
	if transcript != nil {
		qcfg.Transcript = transcript
		logger.Info("transcript persistence enabled", "table", cfg.TranscriptTable)
	}

	app.Query, err = usecase.NewQueryService(engine, qcfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return app, nil
}

// BuildDirectLineClient returns nil, nil when no secret source is configured.
// A static COPILOT_AGENT_SECRET wins over the SSM parameter.
func BuildDirectLineClient(ctx context.Context, cfg *config.Config, loadAWS AWSConfigLoader) (*directline.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.AgentSecret != "" {
		return directline.NewClient(cfg.DirectLineEndpoint, directline.WithSecret(cfg.AgentSecret))
	}

	awsCfg, err := loadAWS(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
	}
	store, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.SecretCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return directline.NewClient(cfg.DirectLineEndpoint, directline.WithSecretStore(store, cfg.SecretParameterName()))
}

// BuildTranscriptStore returns nil, nil when TRANSCRIPT_TABLE is unset.
func BuildTranscriptStore(ctx context.Context, cfg *config.Config, loadAWS AWSConfigLoader) (*repository.Client, error) {
	if cfg.TranscriptTable == "" {
		return nil, nil
	}
	awsCfg, err := loadAWS(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load AWS config: %w", err)
	}
	return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TranscriptTable)
}

func onceAWS(load AWSConfigLoader) AWSConfigLoader {
	var (
		once sync.Once
		cfg  aws.Config
		err  error
	)
	return func(ctx context.Context) (aws.Config, error) {
		once.Do(func() { cfg, err = load(ctx) })
		return cfg, err
	}
}

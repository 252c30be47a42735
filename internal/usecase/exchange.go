package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"copilot-connector/internal/domain"
)

// WireClient is the Direct Line surface consumed by the engine.
type WireClient interface {
	ActivityFetcher
	StartConversation(ctx context.Context) (string, error)
	PostActivity(ctx context.Context, conversationID string, activity domain.OutboundActivity) error
}

type ExchangeInput struct {
	Message        string
	ResponseValue  json.RawMessage
	ConversationID string
	Watermark      string
}

type ExchangeOutput struct {
	Text             string
	AdaptiveCard     json.RawMessage
	SuggestedActions []domain.Action
	ConversationID   string
	Watermark        string
	// Polls is the number of get-activities calls made for this turn.
	Polls int
}

// Engine runs one conversation turn per Exchange call. It holds no state
// between calls; the caller carries the conversation id and watermark.
type Engine struct {
	wire   WireClient
	poller *Poller
	logger *slog.Logger
}

type EngineOption func(*engineOptions)

type engineOptions struct {
	pollInterval time.Duration
	logger       *slog.Logger
}

func WithPollInterval(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.pollInterval = d
	}
}

func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// NewEngine builds an Engine around wire. A nil wire is allowed; Exchange then
// fails with ErrorNotInitialized without touching the network.
func NewEngine(wire WireClient, opts ...EngineOption) *Engine {
	o := engineOptions{pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	e := &Engine{wire: wire, logger: o.logger}
	if wire != nil {
		e.poller = NewPoller(wire, o.pollInterval, o.logger)
	}
	return e
}

func (e *Engine) Exchange(ctx context.Context, in ExchangeInput) (ExchangeOutput, error) {
	if e == nil || e.wire == nil {
		return ExchangeOutput{}, newError(ErrorNotInitialized, "wire_client_not_configured", nil)
	}

	session := domain.Session{ConversationID: in.ConversationID, Watermark: in.Watermark}
	if session.ConversationID == "" {
		id, err := e.wire.StartConversation(ctx)
		if err != nil {
			return ExchangeOutput{}, newError(ErrorTransport, "start_conversation_error", err)
		}
		session.ConversationID = id
		e.logger.Info("conversation started", "conversation_id", id)
	}

	payload := BuildPayload(in.Message, in.ResponseValue, session.ConversationID)
	if err := e.wire.PostActivity(ctx, session.ConversationID, payload); err != nil {
		return ExchangeOutput{}, newError(ErrorTransport, "post_activity_error", err)
	}

	polled, err := e.poller.PollUntilTurnComplete(ctx, &session)
	if err != nil {
		if errors.Is(err, ErrTurnIncomplete) {
			return ExchangeOutput{}, newError(ErrorInvalidResponse, "turn_incomplete", err)
		}
		return ExchangeOutput{}, err
	}

	parsed, err := ParseResponse(polled.Activities, polled.Watermark)
	if err != nil {
		return ExchangeOutput{}, err
	}

	return ExchangeOutput{
		Text:             parsed.Text,
		AdaptiveCard:     parsed.AdaptiveCard,
		SuggestedActions: parsed.SuggestedActions,
		ConversationID:   session.ConversationID,
		Watermark:        parsed.Watermark,
		Polls:            polled.Polls,
	}, nil
}

package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"copilot-connector/internal/domain"
)

const defaultMaxMessage = 4000

// Exchanger runs one conversation turn against the bot.
type Exchanger interface {
	Exchange(ctx context.Context, in ExchangeInput) (ExchangeOutput, error)
}

// TranscriptRecorder persists completed turns for audit.
type TranscriptRecorder interface {
	SaveTurn(ctx context.Context, turn domain.TranscriptTurn) error
}

// Observer receives one observation per finished query.
type Observer interface {
	ObserveExchange(outcome string, polls int, elapsed time.Duration)
}

type QueryInput struct {
	Query          string
	ResponseValue  json.RawMessage
	ConversationID string
	Watermark      string
	CorrelationID  string
}

type QueryOutput struct {
	Message          string
	AdaptiveCard     json.RawMessage
	SuggestedActions []domain.Action
	ConversationID   string
	Watermark        string
}

type QueryConfig struct {
	MaxMessageLen int
	// Timeout bounds a whole exchange, including polling. Zero disables it.
	Timeout    time.Duration
	Transcript TranscriptRecorder
	Observer   Observer
	Logger     *slog.Logger
}

// QueryService is the front-end facing entry point. It validates input,
// runs at most one exchange per conversation id at a time, and records the
// outcome.
type QueryService struct {
	engine     Exchanger
	maxMessage int
	timeout    time.Duration
	transcript TranscriptRecorder
	observer   Observer
	logger     *slog.Logger
	locks      *keyedMutex
}

func NewQueryService(engine Exchanger, cfg QueryConfig) (*QueryService, error) {
	if engine == nil {
		return nil, errors.New("usecase: exchanger must not be nil")
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessage
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &QueryService{
		engine:     engine,
		maxMessage: cfg.MaxMessageLen,
		timeout:    cfg.Timeout,
		transcript: cfg.Transcript,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
		locks:      newKeyedMutex(),
	}, nil
}

func (s *QueryService) Query(ctx context.Context, in QueryInput) (QueryOutput, error) {
	start := time.Now()

	// The message goes to the bot as given; trimming only decides emptiness.
	query := in.Query
	if strings.TrimSpace(query) == "" && !hasValue(in.ResponseValue) {
		return QueryOutput{}, s.finish(newError(ErrorInvalidInput, "empty_query", nil), 0, start)
	}
	if utf8.RuneCountInString(query) > s.maxMessage {
		return QueryOutput{}, s.finish(newError(ErrorInvalidInput, "query_too_long", nil), 0, start)
	}
	if hasValue(in.ResponseValue) && !json.Valid(in.ResponseValue) {
		return QueryOutput{}, s.finish(newError(ErrorInvalidInput, "invalid_response_value", nil), 0, start)
	}

	// The timeout covers the wait for the conversation as well as the exchange.
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID != "" {
		unlock, err := s.locks.lock(ctx, convID)
		if err != nil {
			s.logger.Warn("gave up waiting for conversation",
				"conversation_id", convID,
				"correlation_id", in.CorrelationID,
				"err", err,
			)
			return QueryOutput{}, s.finish(newError(ErrorInvalidResponse, "conversation_busy", fmt.Errorf("%w: %w", ErrTurnIncomplete, err)), 0, start)
		}
		defer unlock()
	}

	out, err := s.engine.Exchange(ctx, ExchangeInput{
		Message:        query,
		ResponseValue:  in.ResponseValue,
		ConversationID: convID,
		Watermark:      strings.TrimSpace(in.Watermark),
	})
	if err != nil {
		s.logger.Error("exchange failed",
			"conversation_id", convID,
			"correlation_id", in.CorrelationID,
			"code", CodeOf(err),
			"err", err,
		)
		return QueryOutput{}, s.finish(err, out.Polls, start)
	}

	s.record(ctx, in, query, out)
	s.finish(nil, out.Polls, start)

	return QueryOutput{
		Message:          out.Text,
		AdaptiveCard:     out.AdaptiveCard,
		SuggestedActions: out.SuggestedActions,
		ConversationID:   out.ConversationID,
		Watermark:        out.Watermark,
	}, nil
}

// record writes the audit transcript. A failed write is logged and never
// fails the query.
func (s *QueryService) record(ctx context.Context, in QueryInput, query string, out ExchangeOutput) {
	if s.transcript == nil {
		return
	}
	if strings.TrimSpace(query) == "" {
		query = string(in.ResponseValue)
	}
	// The exchange deadline may be nearly spent; the write gets its own budget.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := s.transcript.SaveTurn(writeCtx, domain.TranscriptTurn{
		ConversationID: out.ConversationID,
		Query:          query,
		Reply:          out.Text,
		HasCard:        len(out.AdaptiveCard) > 0,
		Watermark:      out.Watermark,
		CorrelationID:  in.CorrelationID,
	})
	if err != nil {
		s.logger.Warn("transcript write failed",
			"conversation_id", out.ConversationID,
			"correlation_id", in.CorrelationID,
			"err", err,
		)
	}
}

func (s *QueryService) finish(err error, polls int, start time.Time) error {
	if s.observer != nil {
		outcome := "success"
		if err != nil {
			outcome = string(CodeOf(err))
		}
		s.observer.ObserveExchange(outcome, polls, time.Since(start))
	}
	return err
}

// keyedMutex serializes work per key and forgets keys nobody holds or waits
// on. Waiters give up when their context ends.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	held chan struct{} // capacity 1
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{held: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.held <- struct{}{}:
		return func() {
			<-l.held
			k.release(key, l)
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
}

func (k *keyedMutex) release(key string, l *refLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

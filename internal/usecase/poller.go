package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"copilot-connector/internal/domain"
)

const defaultPollInterval = time.Second

// ActivityFetcher is the activity-retrieval primitive of the wire client.
type ActivityFetcher interface {
	GetActivities(ctx context.Context, conversationID, watermark string) (domain.ActivitySet, error)
}

// PollResult is the completed-turn batch and the cursor after it.
type PollResult struct {
	Activities []domain.Activity
	Watermark  string
	Polls      int
}

// Poller fetches new activities for a session until the bot finishes its turn.
//
// The loop has no iteration bound. It only stops on a completion signal, a
// fetch failure, or cancellation of the context passed to
// PollUntilTurnComplete, so hosts enforce timeouts through the context.
type Poller struct {
	fetcher  ActivityFetcher
	interval time.Duration
	logger   *slog.Logger
}

func NewPoller(fetcher ActivityFetcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{fetcher: fetcher, interval: interval, logger: logger}
}

// PollUntilTurnComplete advances session.Watermark as batches arrive and
// returns the whole first batch that contains a turn-completion signal.
func (p *Poller) PollUntilTurnComplete(ctx context.Context, session *domain.Session) (PollResult, error) {
	if p == nil || p.fetcher == nil {
		return PollResult{}, newError(ErrorNotInitialized, "poller_not_configured", nil)
	}
	if session == nil {
		return PollResult{}, newError(ErrorInternal, "nil_session", nil)
	}

	for polls := 1; ; polls++ {
		set, err := p.fetcher.GetActivities(ctx, session.ConversationID, session.Watermark)
		if err != nil {
			if ctx.Err() != nil {
				return PollResult{Watermark: session.Watermark, Polls: polls}, fmt.Errorf("%w after %d polls: %w", ErrTurnIncomplete, polls, err)
			}
			if errors.Is(err, domain.ErrMalformedActivities) {
				return PollResult{Watermark: session.Watermark, Polls: polls}, newError(ErrorInvalidResponse, "malformed_activities", err)
			}
			return PollResult{Watermark: session.Watermark, Polls: polls}, newError(ErrorTransport, "get_activities_error", err)
		}

		session.Advance(set.Watermark)

		if turnComplete(set.Activities) {
			p.logger.Debug("turn complete",
				"conversation_id", session.ConversationID,
				"watermark", session.Watermark,
				"polls", polls,
				"activities", len(set.Activities),
			)
			return PollResult{Activities: set.Activities, Watermark: session.Watermark, Polls: polls}, nil
		}

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return PollResult{Watermark: session.Watermark, Polls: polls}, fmt.Errorf("%w after %d polls: %w", ErrTurnIncomplete, polls, ctx.Err())
		case <-timer.C:
		}
	}
}

// turnComplete reports whether the batch holds a DynamicPlanFinished event or
// any message sent by the bot.
func turnComplete(activities []domain.Activity) bool {
	for _, a := range activities {
		switch v := a.(type) {
		case domain.EventActivity:
			if v.Name == domain.TurnCompletedEventName {
				return true
			}
		case domain.MessageActivity:
			if v.From.Role == domain.BotRole {
				return true
			}
		}
	}
	return false
}

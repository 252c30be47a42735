package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"copilot-connector/internal/domain"
)

func newTestEngine(wire WireClient) *Engine {
	return NewEngine(wire, WithPollInterval(time.Millisecond))
}

func TestExchange_NewConversation(t *testing.T) {
	wire := &fakeWire{
		conversationID: "conv-new",
		batches: []domain.ActivitySet{
			{Activities: []domain.Activity{userEcho("hello")}, Watermark: "1"},
			{Activities: []domain.Activity{userEcho("hello"), botMessage("Hi there")}, Watermark: "2"},
		},
	}

	out, err := newTestEngine(wire).Exchange(context.Background(), ExchangeInput{Message: "hello"})
	require.NoError(t, err)
	require.Equal(t, "Hi there", out.Text)
	require.Equal(t, "conv-new", out.ConversationID)
	require.Equal(t, "2", out.Watermark)
	require.Equal(t, 2, out.Polls)
	require.Empty(t, out.SuggestedActions)

	require.Equal(t, 1, wire.startCalls)
	require.Equal(t, []string{"conv-new"}, wire.postedTo)
	require.Len(t, wire.posted, 1)
	require.Equal(t, "hello", *wire.posted[0].Text)
	require.Equal(t, "conv-new", wire.posted[0].ConversationID)
}

func TestExchange_ContinuesExistingConversation(t *testing.T) {
	wire := &fakeWire{batches: []domain.ActivitySet{
		{Activities: []domain.Activity{botMessage("again")}, Watermark: "8"},
	}}

	out, err := newTestEngine(wire).Exchange(context.Background(), ExchangeInput{
		Message:        "next",
		ConversationID: "conv-1",
		Watermark:      "6",
	})
	require.NoError(t, err)
	require.Zero(t, wire.startCalls)
	require.Equal(t, []string{"6"}, wire.watermarks)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "8", out.Watermark)
}

func TestExchange_CardResponse(t *testing.T) {
	wire := &fakeWire{batches: []domain.ActivitySet{
		{Activities: []domain.Activity{botMessage("thanks")}, Watermark: "3"},
	}}
	value := json.RawMessage(`{"rating":5}`)

	_, err := newTestEngine(wire).Exchange(context.Background(), ExchangeInput{
		Message:        "ignored",
		ResponseValue:  value,
		ConversationID: "conv-1",
	})
	require.NoError(t, err)
	require.Nil(t, wire.posted[0].Text)
	require.JSONEq(t, `{"rating":5}`, string(wire.posted[0].Value))
}

func TestExchange_NotInitialized(t *testing.T) {
	out, err := NewEngine(nil).Exchange(context.Background(), ExchangeInput{Message: "hi"})
	require.Error(t, err)
	require.Equal(t, ErrorNotInitialized, CodeOf(err))
	require.Equal(t, ExchangeOutput{}, out)

	var nilEngine *Engine
	_, err = nilEngine.Exchange(context.Background(), ExchangeInput{Message: "hi"})
	require.Equal(t, ErrorNotInitialized, CodeOf(err))
}

func TestExchange_PropagatesFailures(t *testing.T) {
	boom := errors.New("boom")
	cases := []struct {
		name string
		wire *fakeWire
		in   ExchangeInput
	}{
		{name: "start", wire: &fakeWire{startErr: boom}, in: ExchangeInput{Message: "hi"}},
		{name: "post", wire: &fakeWire{postErr: boom}, in: ExchangeInput{Message: "hi", ConversationID: "c"}},
		{name: "get", wire: &fakeWire{getErr: boom}, in: ExchangeInput{Message: "hi", ConversationID: "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newTestEngine(tc.wire).Exchange(context.Background(), tc.in)
			require.ErrorIs(t, err, boom)
			require.Equal(t, ErrorTransport, CodeOf(err))
		})
	}
}

func TestExchange_StartFailureSkipsPost(t *testing.T) {
	wire := &fakeWire{startErr: errors.New("unauthorized")}
	_, err := newTestEngine(wire).Exchange(context.Background(), ExchangeInput{Message: "hi"})
	require.Error(t, err)
	require.Empty(t, wire.posted)
	require.Zero(t, wire.getCalls())
}

// Polling has no built-in bound; the test bounds it through the context.
func TestExchange_EmptyActivitiesUntilCancelledIsInvalidResponse(t *testing.T) {
	wire := &fakeWire{conversationID: "conv-new"}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewEngine(wire).Exchange(ctx, ExchangeInput{Message: "hi"})
	require.Error(t, err)
	require.Equal(t, ErrorInvalidResponse, CodeOf(err))
	require.ErrorIs(t, err, ErrTurnIncomplete)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, wire.startCalls)
}

// slowWire starts and posts normally but never answers a fetch before the
// caller gives up.
type slowWire struct {
	*fakeWire
}

func (w slowWire) GetActivities(ctx context.Context, conversationID, watermark string) (domain.ActivitySet, error) {
	return blockingFetcher{}.GetActivities(ctx, conversationID, watermark)
}

func TestExchange_DeadlineDuringFetchIsInvalidResponse(t *testing.T) {
	wire := slowWire{&fakeWire{conversationID: "conv-new"}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewEngine(wire).Exchange(ctx, ExchangeInput{Message: "hi"})
	require.Equal(t, ErrorInvalidResponse, CodeOf(err))
	require.ErrorIs(t, err, ErrTurnIncomplete)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExchange_RichReply(t *testing.T) {
	msg := botMessage("Choose")
	msg.SuggestedActions = []domain.Action{{Title: "A", Value: json.RawMessage(`"a"`)}}
	msg.Attachments = []domain.Attachment{{
		ContentType: domain.AdaptiveCardContentType,
		Content:     json.RawMessage(`{"type":"AdaptiveCard"}`),
	}}
	wire := &fakeWire{batches: []domain.ActivitySet{
		{Activities: []domain.Activity{msg, planFinished()}, Watermark: "12"},
	}}

	out, err := newTestEngine(wire).Exchange(context.Background(), ExchangeInput{Message: "menu", ConversationID: "c"})
	require.NoError(t, err)
	require.Equal(t, "Choose", out.Text)
	require.Equal(t, msg.SuggestedActions, out.SuggestedActions)
	require.JSONEq(t, `{"type":"AdaptiveCard"}`, string(out.AdaptiveCard))
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Protocol constants fixed by the bot platform. They must match exactly.
const (
	ActivityTypeMessage = "message"
	ActivityTypeEvent   = "event"

	// TurnCompletedEventName is the event a Copilot Studio bot emits when it
	// has finished its dynamic plan for the current turn.
	TurnCompletedEventName = "DynamicPlanFinished"

	AdaptiveCardContentType = "application/vnd.microsoft.card.adaptive"

	UserID  = "user"
	BotRole = "bot"
)

// ErrMalformedActivities is returned when an activity set cannot be decoded.
var ErrMalformedActivities = errors.New("domain: malformed activity set")

// ChannelAccount identifies the sender of an activity.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
}

// Action is a suggested action offered by the bot.
type Action struct {
	Type  string          `json:"type,omitempty"`
	Title string          `json:"title"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Attachment is a rich payload attached to a message activity.
type Attachment struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// Activity is one inbound unit of the bot's activity stream. The set of
// implementations is closed: MessageActivity, EventActivity and OtherActivity.
type Activity interface {
	Type() string
	Sender() ChannelAccount
	isActivity()
}

// MessageActivity carries a bot or user message.
type MessageActivity struct {
	From ChannelAccount
	// Text is nil when the activity has no text field at all.
	Text             *string
	SuggestedActions []Action
	Attachments      []Attachment
}

func (MessageActivity) Type() string             { return ActivityTypeMessage }
func (m MessageActivity) Sender() ChannelAccount { return m.From }
func (MessageActivity) isActivity()              {}

// EventActivity carries a named platform event.
type EventActivity struct {
	From  ChannelAccount
	Name  string
	Value json.RawMessage
}

func (EventActivity) Type() string             { return ActivityTypeEvent }
func (e EventActivity) Sender() ChannelAccount { return e.From }
func (EventActivity) isActivity()              {}

// OtherActivity is any activity type this connector does not interpret
// (typing indicators, conversation updates, traces).
type OtherActivity struct {
	Kind string
	From ChannelAccount
}

func (o OtherActivity) Type() string           { return o.Kind }
func (o OtherActivity) Sender() ChannelAccount { return o.From }
func (OtherActivity) isActivity()              {}

// wireActivity is the subset of the Bot Framework activity schema we read.
type wireActivity struct {
	Type             string           `json:"type"`
	Name             string           `json:"name,omitempty"`
	From             ChannelAccount   `json:"from"`
	Text             *string          `json:"text,omitempty"`
	Value            json.RawMessage  `json:"value,omitempty"`
	SuggestedActions *suggestedAction `json:"suggestedActions,omitempty"`
	Attachments      []Attachment     `json:"attachments,omitempty"`
}

type suggestedAction struct {
	Actions []Action `json:"actions"`
}

// DecodeActivity converts one raw activity into its typed variant.
func DecodeActivity(raw json.RawMessage) (Activity, error) {
	var w wireActivity
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedActivities, err)
	}
	switch w.Type {
	case ActivityTypeMessage:
		m := MessageActivity{
			From:        w.From,
			Text:        w.Text,
			Attachments: w.Attachments,
		}
		if w.SuggestedActions != nil {
			m.SuggestedActions = w.SuggestedActions.Actions
		}
		return m, nil
	case ActivityTypeEvent:
		return EventActivity{From: w.From, Name: w.Name, Value: w.Value}, nil
	default:
		return OtherActivity{Kind: w.Type, From: w.From}, nil
	}
}

// ActivitySet is the response of the get-activities primitive.
type ActivitySet struct {
	// Activities is nil when the response had no activity collection.
	Activities []Activity
	// Watermark is empty when the response did not report one.
	Watermark string
}

func (s *ActivitySet) UnmarshalJSON(data []byte) error {
	var wire struct {
		Activities []json.RawMessage `json:"activities"`
		Watermark  *string           `json:"watermark"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedActivities, err)
	}

	out := ActivitySet{}
	if wire.Watermark != nil {
		out.Watermark = *wire.Watermark
	}
	if wire.Activities != nil {
		out.Activities = make([]Activity, 0, len(wire.Activities))
		for i, raw := range wire.Activities {
			a, err := DecodeActivity(raw)
			if err != nil {
				return fmt.Errorf("activity %d: %w", i, err)
			}
			out.Activities = append(out.Activities, a)
		}
	}
	*s = out
	return nil
}

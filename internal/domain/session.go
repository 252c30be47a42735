package domain

import "encoding/json"

// Session is the per-conversation cursor state for one exchange. The caller
// owns it and may re-supply ConversationID and Watermark on the next call.
type Session struct {
	ConversationID string
	// Watermark is empty until the bot reports one.
	Watermark string
}

// Advance replaces the watermark with next when next is non-empty.
func (s *Session) Advance(next string) {
	if next != "" {
		s.Watermark = next
	}
}

// OutboundActivity is the message activity posted to the bot. Exactly one of
// Text or Value is set.
type OutboundActivity struct {
	Type           string          `json:"type"`
	From           ChannelAccount  `json:"from"`
	Text           *string         `json:"text,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
}

// ParsedResult is the structured reply reduced from a completed turn.
type ParsedResult struct {
	Text             string          `json:"text"`
	AdaptiveCard     json.RawMessage `json:"adaptive_card,omitempty"`
	SuggestedActions []Action        `json:"suggested_actions"`
	Watermark        string          `json:"watermark"`
}

package usecase

import (
	"bytes"
	"encoding/json"

	"copilot-connector/internal/domain"
)

// BuildPayload builds the outbound message activity. A card response value
// takes precedence over message; the conversation id is only included once
// the bot has assigned one.
func BuildPayload(message string, responseValue json.RawMessage, conversationID string) domain.OutboundActivity {
	payload := domain.OutboundActivity{
		Type: domain.ActivityTypeMessage,
		From: domain.ChannelAccount{ID: domain.UserID},
	}

	if hasValue(responseValue) {
		payload.Value = responseValue
	} else {
		text := message
		payload.Text = &text
	}

	if conversationID != "" {
		payload.ConversationID = conversationID
	}
	return payload
}

func hasValue(v json.RawMessage) bool {
	trimmed := bytes.TrimSpace(v)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

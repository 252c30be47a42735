package usecase

import (
	"encoding/json"

	"copilot-connector/internal/domain"
)

// ParseResponse reduces a completed-turn batch into a ParsedResult. Later bot
// messages overwrite earlier ones. A batch without any bot message is not an
// error and yields an empty reply; only a missing collection is.
func ParseResponse(activities []domain.Activity, watermark string) (domain.ParsedResult, error) {
	if activities == nil {
		return domain.ParsedResult{}, newError(ErrorInvalidResponse, "missing_activities", nil)
	}

	result := domain.ParsedResult{
		SuggestedActions: []domain.Action{},
		Watermark:        watermark,
	}

	for _, activity := range activities {
		msg, ok := activity.(domain.MessageActivity)
		if !ok || msg.From.ID == domain.UserID || msg.From.Role != domain.BotRole {
			continue
		}

		if msg.Text != nil {
			result.Text = *msg.Text
		}

		if len(msg.SuggestedActions) > 0 {
			actions := make([]domain.Action, len(msg.SuggestedActions))
			copy(actions, msg.SuggestedActions)
			result.SuggestedActions = actions
		}

		if len(msg.Attachments) > 0 && msg.Attachments[0].ContentType == domain.AdaptiveCardContentType {
			card := msg.Attachments[0].Content
			if len(card) == 0 {
				card = json.RawMessage(`{}`)
			}
			result.AdaptiveCard = card
		}
	}

	return result, nil
}

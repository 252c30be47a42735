package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"copilot-connector/internal/domain"
	"copilot-connector/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// QueryUseCase is the subset of usecase.QueryService the handler needs.
type QueryUseCase interface {
	Query(ctx context.Context, in usecase.QueryInput) (usecase.QueryOutput, error)
}

type queryRequest struct {
	Query          string          `json:"query"`
	ConversationID string          `json:"conversationId,omitempty"`
	Watermark      string          `json:"watermark,omitempty"`
	ResponseValue  json.RawMessage `json:"responseValue,omitempty"`
}

type queryResponse struct {
	Status           string          `json:"status"`
	Message          string          `json:"message"`
	ConversationID   string          `json:"conversationId"`
	Watermark        string          `json:"watermark"`
	AdaptiveCard     json.RawMessage `json:"adaptiveCard,omitempty"`
	SuggestedActions []domain.Action `json:"suggestedActions"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Handler struct {
	uc QueryUseCase
}

func NewHandler(uc QueryUseCase) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	return &Handler{uc: uc}, nil
}

// Handle serves POST /query behind API Gateway.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.With("correlation_id", correlationID)

	var body queryRequest
	if err := json.Unmarshal([]byte(req.Body), &body); err != nil {
		logger.Warn("invalid request body", "err", err)
		return errorJSON(http.StatusBadRequest, usecase.ErrorInvalidInput, "request body must be a JSON object", correlationID), nil
	}

	out, err := h.uc.Query(ctx, usecase.QueryInput{
		Query:          body.Query,
		ResponseValue:  body.ResponseValue,
		ConversationID: body.ConversationID,
		Watermark:      body.Watermark,
		CorrelationID:  correlationID,
	})
	if err != nil {
		code := usecase.CodeOf(err)
		logger.Error("query failed", "code", code, "err", err)
		return errorJSON(statusFor(code), code, errorMessage(code), correlationID), nil
	}

	actions := out.SuggestedActions
	if actions == nil {
		actions = []domain.Action{}
	}
	return jsonResponse(http.StatusOK, queryResponse{
		Status:           "success",
		Message:          out.Message,
		ConversationID:   out.ConversationID,
		Watermark:        out.Watermark,
		AdaptiveCard:     out.AdaptiveCard,
		SuggestedActions: actions,
	}, correlationID), nil
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotInitialized:
		return http.StatusServiceUnavailable
	case usecase.ErrorTransport, usecase.ErrorInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(code usecase.ErrorCode) string {
	switch code {
	case usecase.ErrorInvalidInput:
		return "the query was rejected"
	case usecase.ErrorNotInitialized:
		return "the Copilot Studio agent is not initialized"
	case usecase.ErrorTransport:
		return "the Copilot Studio agent could not be reached"
	case usecase.ErrorInvalidResponse:
		return "the Copilot Studio agent returned an invalid response"
	default:
		return "internal error"
	}
}

// headerValue looks up a header case-insensitively; API Gateway preserves
// whatever casing the client sent.
func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func errorJSON(status int, code usecase.ErrorCode, message, correlationID string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Status: "error", Error: string(code), Message: message}, correlationID)
}

func jsonResponse(status int, v any, correlationID string) events.APIGatewayProxyResponse {
	b, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"status":"error","error":"INTERNAL_ERROR","message":"internal error"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: string(b),
	}
}

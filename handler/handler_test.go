package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"copilot-connector/internal/domain"
	"copilot-connector/internal/usecase"
)

type stubUseCase struct {
	out usecase.QueryOutput
	err error
	in  usecase.QueryInput
}

func (s *stubUseCase) Query(_ context.Context, in usecase.QueryInput) (usecase.QueryOutput, error) {
	s.in = in
	return s.out, s.err
}

func makeEvent(body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPost,
		Path:       "/query",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func TestNewHandler_ValidatesDependency(t *testing.T) {
	_, err := NewHandler(nil)
	require.Error(t, err)
}

func TestHandle_HappyPath(t *testing.T) {
	uc := &stubUseCase{out: usecase.QueryOutput{Message: "hello", ConversationID: "conv-1", Watermark: "3"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"What can you do?","conversationId":"conv-1","watermark":"2"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "What can you do?", uc.in.Query)
	require.Equal(t, "conv-1", uc.in.ConversationID)
	require.Equal(t, "2", uc.in.Watermark)
	require.NotEmpty(t, uc.in.CorrelationID)

	out := parseBody[queryResponse](t, resp.Body)
	require.Equal(t, "success", out.Status)
	require.Equal(t, "hello", out.Message)
	require.Equal(t, "conv-1", out.ConversationID)
	require.Equal(t, "3", out.Watermark)
	require.NotNil(t, out.SuggestedActions)
	require.Empty(t, out.SuggestedActions)
	require.Equal(t, uc.in.CorrelationID, resp.Headers["X-Correlation-Id"])
}

func TestHandle_CardAndActions(t *testing.T) {
	uc := &stubUseCase{out: usecase.QueryOutput{
		Message:          "pick one",
		AdaptiveCard:     json.RawMessage(`{"type":"AdaptiveCard"}`),
		SuggestedActions: []domain.Action{{Type: "imBack", Title: "Yes", Value: json.RawMessage(`"yes"`)}},
		ConversationID:   "conv-1",
	}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`{"query":"","conversationId":"conv-1","responseValue":{"choice":"a"}}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"choice":"a"}`, string(uc.in.ResponseValue))

	out := parseBody[queryResponse](t, resp.Body)
	require.JSONEq(t, `{"type":"AdaptiveCard"}`, string(out.AdaptiveCard))
	require.Len(t, out.SuggestedActions, 1)
	require.Equal(t, "Yes", out.SuggestedActions[0].Title)
}

func TestHandle_InvalidBody(t *testing.T) {
	uc := &stubUseCase{}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	resp, err := h.Handle(context.Background(), makeEvent(`not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	out := parseBody[errorResponse](t, resp.Body)
	require.Equal(t, "error", out.Status)
	require.Equal(t, string(usecase.ErrorInvalidInput), out.Error)
}

func TestHandle_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_query"}, status: http.StatusBadRequest, code: string(usecase.ErrorInvalidInput)},
		{name: "not initialized", err: &usecase.Error{Code: usecase.ErrorNotInitialized, Reason: "no_client"}, status: http.StatusServiceUnavailable, code: string(usecase.ErrorNotInitialized)},
		{name: "transport", err: &usecase.Error{Code: usecase.ErrorTransport, Reason: "post_activity_error"}, status: http.StatusBadGateway, code: string(usecase.ErrorTransport)},
		{name: "invalid response", err: &usecase.Error{Code: usecase.ErrorInvalidResponse, Reason: "turn_incomplete"}, status: http.StatusBadGateway, code: string(usecase.ErrorInvalidResponse)},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected"}, status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: string(usecase.ErrorInternal)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := &stubUseCase{err: tc.err}
			h, err := NewHandler(uc)
			require.NoError(t, err)

			resp, err := h.Handle(context.Background(), makeEvent(`{"query":"What can you do?"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)

			out := parseBody[errorResponse](t, resp.Body)
			require.Equal(t, tc.code, out.Error)
			require.NotEmpty(t, out.Message)
		})
	}
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	uc := &stubUseCase{out: usecase.QueryOutput{Message: "ok", ConversationID: "conv-1"}}
	h, err := NewHandler(uc)
	require.NoError(t, err)

	event := makeEvent(`{"query":"What can you do?"}`)
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
	require.Equal(t, "corr-123", uc.in.CorrelationID)
}

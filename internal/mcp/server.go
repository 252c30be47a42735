package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"copilot-connector/internal/domain"
	"copilot-connector/internal/usecase"
)

// QueryToolName is the single tool this server exposes.
const QueryToolName = "query_agent"

var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

const latestProtocolVersion = "2025-11-25"

const (
	statusSuccess = "success"
	statusError   = "error"

	notInitializedMessage = "Error: Copilot Studio agent is not initialized. Check server logs for details."
	queryFailedPrefix     = "Error querying Copilot Studio agent: "
)

var queryToolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The message to send to the agent. May be empty when response_value is given."},
    "conversation_id": {"type": "string", "description": "Conversation to continue. Omit to start a new one."},
    "watermark": {"type": "string", "description": "Watermark returned by the previous call in this conversation."},
    "response_value": {"type": "object", "description": "Adaptive card submit payload to send instead of, or with, text."}
  },
  "anyOf": [
    {"required": ["query"]},
    {"required": ["response_value"]}
  ]
}`)

// QueryUseCase is the subset of usecase.QueryService the server needs.
type QueryUseCase interface {
	Query(ctx context.Context, in usecase.QueryInput) (usecase.QueryOutput, error)
}

type queryArguments struct {
	Query          string          `json:"query"`
	ConversationID string          `json:"conversation_id"`
	Watermark      string          `json:"watermark"`
	ResponseValue  json.RawMessage `json:"response_value"`
}

// toolResponse is the envelope returned as the tool's text content. The
// conversation fields are null on error.
type toolResponse struct {
	Status           string          `json:"status"`
	Message          string          `json:"message"`
	ConversationID   *string         `json:"conversation_id"`
	Watermark        *string         `json:"watermark"`
	AdaptiveCard     json.RawMessage `json:"adaptive_card,omitempty"`
	SuggestedActions []domain.Action `json:"suggested_actions,omitempty"`
}

type Config struct {
	Query   QueryUseCase
	Agent   domain.AgentDefinition
	Version string
	Logger  *slog.Logger
}

// Server exposes an agent as an MCP tool. It is transport-independent; see
// HTTPHandler and ServeStdio.
type Server struct {
	query    QueryUseCase
	agent    domain.AgentDefinition
	name     string
	version  string
	logger   *slog.Logger
	sessions *sessionStore
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Query == nil {
		return nil, errors.New("mcp: query use case is required")
	}
	if strings.TrimSpace(cfg.Agent.Name) == "" {
		return nil, errors.New("mcp: agent name is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}
	return &Server{
		query:    cfg.Query,
		agent:    cfg.Agent,
		name:     ServerName(cfg.Agent.Name),
		version:  version,
		logger:   logger,
		sessions: newSessionStore(),
	}, nil
}

// ServerName derives the advertised server name from the agent name.
func ServerName(agentName string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(agentName)), " ", "-")
}

// Handle dispatches one JSON-RPC message. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
	}

	if req.IsNotification() {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, map[string]any{})
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, JSONRPCMethodNotFound, "method not found")
	}
}

func (s *Server) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	version := latestProtocolVersion
	var params MCPInitializeParams
	if len(req.Params) > 0 && json.Unmarshal(req.Params, &params) == nil && supportedProtocolVersions[params.ProtocolVersion] {
		version = params.ProtocolVersion
	}

	return resultResponse(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.name,
			"version": s.version,
		},
		"instructions": s.agent.Description,
	})
}

func (s *Server) handleToolsList(req JSONRPCRequest) *JSONRPCResponse {
	return resultResponse(req.ID, MCPListToolsResult{
		Tools: []MCPToolInfo{{
			Name:        QueryToolName,
			Description: s.agent.Description,
			InputSchema: queryToolSchema,
		}},
	})
}

func (s *Server) handleToolsCall(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return errorResponse(req.ID, JSONRPCInvalidParams, "tool name is required")
	}
	if params.Name != QueryToolName {
		return errorResponse(req.ID, JSONRPCInvalidParams, "tool not found")
	}

	var args queryArguments
	if len(params.Arguments) > 0 && string(params.Arguments) != "null" {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, JSONRPCInvalidParams, "invalid arguments")
		}
	}

	requestID := uuid.New().String()
	s.logger.Debug("tools/call",
		"tool_name", params.Name,
		"request_id", requestID,
		"conversation_id", args.ConversationID,
	)

	out, err := s.query.Query(ctx, usecase.QueryInput{
		Query:          args.Query,
		ResponseValue:  args.ResponseValue,
		ConversationID: args.ConversationID,
		Watermark:      args.Watermark,
		CorrelationID:  requestID,
	})

	var env toolResponse
	if err != nil {
		s.logger.Warn("tool execution failed",
			"tool_name", params.Name,
			"request_id", requestID,
			"code", usecase.CodeOf(err),
			"error", err,
		)
		env = toolResponse{Status: statusError, Message: toolErrorMessage(err)}
	} else {
		env = toolResponse{
			Status:           statusSuccess,
			Message:          out.Message,
			ConversationID:   &out.ConversationID,
			Watermark:        &out.Watermark,
			AdaptiveCard:     out.AdaptiveCard,
			SuggestedActions: out.SuggestedActions,
		}
	}

	text, mErr := json.Marshal(env)
	if mErr != nil {
		s.logger.Error("failed to encode tool result", "request_id", requestID, "error", mErr)
		return errorResponse(req.ID, JSONRPCInternalError, "failed to encode tool result")
	}
	return resultResponse(req.ID, MCPCallToolResult{
		Content:           []MCPContent{{Type: "text", Text: string(text)}},
		StructuredContent: env,
		IsError:           err != nil,
	})
}

func toolErrorMessage(err error) string {
	if usecase.CodeOf(err) == usecase.ErrorNotInitialized {
		return notInitializedMessage
	}
	return queryFailedPrefix + err.Error()
}

func resultResponse(id json.RawMessage, result any) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
}

package domain

// TranscriptTurn is a single persisted exchange, kept for audit only.
type TranscriptTurn struct {
	PK             string
	SK             string
	ConversationID string
	Query          string
	Reply          string
	HasCard        bool
	Watermark      string
	CorrelationID  string
	TTL            int64
}

// ConversationMeta stores aggregate transcript state for a conversation.
type ConversationMeta struct {
	PK             string
	SK             string
	ConversationID string
	LastActivity   string
	LastWatermark  string
	Turns          int
	TTL            int64
}

// AgentDefinition describes the remote bot to tool callers.
type AgentDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"copilot-connector/internal/domain"
)

// Config holds process configuration. It is read once at startup; nothing
// below cmd/ reads the environment.
type Config struct {
	DirectLineEndpoint string
	AgentSecret        string
	// ParamPrefix locates the secret in SSM ({prefix}/directline-secret) when
	// AgentSecret is not set.
	ParamPrefix         string
	SecretCacheTTL      time.Duration
	PollInterval        time.Duration
	ExchangeTimeout     time.Duration
	MaxMessageLength    int
	TranscriptTable     string
	AgentDefinitionPath string
	MCPAddr             string
	LogLevel            string
}

// Load reads configuration from the environment after applying an optional
// .env file from the working directory.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "err", err)
	}
	return &Config{
		DirectLineEndpoint:  getEnv("DIRECTLINE_ENDPOINT", ""),
		AgentSecret:         getEnv("COPILOT_AGENT_SECRET", ""),
		ParamPrefix:         strings.TrimRight(getEnv("PARAM_PREFIX", ""), "/"),
		SecretCacheTTL:      getEnvAsDuration("SECRET_CACHE_TTL", 5*time.Minute),
		PollInterval:        getEnvAsDuration("POLL_INTERVAL", time.Second),
		ExchangeTimeout:     getEnvAsDuration("EXCHANGE_TIMEOUT", 2*time.Minute),
		MaxMessageLength:    getEnvAsInt("MAX_MESSAGE_LENGTH", 4000),
		TranscriptTable:     getEnv("TRANSCRIPT_TABLE", ""),
		AgentDefinitionPath: getEnv("AGENT_DEFINITION_PATH", "agent_definition.json"),
		MCPAddr:             getEnv("MCP_ADDR", ":8080"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}
}

// SecretParameterName is the SSM name of the Direct Line secret.
func (c *Config) SecretParameterName() string {
	if c.ParamPrefix == "" {
		return ""
	}
	return c.ParamPrefix + "/directline-secret"
}

// Validate reports what is missing for the Direct Line client. A process
// with an invalid config still starts; queries then fail as not initialized.
func (c *Config) Validate() error {
	var missing []string
	if c.DirectLineEndpoint == "" {
		missing = append(missing, "DIRECTLINE_ENDPOINT")
	}
	if c.AgentSecret == "" && c.ParamPrefix == "" {
		missing = append(missing, "COPILOT_AGENT_SECRET or PARAM_PREFIX")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SlogLevel maps LogLevel to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// DefaultAgentDefinition is used when no definition file is available.
var DefaultAgentDefinition = domain.AgentDefinition{
	Name:        "Copilot Agent",
	Description: "An agent that runs in the Microsoft copilot studio.",
}

// LoadAgentDefinition reads {"name","description"} from path, falling back
// to DefaultAgentDefinition when the file is missing or unusable.
func LoadAgentDefinition(path string) domain.AgentDefinition {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("agent definition not found, using default", "path", path)
		} else {
			slog.Error("failed to read agent definition", "path", path, "err", err)
		}
		return DefaultAgentDefinition
	}

	var def domain.AgentDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		slog.Error("failed to parse agent definition", "path", path, "err", err)
		return DefaultAgentDefinition
	}
	def.Name = strings.TrimSpace(def.Name)
	def.Description = strings.TrimSpace(def.Description)
	if def.Name == "" || def.Description == "" {
		slog.Error("agent definition requires name and description", "path", path)
		return DefaultAgentDefinition
	}
	return def
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

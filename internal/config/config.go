// Package config provides configuration for the compliance chat service.
package config

import (
	"os"
	"strconv"
	"time"
)

// DefaultGreeting seeds every new conversation.
const DefaultGreeting = "Hello! I'm your ESG compliance AI assistant. I can help you with queries about vendor compliance, regulations, audit results, and ESG metrics. How can I assist you today?"

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Chat endpoint settings
	ChatURL         string
	ChatToken       string
	ChatTimeout     time.Duration
	MaxFrameRetries int
	RequireDone     bool
	Greeting        string
	MockEndpoint    bool

	// Roles
	BootstrapAdmin string
	DefaultRole    string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:     getEnv("DATABASE_URL", "file:esgchat.db?cache=shared&mode=rwc"),
		ChatURL:         getEnv("CHAT_URL", "http://localhost:8080/mock/v1/chat/completions"),
		ChatToken:       getEnv("CHAT_TOKEN", ""),
		ChatTimeout:     time.Duration(getEnvInt("CHAT_TIMEOUT_MS", 30000)) * time.Millisecond,
		MaxFrameRetries: getEnvInt("CHAT_MAX_FRAME_RETRIES", 8),
		RequireDone:     getEnvBool("CHAT_REQUIRE_DONE", false),
		Greeting:        getEnv("CHAT_GREETING", DefaultGreeting),
		MockEndpoint:    getEnvBool("MOCK_ENDPOINT", true),
		BootstrapAdmin:  getEnv("BOOTSTRAP_ADMIN", ""),
		DefaultRole:     getEnv("DEFAULT_ROLE", "viewer"),
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioPhoneNumber   string
	TwilioWebhookSecret string

	// DecisionProvider selects the LLM backend: "gemini" or "bedrock".
	DecisionProvider string
	GeminiAPIKey     string
	GeminiModelID    string
	BedrockModelID   string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	ResultsTable        string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AdminJWTSecret string

	// Interview tuning knobs.
	CallCooldown         time.Duration
	MinAnsweredQuestions int
	ArchiveIncomplete    bool
	NotifySMS            bool
	DisabledCCQuestions  []int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioPhoneNumber:   getEnv("TWILIO_PHONE_NUMBER", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		DecisionProvider: strings.ToLower(strings.TrimSpace(getEnv("DECISION_PROVIDER", "gemini"))),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:    getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ResultsTable:        getEnv("RESULTS_TABLE", "interview_results"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CallCooldown:         getEnvAsDuration("CALL_COOLDOWN", 120*time.Second),
		MinAnsweredQuestions: getEnvAsInt("MIN_ANSWERED", 5),
		ArchiveIncomplete:    getEnvAsBool("ARCHIVE_INCOMPLETE", false),
		NotifySMS:            getEnvAsBool("NOTIFY_SMS", true),
		DisabledCCQuestions:  getEnvAsIntList("DISABLED_CC_QUESTIONS"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

// getEnvAsIntList parses a comma-separated list of integers, skipping junk.
func getEnvAsIntList(key string) []int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(valueStr, ",") {
		if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, v)
		}
	}
	return out
}

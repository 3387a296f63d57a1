package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AccountConfig holds per-account provider settings. Keys may be overridden
// per account with an "<ACCOUNT>_" env prefix (upper-cased account id),
// falling back to the unprefixed global value.
type AccountConfig struct {
	ID           string
	MailProvider string // "gmail" or "imap"
	Mailbox      string

	// Gmail
	GmailAddress      string
	GmailAccessToken  string
	GmailRefreshToken string

	// IMAP
	IMAPHost     string
	IMAPUsername string
	IMAPPassword string
}

type Config struct {
	Accounts []AccountConfig

	// OAuth application credentials shared by all Gmail accounts.
	GoogleClientID     string
	GoogleClientSecret string

	// Gmail push notifications.
	GoogleProjectID       string
	GmailPubSubTopic      string
	GoogleCredentialsFile string

	// Inference provider.
	AIProvider      string // "lmstudio", "ollama", "gemini" or "auto"
	LMStudioBaseURL string
	LMStudioModel   string
	OllamaBaseURL   string
	OllamaModel     string
	GeminiAPIKey    string
	GeminiModel     string
	InferTimeout    time.Duration

	// Decision engine.
	ConfidenceThreshold float64
	CorrectionThreshold int
	CorrectionWindow    int
	BatchSize           int
	JunkLabel           string
	ThreadMode          bool

	DBPath   string
	LogLevel string
}

// Load reads configuration from the environment, loading a .env file first
// if one exists.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleProjectID:       getEnv("GOOGLE_PROJECT_ID", ""),
		GmailPubSubTopic:      getEnv("GMAIL_PUBSUB_TOPIC", "gmail-updates"),
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", ""),
		AIProvider:            getEnv("AI_PROVIDER", "auto"),
		LMStudioBaseURL:       getEnv("LMSTUDIO_BASE_URL", "http://localhost:1234"),
		LMStudioModel:         getEnv("LMSTUDIO_MODEL", "mistral"),
		OllamaBaseURL:         getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:           getEnv("OLLAMA_MODEL", "llama3"),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		InferTimeout:          getDuration("INFER_TIMEOUT", 30*time.Second),
		ConfidenceThreshold:   getFloat("CONFIDENCE_THRESHOLD", 0.9),
		CorrectionThreshold:   getInt("CORRECTION_THRESHOLD", 2),
		CorrectionWindow:      getInt("CORRECTION_WINDOW", 20),
		BatchSize:             getInt("BATCH_SIZE", 25),
		JunkLabel:             getEnv("JUNK_LABEL", "Junk-Candidate"),
		ThreadMode:            getBool("THREAD_MODE", true),
		DBPath:                getEnv("DB_PATH", "mailtriage.db"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
	}

	for _, id := range splitList(getEnv("ACCOUNTS", "default")) {
		prefix := strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_"
		cfg.Accounts = append(cfg.Accounts, AccountConfig{
			ID:                id,
			MailProvider:      getScoped(prefix, "MAIL_PROVIDER", "gmail"),
			Mailbox:           getScoped(prefix, "SOURCE_MAILBOX", "INBOX"),
			GmailAddress:      getScoped(prefix, "GMAIL_ADDRESS", ""),
			GmailAccessToken:  getScoped(prefix, "GMAIL_ACCESS_TOKEN", ""),
			GmailRefreshToken: getScoped(prefix, "GMAIL_REFRESH_TOKEN", ""),
			IMAPHost:          getScoped(prefix, "IMAP_HOST", ""),
			IMAPUsername:      getScoped(prefix, "IMAP_USERNAME", ""),
			IMAPPassword:      getScoped(prefix, "IMAP_PASSWORD", ""),
		})
	}

	return cfg
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getScoped(prefix, key, defaultValue string) string {
	if value := os.Getenv(prefix + key); value != "" {
		return value
	}
	return getEnv(key, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Package config loads the service settings from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"pettycash/internal/extract"
	"pettycash/internal/gcp"
)

// Backend names.
const (
	LedgerSheets = "sheets"
	LedgerMemory = "memory"

	OCRVision = "vision"
	OCRGemini = "gemini"
	OCRStatic = "static"

	DocstoreSQLite    = "sqlite"
	DocstoreFirestore = "firestore"
	DocstoreMemory    = "memory"
)

var (
	validLedgerBackends   = []string{LedgerSheets, LedgerMemory}
	validOCRBackends      = []string{OCRVision, OCRGemini, OCRStatic}
	validDocstoreBackends = []string{DocstoreSQLite, DocstoreFirestore, DocstoreMemory}
)

type Config struct {
	// HTTP Server
	Port               string
	MaxUploadBytes     int64
	RateLimitPerMinute int
	ShutdownTimeout    time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Ledger
	LedgerBackend                string
	LedgerTitlePrefix            string
	LedgerSheetName              string
	LedgerDriveFolderID          string
	LedgerProvisionOnLookupError bool
	LedgerIDCacheTTL             time.Duration

	// Google credentials, shared by every Google client
	GoogleServiceAccountJSON     string
	GoogleServiceAccountFile     string
	GoogleApplicationCredentials string
	GoogleOAuthClientFile        string
	GoogleOAuthTokenFile         string
	GoogleOAuthClientJSON        string
	GoogleOAuthTokenJSON         string

	// OCR
	OCRBackend    string
	OCRStaticText string
	GeminiModel   string

	// Extraction
	ExtractRuleSet   string
	ExtractRulesFile string

	// Document store
	DocstoreBackend     string
	SQLiteDBPath        string
	FirestoreProjectID  string
	FirestoreCollection string

	// Receipt archive; empty disables it
	ReceiptBucket string

	// AMQP; empty URL disables event publishing
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		LedgerBackend:                getEnv("LEDGER_BACKEND", LedgerSheets),
		LedgerTitlePrefix:            getEnv("LEDGER_TITLE_PREFIX", "Petty Cash_"),
		LedgerSheetName:              getEnv("LEDGER_SHEET_NAME", "Sheet1"),
		LedgerDriveFolderID:          getEnv("LEDGER_DRIVE_FOLDER_ID", ""),
		LedgerProvisionOnLookupError: getEnvBool("LEDGER_PROVISION_ON_LOOKUP_ERROR", false),
		LedgerIDCacheTTL:             getEnvDuration("LEDGER_ID_CACHE_TTL", 0),

		GoogleServiceAccountJSON:     getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile:     getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleApplicationCredentials: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
		GoogleOAuthClientFile:        getEnv("GOOGLE_OAUTH_CLIENT_FILE", ""),
		GoogleOAuthTokenFile:         getEnv("GOOGLE_OAUTH_TOKEN_FILE", ""),
		GoogleOAuthClientJSON:        getEnv("GOOGLE_OAUTH_CLIENT_JSON", ""),
		GoogleOAuthTokenJSON:         getEnv("GOOGLE_OAUTH_TOKEN_JSON", ""),

		OCRBackend:    getEnv("OCR_BACKEND", OCRVision),
		OCRStaticText: getEnv("OCR_STATIC_TEXT", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", ""),

		ExtractRuleSet:   getEnv("EXTRACT_RULESET", extract.DefaultRuleSet),
		ExtractRulesFile: getEnv("EXTRACT_RULES_FILE", ""),

		DocstoreBackend:     getEnv("DOCSTORE_BACKEND", DocstoreSQLite),
		SQLiteDBPath:        getEnv("SQLITE_DB_PATH", "./data/pettycash.db"),
		FirestoreProjectID:  getEnv("FIRESTORE_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		FirestoreCollection: getEnv("FIRESTORE_COLLECTION", "reimbursement_forms"),

		ReceiptBucket: getEnv("RECEIPT_BUCKET", ""),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "pettycash"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "receipt.submitted"),
	}
}

// Credentials returns the Google credential settings.
func (c *Config) Credentials() gcp.Credentials {
	return gcp.Credentials{
		ServiceAccountJSON:     c.GoogleServiceAccountJSON,
		ServiceAccountFile:     c.GoogleServiceAccountFile,
		ApplicationCredentials: c.GoogleApplicationCredentials,
		OAuthClientJSON:        c.GoogleOAuthClientJSON,
		OAuthClientFile:        c.GoogleOAuthClientFile,
		OAuthTokenJSON:         c.GoogleOAuthTokenJSON,
		OAuthTokenFile:         c.GoogleOAuthTokenFile,
	}
}

// UsesGoogle reports whether any configured backend talks to Google APIs.
func (c *Config) UsesGoogle() bool {
	return c.LedgerBackend == LedgerSheets ||
		c.OCRBackend == OCRVision ||
		c.DocstoreBackend == DocstoreFirestore ||
		c.ReceiptBucket != ""
}

// Validate validates the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.MaxUploadBytes < 1024 {
		errors = append(errors, fmt.Sprintf("invalid max upload size %d: must be at least 1024 bytes", c.MaxUploadBytes))
	}
	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.ShutdownTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid shutdown timeout %v: must be at least 1 second", c.ShutdownTimeout))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if !slices.Contains(validLedgerBackends, c.LedgerBackend) {
		errors = append(errors, fmt.Sprintf("invalid ledger backend '%s': must be one of %v", c.LedgerBackend, validLedgerBackends))
	}
	if strings.TrimSpace(c.LedgerTitlePrefix) == "" {
		errors = append(errors, "ledger title prefix cannot be empty")
	}
	if c.LedgerIDCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid ledger id cache TTL %v: must not be negative", c.LedgerIDCacheTTL))
	}
	if strings.TrimSpace(c.LedgerSheetName) == "" {
		errors = append(errors, "ledger sheet name cannot be empty")
	}

	if !slices.Contains(validOCRBackends, c.OCRBackend) {
		errors = append(errors, fmt.Sprintf("invalid OCR backend '%s': must be one of %v", c.OCRBackend, validOCRBackends))
	}

	if c.ExtractRulesFile != "" {
		if _, err := os.Stat(c.ExtractRulesFile); err != nil {
			errors = append(errors, fmt.Sprintf("extraction rules file not readable: %s", c.ExtractRulesFile))
		}
	} else if !slices.Contains(extract.BuiltinNames(), c.ExtractRuleSet) {
		errors = append(errors, fmt.Sprintf("unknown extraction rule set '%s': must be one of %v", c.ExtractRuleSet, extract.BuiltinNames()))
	}

	if !slices.Contains(validDocstoreBackends, c.DocstoreBackend) {
		errors = append(errors, fmt.Sprintf("invalid docstore backend '%s': must be one of %v", c.DocstoreBackend, validDocstoreBackends))
	}
	switch c.DocstoreBackend {
	case DocstoreSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite docstore")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	case DocstoreFirestore:
		if c.FirestoreProjectID == "" {
			errors = append(errors, "FIRESTORE_PROJECT_ID is required when using firestore docstore")
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.UsesGoogle() {
		hasClient := c.GoogleOAuthClientFile != "" || c.GoogleOAuthClientJSON != ""
		hasToken := c.GoogleOAuthTokenFile != "" || c.GoogleOAuthTokenJSON != ""
		if hasClient && !hasToken && c.Credentials().Source() == "oauth_user" {
			errors = append(errors, "either GOOGLE_OAUTH_TOKEN_FILE or GOOGLE_OAUTH_TOKEN_JSON must be provided with an OAuth client")
		}
		for name, path := range map[string]string{
			"Google service account file": c.GoogleServiceAccountFile,
			"Google OAuth client file":    c.GoogleOAuthClientFile,
			"Google OAuth token file":     c.GoogleOAuthTokenFile,
		} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("%s does not exist: %s", name, path))
			}
		}
	}

	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

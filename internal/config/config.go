package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Sheets drivers.
const (
	SheetsDriverGoogle = "google"
	SheetsDriverMemory = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	Server   ServerConfig
	WhatsApp WhatsAppConfig
	Sheets   SheetsConfig
	Cache    CacheConfig
	Schedule ScheduleConfig
	MongoDB  MongoDBConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port     string
	LogLevel string
}

// WhatsAppConfig contains credentials and options for the Meta WhatsApp Cloud API.
type WhatsAppConfig struct {
	AccessToken   string
	PhoneNumberID string
	VerifyToken   string
	BaseURL       string
	APIVersion    string
}

// SheetsConfig contains configuration required to reach the backing spreadsheet.
type SheetsConfig struct {
	Driver          string
	CredentialsPath string
	SpreadsheetID   string
	Timeout         time.Duration
}

// CacheConfig bounds how stale a table snapshot may get.
type CacheConfig struct {
	TTL time.Duration
}

// ScheduleConfig holds daily dispatcher settings.
type ScheduleConfig struct {
	DailyCron       string
	Timezone        string
	DispatchTimeout time.Duration
}

// Location resolves the configured timezone.
func (c ScheduleConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

// MongoDBConfig holds settings for the archive. An empty URI disables it.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// Enabled reports whether the archive should be connected.
func (c MongoDBConfig) Enabled() bool { return c.URI != "" }

// Load reads environment variables (optionally from the provided file) and
// materializes a Config instance.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed loading env file %s: %w", envFile, err)
			}
		}
	} else {
		// Missing .env files are fine when configuration comes from the environment.
		_ = godotenv.Load()
	}

	sheetsTimeout, err := getDurationWithDefault("SHEETS_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := getDurationWithDefault("CACHE_TTL", 60*time.Second)
	if err != nil {
		return nil, err
	}
	dispatchTimeout, err := getDurationWithDefault("DISPATCH_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     getenvWithDefault("APP_PORT", "8080"),
			LogLevel: getenvWithDefault("LOG_LEVEL", "info"),
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:   os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID: os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			VerifyToken:   os.Getenv("META_VERIFY_TOKEN"),
			BaseURL:       getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:    getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
		},
		Sheets: SheetsConfig{
			Driver:          getenvWithDefault("SHEETS_DRIVER", SheetsDriverGoogle),
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			SpreadsheetID:   os.Getenv("GOOGLE_SHEET_DATABASE_ID"),
			Timeout:         sheetsTimeout,
		},
		Cache: CacheConfig{
			TTL: cacheTTL,
		},
		Schedule: ScheduleConfig{
			DailyCron:       getenvWithDefault("DAILY_CRON_SCHEDULE", "0 9 * * *"),
			Timezone:        getenvWithDefault("TIMEZONE", "Europe/Podgorica"),
			DispatchTimeout: dispatchTimeout,
		},
		MongoDB: MongoDBConfig{
			URI:    os.Getenv("MONGODB_URI"),
			DBName: getenvWithDefault("MONGODB_DB_NAME", "affinage"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures that required configuration fields are populated.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if c.Server.Port == "" {
		return errors.New("APP_PORT must be provided")
	}

	switch {
	case c.WhatsApp.AccessToken == "":
		return errors.New("WHATSAPP_TOKEN must be provided")
	case c.WhatsApp.PhoneNumberID == "":
		return errors.New("WHATSAPP_PHONE_NUMBER_ID must be provided")
	case c.WhatsApp.VerifyToken == "":
		return errors.New("META_VERIFY_TOKEN must be provided")
	}

	if c.WhatsApp.BaseURL == "" {
		return errors.New("WHATSAPP_BASE_URL must not be empty")
	}

	if c.WhatsApp.APIVersion == "" {
		return errors.New("WHATSAPP_API_VERSION must not be empty")
	}

	switch c.Sheets.Driver {
	case SheetsDriverGoogle:
		if c.Sheets.CredentialsPath == "" {
			return errors.New("GOOGLE_SHEETS_CREDENTIALS_PATH must be provided")
		}
		if c.Sheets.SpreadsheetID == "" {
			return errors.New("GOOGLE_SHEET_DATABASE_ID must be provided")
		}
	case SheetsDriverMemory:
	default:
		return fmt.Errorf("SHEETS_DRIVER %q is not supported", c.Sheets.Driver)
	}

	if c.Sheets.Timeout <= 0 {
		return errors.New("SHEETS_TIMEOUT must be positive")
	}

	if c.Cache.TTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}

	if c.Schedule.DailyCron == "" {
		return errors.New("DAILY_CRON_SCHEDULE must be provided")
	}

	if c.Schedule.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}

	if _, err := c.Schedule.Location(); err != nil {
		return err
	}

	if c.Schedule.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be positive")
	}

	if c.MongoDB.Enabled() && c.MongoDB.DBName == "" {
		return errors.New("MONGODB_DB_NAME must be provided when MONGODB_URI is set")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

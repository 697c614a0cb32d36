package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMongoDB = "mongodb"
	StoreMemory  = "memory"
)

// Config represents the full application configuration surface.
type Config struct {
	LogLevel  string
	Server    ServerConfig
	Store     StoreConfig
	Device    DeviceConfig
	WhatsApp  WhatsAppConfig
	Sheets    SheetsConfig
	Reporting ReportingConfig
}

// ServerConfig holds HTTP server related options.
type ServerConfig struct {
	Port         string
	AllowOrigins []string
}

// StoreConfig selects and configures the local replica.
type StoreConfig struct {
	Driver  string
	MongoDB MongoDBConfig
}

// MongoDBConfig holds settings for MongoDB.
type MongoDBConfig struct {
	URI    string
	DBName string
}

// DeviceConfig identifies this device when minting queue sequence numbers.
type DeviceConfig struct {
	NodeID int64
}

// WhatsAppConfig contains credentials for the Meta WhatsApp Cloud API used
// for supervisor alerts. Alerts are off when AccessToken is empty.
type WhatsAppConfig struct {
	AccessToken     string
	PhoneNumberID   string
	BaseURL         string
	APIVersion      string
	SupervisorPhone string
}

// Enabled reports whether alerts can be sent.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != ""
}

// SheetsConfig configures the posted-note manifest export.
type SheetsConfig struct {
	CredentialsPath string
	ManifestID      string
}

// Enabled reports whether the manifest export is configured.
func (c SheetsConfig) Enabled() bool {
	return c.CredentialsPath != "" && c.ManifestID != ""
}

// ReportingConfig holds scheduler-related settings.
type ReportingConfig struct {
	CronSchedule string
	Timezone     string
}

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
		// A missing .env is fine when everything comes from the environment.
		_ = godotenv.Load()
	}

	nodeID, err := strconv.ParseInt(getenvWithDefault("DEVICE_NODE_ID", "1"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("DEVICE_NODE_ID must be an integer: %w", err)
	}

	cfg := &Config{
		LogLevel: os.Getenv("LOG_LEVEL"),
		Server: ServerConfig{
			Port:         getenvWithDefault("APP_PORT", "8080"),
			AllowOrigins: splitList(getenvWithDefault("CORS_ALLOW_ORIGINS", "http://localhost:1420,tauri://localhost")),
		},
		Store: StoreConfig{
			Driver: getenvWithDefault("STORE_DRIVER", StoreMongoDB),
			MongoDB: MongoDBConfig{
				URI:    os.Getenv("MONGODB_URI"),
				DBName: getenvWithDefault("MONGODB_DB_NAME", "fieldops"),
			},
		},
		Device: DeviceConfig{
			NodeID: nodeID,
		},
		WhatsApp: WhatsAppConfig{
			AccessToken:     os.Getenv("WHATSAPP_TOKEN"),
			PhoneNumberID:   os.Getenv("WHATSAPP_PHONE_NUMBER_ID"),
			BaseURL:         getenvWithDefault("WHATSAPP_BASE_URL", "https://graph.facebook.com"),
			APIVersion:      getenvWithDefault("WHATSAPP_API_VERSION", "v20.0"),
			SupervisorPhone: os.Getenv("SUPERVISOR_PHONE"),
		},
		Sheets: SheetsConfig{
			CredentialsPath: os.Getenv("GOOGLE_SHEETS_CREDENTIALS_PATH"),
			ManifestID:      os.Getenv("GOOGLE_SHEET_MANIFEST_ID"),
		},
		Reporting: ReportingConfig{
			CronSchedule: getenvWithDefault("REPORT_CRON_SCHEDULE", "0 18 * * *"),
			Timezone:     getenvWithDefault("TIMEZONE", "Africa/Harare"),
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

	switch c.Store.Driver {
	case StoreMongoDB:
		if c.Store.MongoDB.URI == "" {
			return errors.New("MONGODB_URI must be provided when STORE_DRIVER is mongodb")
		}
		if c.Store.MongoDB.DBName == "" {
			return errors.New("MONGODB_DB_NAME must not be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("STORE_DRIVER %q is not supported", c.Store.Driver)
	}

	if c.Device.NodeID < 0 || c.Device.NodeID > 1023 {
		return fmt.Errorf("DEVICE_NODE_ID must be between 0 and 1023, got %d", c.Device.NodeID)
	}

	if c.WhatsApp.Enabled() {
		switch {
		case c.WhatsApp.PhoneNumberID == "":
			return errors.New("WHATSAPP_PHONE_NUMBER_ID must be provided")
		case c.WhatsApp.SupervisorPhone == "":
			return errors.New("SUPERVISOR_PHONE must be provided")
		case c.WhatsApp.BaseURL == "":
			return errors.New("WHATSAPP_BASE_URL must not be empty")
		case c.WhatsApp.APIVersion == "":
			return errors.New("WHATSAPP_API_VERSION must not be empty")
		}
	}

	if c.Reporting.CronSchedule == "" {
		return errors.New("REPORT_CRON_SCHEDULE must be provided")
	}

	if c.Reporting.Timezone == "" {
		return errors.New("TIMEZONE must be provided")
	}

	return nil
}

func getenvWithDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

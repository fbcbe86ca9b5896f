package config

import (
	"errors"
	"fmt"
	"os"

	"darshan/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Token      TokenConfig      `yaml:"token"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	Timezone    string `yaml:"timezone"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	CancelCutoffHours int `yaml:"cancel_cutoff_hours"`
	MaxPartySize      int `yaml:"max_party_size"`
	TxRetries         int `yaml:"tx_retries"`
}

type TokenConfig struct {
	Secret string `yaml:"secret"`
	// MaxAgeHours bounds token age on decode. Zero disables the check;
	// date matching at the gate is the effective policy.
	MaxAgeHours int `yaml:"max_age_hours"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен, но подхватываем если есть
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Token.Secret == "" || c.Token.Secret == "CHANGE_ME" {
		return errors.New("token secret is required")
	}

	if c.Booking.MaxPartySize > models.MaxPartySize {
		return fmt.Errorf("booking max_party_size must not exceed %d", models.MaxPartySize)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.Auth.Enabled && c.API.Enabled {
		c.API.Auth.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Booking.CancelCutoffHours == 0 {
		c.Booking.CancelCutoffHours = models.DefaultCancelCutoffHours
	}
	if c.Booking.MaxPartySize == 0 {
		c.Booking.MaxPartySize = models.MaxPartySize
	}
	if c.Booking.TxRetries == 0 {
		c.Booking.TxRetries = 3
	}

	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Kolkata"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// ValidateSlots checks a slot seed list for duplicate or empty IDs before
// it is handed to the database.
func ValidateSlots(slots []models.Slot) error {
	slotIDs := make(map[string]bool)
	for _, slot := range slots {
		if slot.ID == "" {
			return fmt.Errorf("slot %s %s has empty ID", slot.Date, slot.StartTime)
		}
		if slotIDs[slot.ID] {
			return fmt.Errorf("duplicate slot ID found: %s", slot.ID)
		}
		if slot.Capacity <= 0 {
			return fmt.Errorf("slot %s has non-positive capacity %d", slot.ID, slot.Capacity)
		}
		slotIDs[slot.ID] = true
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	ServicePort int
	UserID      string
	Log         LogConfig
	Broker      BrokerConfig
	Store       StoreConfig
	Feeder      FeederConfig
}

// LogConfig holds logger settings
type LogConfig struct {
	Level string
	// File enables a rotating JSON log file in addition to stdout when set
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// BrokerConfig holds pub/sub broker connection settings
type BrokerConfig struct {
	// Transport is "mqtt" or "amqp"
	Transport       string
	URL             string
	Username        string
	Password        string
	ClientIDPrefix  string
	KeepAlive       time.Duration
	CleanSession    bool
	ReconnectPeriod time.Duration
	ConnectTimeout  time.Duration
	// Exchange is only used by the amqp transport
	Exchange string
}

// StoreConfig holds document store settings
type StoreConfig struct {
	// Driver is "memory" or "postgres"
	Driver        string
	DatabaseURL   string
	NotifyChannel string
	// MaxConns excludes the connection held by the change listener
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultMaxPhotoBytes is 0.7 MB of decoded image data
const DefaultMaxPhotoBytes = 734003

// FeederConfig holds feeder behaviour settings
type FeederConfig struct {
	FeedRatePerMinute int
	FeedBurst         int
	MaxPhotoBytes     int
	LowStoragePercent float64
	ConnectOnStartup  bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "pawtelligent-feeder"),
		ServicePort: getEnvAsInt("SERVICE_PORT", 8081),
		UserID:      getEnv("FEEDER_USER_ID", ""),
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 10),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 28),
		},
		Broker: BrokerConfig{
			Transport:       strings.ToLower(getEnv("BROKER_TRANSPORT", "mqtt")),
			URL:             getEnv("BROKER_URL", ""),
			Username:        getEnv("BROKER_USERNAME", ""),
			Password:        getEnv("BROKER_PASSWORD", ""),
			ClientIDPrefix:  getEnv("BROKER_CLIENT_ID_PREFIX", "pawtelligent"),
			KeepAlive:       getEnvAsDuration("BROKER_KEEPALIVE", 60*time.Second),
			CleanSession:    getEnvAsBool("BROKER_CLEAN_SESSION", true),
			ReconnectPeriod: getEnvAsDuration("BROKER_RECONNECT_PERIOD", 5*time.Second),
			ConnectTimeout:  getEnvAsDuration("BROKER_CONNECT_TIMEOUT", 30*time.Second),
			Exchange:        getEnv("BROKER_EXCHANGE", "amq.topic"),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(getEnv("STORE_DRIVER", "memory")),
			DatabaseURL:   getEnv("DATABASE_URL", ""),
			NotifyChannel: getEnv("STORE_NOTIFY_CHANNEL", "feeder_changes"),

			MaxConns:        int32(getEnvAsInt("DATABASE_MAX_CONNS", 8)),
			MinConns:        int32(getEnvAsInt("DATABASE_MIN_CONNS", 1)),
			MaxConnIdleTime: getEnvAsDuration("DATABASE_MAX_CONN_IDLE", 5*time.Minute),
			ConnectTimeout:  getEnvAsDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
		},
		Feeder: FeederConfig{
			FeedRatePerMinute: getEnvAsInt("FEED_RATE_PER_MINUTE", 6),
			FeedBurst:         getEnvAsInt("FEED_BURST", 2),
			MaxPhotoBytes:     getEnvAsInt("MAX_PHOTO_BYTES", DefaultMaxPhotoBytes),
			LowStoragePercent: getEnvAsFloat("LOW_STORAGE_PERCENT", 0.15),
			ConnectOnStartup:  getEnvAsBool("CONNECT_ON_STARTUP", true),
		},
	}

	// Validate required fields
	if cfg.UserID == "" {
		return nil, fmt.Errorf("FEEDER_USER_ID is required but not set in environment variables")
	}
	if cfg.Broker.URL == "" {
		return nil, fmt.Errorf("BROKER_URL is required but not set in environment variables")
	}
	switch cfg.Broker.Transport {
	case "mqtt", "amqp":
	default:
		return nil, fmt.Errorf("BROKER_TRANSPORT must be mqtt or amqp, got %q", cfg.Broker.Transport)
	}
	switch cfg.Store.Driver {
	case "memory":
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be memory or postgres, got %q", cfg.Store.Driver)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go durations ("5s") or plain seconds ("5")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

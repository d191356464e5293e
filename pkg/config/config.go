package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database     DatabaseConfig
	Redis        RedisConfig
	CORS         CORSConfig
	Log          LogConfig
	Availability AvailabilityConfig
	Cache        CacheConfig
	Jobs         JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// Upper bounds for business-rule values. Larger values are clamped on load and
// rejected on instructor update.
const (
	MaxAdvanceBookingHours = 24 * 366
	MaxBufferTimeMinutes   = 24 * 60
	MaxPastEditWindowDays  = 366
)

// AvailabilityConfig holds the global business-rule defaults. Instructor rows
// in instructor_availability_settings override them field by field.
type AvailabilityConfig struct {
	DefaultTimezone        string
	MinAdvanceBookingHours int
	BufferTimeMinutes      int
	PastEditWindowDays     int
	ClampCopyToFuture      bool
	AllowPastEdits         bool
	MaxRangeDays           int
}

// CacheConfig tunes the availability read cache.
type CacheConfig struct {
	Enabled  bool
	HotTTL   time.Duration
	WarmTTL  time.Duration
	HotWeeks int
}

// JobsConfig configures the background cache invalidation queue.
type JobsConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Availability = AvailabilityConfig{
		DefaultTimezone:        v.GetString("AVAILABILITY_DEFAULT_TIMEZONE"),
		MinAdvanceBookingHours: bounded(v.GetInt("AVAILABILITY_MIN_ADVANCE_BOOKING_HOURS"), MaxAdvanceBookingHours),
		BufferTimeMinutes:      bounded(v.GetInt("AVAILABILITY_BUFFER_TIME_MINUTES"), MaxBufferTimeMinutes),
		PastEditWindowDays:     bounded(v.GetInt("AVAILABILITY_PAST_EDIT_WINDOW_DAYS"), MaxPastEditWindowDays),
		ClampCopyToFuture:      v.GetBool("AVAILABILITY_CLAMP_COPY_TO_FUTURE"),
		AllowPastEdits:         v.GetBool("AVAILABILITY_ALLOW_PAST_EDITS"),
		MaxRangeDays:           v.GetInt("AVAILABILITY_MAX_RANGE_DAYS"),
	}
	if cfg.Availability.MaxRangeDays <= 0 {
		cfg.Availability.MaxRangeDays = 90
	}

	cfg.Cache = CacheConfig{
		Enabled:  v.GetBool("ENABLE_AVAILABILITY_CACHE"),
		HotTTL:   parseDuration(v.GetString("AVAILABILITY_CACHE_HOT_TTL"), 2*time.Minute),
		WarmTTL:  parseDuration(v.GetString("AVAILABILITY_CACHE_WARM_TTL"), 30*time.Minute),
		HotWeeks: v.GetInt("AVAILABILITY_CACHE_HOT_WEEKS"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("CACHE_INVALIDATION_WORKERS"),
		MaxRetries: v.GetInt("CACHE_INVALIDATION_RETRIES"),
		RetryDelay: parseDuration(v.GetString("CACHE_INVALIDATION_RETRY_DELAY"), 2*time.Second),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "instructor_availability")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AVAILABILITY_DEFAULT_TIMEZONE", "UTC")
	v.SetDefault("AVAILABILITY_MIN_ADVANCE_BOOKING_HOURS", 2)
	v.SetDefault("AVAILABILITY_BUFFER_TIME_MINUTES", 0)
	v.SetDefault("AVAILABILITY_PAST_EDIT_WINDOW_DAYS", 0)
	v.SetDefault("AVAILABILITY_CLAMP_COPY_TO_FUTURE", true)
	v.SetDefault("AVAILABILITY_ALLOW_PAST_EDITS", false)
	v.SetDefault("AVAILABILITY_MAX_RANGE_DAYS", 90)

	v.SetDefault("ENABLE_AVAILABILITY_CACHE", true)
	v.SetDefault("AVAILABILITY_CACHE_HOT_TTL", "2m")
	v.SetDefault("AVAILABILITY_CACHE_WARM_TTL", "30m")
	v.SetDefault("AVAILABILITY_CACHE_HOT_WEEKS", 2)

	v.SetDefault("CACHE_INVALIDATION_WORKERS", 1)
	v.SetDefault("CACHE_INVALIDATION_RETRIES", 5)
	v.SetDefault("CACHE_INVALIDATION_RETRY_DELAY", "2s")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func bounded(n, max int) int {
	switch {
	case n < 0:
		return 0
	case n > max:
		return max
	}
	return n
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

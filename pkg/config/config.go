package config

import (
	"errors"
	"io/fs"
	"strconv"
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

	Database      DatabaseConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Log           LogConfig
	Dispatch      DispatchConfig
	Routing       RoutingConfig
	Quota         QuotaConfig
	Cache         CacheConfig
	Notifications NotificationConfig
	Metrics       MetricsConfig
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

// DispatchConfig holds eligibility ceilings used by the constraint filter.
// SubMaxDistanceKm is nil when assistants have no distance ceiling.
type DispatchConfig struct {
	InternMaxDistanceKm float64
	SubMaxDistanceKm    *float64
	MatcherTimeout      time.Duration
}

// RoutingConfig configures the external routing lookup.
type RoutingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// QuotaConfig bounds daily routing calls.
type QuotaConfig struct {
	DailyLimit int
	Timezone   string
}

// CacheConfig toggles the Redis read-through cache for distance lookups.
type CacheConfig struct {
	Enabled     bool
	DistanceTTL time.Duration
}

// NotificationConfig configures the notification hand-off worker pool.
type NotificationConfig struct {
	Enabled    bool
	WebhookURL string
	Workers    int
	Retries    int
	Timeout    time.Duration
}

type MetricsConfig struct {
	Enabled bool
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
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

	cfg.Dispatch = DispatchConfig{
		InternMaxDistanceKm: v.GetFloat64("INTERN_MAX_DISTANCE_KM"),
		SubMaxDistanceKm:    parseOptionalFloat(v.GetString("SUB_MAX_DISTANCE_KM")),
		MatcherTimeout:      parseDuration(v.GetString("MATCHER_TIMEOUT"), time.Minute),
	}

	cfg.Routing = RoutingConfig{
		BaseURL: v.GetString("ROUTING_BASE_URL"),
		APIKey:  v.GetString("ROUTING_API_KEY"),
		Timeout: parseDuration(v.GetString("ROUTING_TIMEOUT"), 5*time.Second),
		RPS:     v.GetFloat64("ROUTING_RPS"),
		Burst:   v.GetInt("ROUTING_BURST"),
	}

	cfg.Quota = QuotaConfig{
		DailyLimit: v.GetInt("DISTANCE_DAILY_QUOTA"),
		Timezone:   v.GetString("QUOTA_TIMEZONE"),
	}

	cfg.Cache = CacheConfig{
		Enabled:     v.GetBool("ENABLE_DISTANCE_CACHE"),
		DistanceTTL: parseDuration(v.GetString("DISTANCE_CACHE_TTL"), 24*time.Hour),
	}

	cfg.Notifications = NotificationConfig{
		Enabled:    v.GetBool("ENABLE_NOTIFICATIONS"),
		WebhookURL: v.GetString("NOTIFY_WEBHOOK_URL"),
		Workers:    v.GetInt("NOTIFY_WORKERS"),
		Retries:    v.GetInt("NOTIFY_RETRIES"),
		Timeout:    parseDuration(v.GetString("NOTIFY_TIMEOUT"), 10*time.Second),
	}

	cfg.Metrics = MetricsConfig{
		Enabled: v.GetBool("ENABLE_METRICS"),
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
	v.SetDefault("DB_NAME", "instructor_dispatch")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("INTERN_MAX_DISTANCE_KM", 100)
	v.SetDefault("SUB_MAX_DISTANCE_KM", "")
	v.SetDefault("MATCHER_TIMEOUT", "1m")

	v.SetDefault("ROUTING_BASE_URL", "https://maps.googleapis.com/maps/api/distancematrix/json")
	v.SetDefault("ROUTING_API_KEY", "")
	v.SetDefault("ROUTING_TIMEOUT", "5s")
	v.SetDefault("ROUTING_RPS", 10)
	v.SetDefault("ROUTING_BURST", 10)

	v.SetDefault("DISTANCE_DAILY_QUOTA", 2500)
	v.SetDefault("QUOTA_TIMEZONE", "UTC")

	v.SetDefault("ENABLE_DISTANCE_CACHE", true)
	v.SetDefault("DISTANCE_CACHE_TTL", "24h")

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_RETRIES", 3)
	v.SetDefault("NOTIFY_TIMEOUT", "10s")

	v.SetDefault("ENABLE_METRICS", true)
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

func parseOptionalFloat(raw string) *float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return nil
	}
	return &f
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

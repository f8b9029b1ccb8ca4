package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Database DatabaseConfig
	Alerts   AlertsConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port            string        `validate:"required,numeric"`
	Env             string        `validate:"oneof=development test staging production"`
	LogLevel        string        `validate:"oneof=debug info warn error"`
	ReadTimeout     time.Duration `validate:"gte=0"`
	WriteTimeout    time.Duration `validate:"gte=0"`
	IdleTimeout     time.Duration `validate:"gte=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	TrustedProxies  []string      `validate:"dive,cidr"`
	AllowedOrigins  []string      `validate:"dive,url"`
}

type AuthConfig struct {
	JWTSecret string `validate:"required"`
}

// SecurityConfig tunes the admission layer's background work
type SecurityConfig struct {
	SweepInterval          time.Duration `validate:"gt=0"`
	ThreatLookback         time.Duration `validate:"gt=0"`
	ThreatScanSchedule     string        `validate:"required"`
	EventQueueSize         int           `validate:"gt=0"`
	MaxEvents              int           `validate:"gt=0"`
	AuditBodyLimit         int64         `validate:"gt=0"`
	AdminRequestsPerMinute int           `validate:"gt=0"`
}

// DatabaseConfig is only used when the Postgres event archive is enabled
type DatabaseConfig struct {
	Enabled           bool
	Host              string `validate:"required_if=Enabled true"`
	Port              int    `validate:"gte=0,lte=65535"`
	User              string `validate:"required_if=Enabled true"`
	Password          string `validate:"required_if=Enabled true"`
	Name              string `validate:"required_if=Enabled true"`
	SSLMode           string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns          int32  `validate:"gte=0"`
	MinConns          int32  `validate:"gte=0"`
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// AlertsConfig enables SES notifications for high severity alerts
type AlertsConfig struct {
	Enabled     bool
	Region      string   `validate:"required_if=Enabled true"`
	From        string   `validate:"required_if=Enabled true"`
	Recipients  []string `validate:"required_if=Enabled true,dive,email"`
	MinSeverity string   `validate:"oneof=low medium high critical"`
}

type MetricsConfig struct {
	Enabled bool
	Path    string `validate:"startswith=/"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS"),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
		},
		Security: SecurityConfig{
			SweepInterval:          getEnvAsDuration("SECURITY_SWEEP_INTERVAL", 5*time.Minute),
			ThreatLookback:         getEnvAsDuration("SECURITY_THREAT_LOOKBACK", 24*time.Hour),
			ThreatScanSchedule:     getEnv("THREAT_SCAN_SCHEDULE", "@every 5m"),
			EventQueueSize:         getEnvAsInt("SECURITY_EVENT_QUEUE_SIZE", 1024),
			MaxEvents:              getEnvAsInt("SECURITY_MAX_EVENTS", 100000),
			AuditBodyLimit:         int64(getEnvAsInt("AUDIT_BODY_LIMIT", 64*1024)),
			AdminRequestsPerMinute: getEnvAsInt("SECURITY_ADMIN_RATE_LIMIT", 60),
		},
		Database: DatabaseConfig{
			Enabled:           getEnvAsBool("DB_ENABLED", false),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 1)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Alerts: AlertsConfig{
			Enabled:     getEnvAsBool("ALERTS_ENABLED", false),
			Region:      getEnv("AWS_REGION", ""),
			From:        getEnv("ALERTS_FROM", ""),
			Recipients:  getEnvAsList("ALERTS_RECIPIENTS"),
			MinSeverity: strings.ToLower(getEnv("ALERTS_MIN_SEVERITY", "high")),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// IPConfig builds the client IP extraction settings. With no trusted proxies
// configured, forwarding headers are honored from any peer.
func (c *ServerConfig) IPConfig() *pkghttp.IPConfig {
	return pkghttp.NewIPConfig(c.TrustedProxies, len(c.TrustedProxies) == 0)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma separated variable, dropping empty entries
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

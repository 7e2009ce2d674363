// Package config reads server configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Lock backends for subject-scoped transactions.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Server captures everything main needs to wire the service.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TxTimeout       time.Duration

	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration
	// AdminRole gates policy inspection endpoints.
	AdminRole string

	Database     DatabaseConfig
	Redis        RedisConfig
	LockBackend  string
	LockTTL      time.Duration
	Notification NotificationConfig
	Policy       PolicyConfig
	Audit        AuditConfig

	// SeedFile, when set, loads demo roles and subjects into the in-memory
	// stores at startup.
	SeedFile string
}

// DatabaseConfig configures the PostgreSQL pool. An empty URL selects the
// in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the Redis client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NotificationConfig selects the notification sinks.
type NotificationConfig struct {
	KafkaBrokers string
	Topic        string
	Buffer       int
	InboxSize    int
}

// AuditConfig tunes the audit outbox worker. Events go to Topic when Kafka
// brokers are configured and to the log otherwise.
type AuditConfig struct {
	Topic        string
	PollInterval time.Duration
	Retention    time.Duration
}

// PolicyConfig selects where rules come from.
type PolicyConfig struct {
	File                 string
	CacheTTL             time.Duration
	FallbackApproverRole string
}

// FromEnv builds a Server config from environment variables so main stays lean.
// Unparseable values fall back to their defaults.
func FromEnv() Server {
	return Server{
		Addr:            envString("ADDR", ":8080"),
		Environment:     envString("ENVIRONMENT", "development"),
		LogLevel:        envString("LOG_LEVEL", "info"),
		ReadTimeout:     envDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    envDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		TxTimeout:       envDuration("TX_TIMEOUT", 5*time.Second),

		// Development default; production deployments must override it.
		JWTSigningKey: envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:     envString("JWT_ISSUER", "qcgate"),
		TokenTTL:      envDuration("TOKEN_TTL", time.Hour),
		AdminRole:     envString("ADMIN_ROLE", "system_admin"),

		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		LockBackend: strings.ToLower(envString("LOCK_BACKEND", LockLocal)),
		LockTTL:     envDuration("LOCK_TTL", 10*time.Second),
		Notification: NotificationConfig{
			KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
			Topic:        envString("NOTIFICATION_TOPIC", "qcgate.notifications"),
			Buffer:       envInt("NOTIFICATION_BUFFER", 256),
			InboxSize:    envInt("NOTIFICATION_INBOX_SIZE", 100),
		},
		Policy: PolicyConfig{
			File:                 os.Getenv("POLICY_FILE"),
			CacheTTL:             envDuration("POLICY_CACHE_TTL", 30*time.Second),
			FallbackApproverRole: envString("FALLBACK_APPROVER_ROLE", "system_admin"),
		},
		Audit: AuditConfig{
			Topic:        envString("AUDIT_TOPIC", "qcgate.audit"),
			PollInterval: envDuration("AUDIT_POLL_INTERVAL", 500*time.Millisecond),
			Retention:    envDuration("AUDIT_RETENTION", 7*24*time.Hour),
		},
		SeedFile: os.Getenv("SEED_FILE"),
	}
}

// Validate rejects combinations main cannot wire.
func (s Server) Validate() error {
	var errs []error
	switch s.LockBackend {
	case LockLocal:
	case LockRedis:
		if s.Redis.URL == "" {
			errs = append(errs, errors.New("LOCK_BACKEND=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, errors.New("LOCK_BACKEND must be local or redis"))
	}
	if s.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT_SIGNING_KEY is required"))
	}
	if s.TxTimeout <= 0 {
		errs = append(errs, errors.New("TX_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

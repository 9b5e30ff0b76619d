package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API         APIConfig         `mapstructure:"api"`
	SMTP        SMTPConfig        `mapstructure:"smtp"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Mail        MailConfig        `mapstructure:"mail"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
}

// APIConfig holds REST API server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// SMTPConfig holds the SMTP publishing endpoint configuration.
type SMTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Domain         string        `mapstructure:"domain"`
	PublishAddress string        `mapstructure:"publish_address"`
	MaxConnections int           `mapstructure:"max_connections"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	CertFile       string        `mapstructure:"cert_file"`
	KeyFile        string        `mapstructure:"key_file"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// AuthConfig holds JWT and login lockout configuration.
type AuthConfig struct {
	SigningKey           string        `mapstructure:"signing_key"`
	Issuer               string        `mapstructure:"issuer"`
	TokenExpiry          time.Duration `mapstructure:"token_expiry"`
	LoginAttemptsLimit   int           `mapstructure:"login_attempts_limit"`
	LoginLockoutDuration time.Duration `mapstructure:"login_lockout_duration"`
}

// AdminConfig holds the credentials of the admin user seeded on start-up.
type AdminConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MailConfig holds configuration for the outbound mail client.
type MailConfig struct {
	// Provider is one of "postmark", "sendgrid" or "stdout".
	Provider           string        `mapstructure:"provider"`
	BaseURL            string        `mapstructure:"base_url"`
	Sender             string        `mapstructure:"sender"`
	AuthorizationToken string        `mapstructure:"authorization_token"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// WorkerConfig holds delivery worker configuration.
type WorkerConfig struct {
	Count           int           `mapstructure:"count"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ErrorBackoff    time.Duration `mapstructure:"error_backoff"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables every
// Redis-backed feature (login lockout, worker wake-ups).
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	WakeupChannel string `mapstructure:"wakeup_channel"`
}

// ArchiveConfig selects where published issues are archived.
type ArchiveConfig struct {
	Type       string `mapstructure:"type"` // "", "local" or "s3"
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// IdempotencyConfig controls how long a request waits for a concurrent
// request holding the same key to save its response.
type IdempotencyConfig struct {
	RaceRetries    int           `mapstructure:"race_retries"`
	RaceRetryDelay time.Duration `mapstructure:"race_retry_delay"`
}

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix NEWSLETTER_ override file values.
// For example, NEWSLETTER_DATABASE_URL overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)

	v.SetDefault("smtp.host", "0.0.0.0")
	v.SetDefault("smtp.port", 2525)
	v.SetDefault("smtp.domain", "newsletter-relay")
	v.SetDefault("smtp.max_connections", 100)
	v.SetDefault("smtp.read_timeout", 30*time.Second)
	v.SetDefault("smtp.write_timeout", 30*time.Second)
	v.SetDefault("smtp.max_message_size", 10<<20)

	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("auth.issuer", "newsletter-relay")
	v.SetDefault("auth.token_expiry", time.Hour)
	v.SetDefault("auth.login_attempts_limit", 5)
	v.SetDefault("auth.login_lockout_duration", 15*time.Minute)

	v.SetDefault("mail.provider", "postmark")
	v.SetDefault("mail.timeout", 10*time.Second)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.poll_interval", 10*time.Second)
	v.SetDefault("worker.error_backoff", time.Second)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.wakeup_channel", "newsletter:deliveries")

	v.SetDefault("idempotency.race_retries", 5)
	v.SetDefault("idempotency.race_retry_delay", 200*time.Millisecond)
}

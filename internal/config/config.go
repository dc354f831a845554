package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/config"
)

const (
	StorageMongo    = "mongo"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
	StorageRedis    = "redis"

	EmailProviderSMTP     = "smtp"
	EmailProviderPostmark = "postmark"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	HTTP          HTTPConfig          `yaml:"http"`
	Storage       StorageConfig       `yaml:"storage"`
	Database      DatabaseConfig      `yaml:"database"`
	Mongo         MongoConfig         `yaml:"mongo"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	Postmark      PostmarkConfig      `yaml:"postmark"`
	Email         EmailConfig         `yaml:"email"`
	SMS           SMSConfig           `yaml:"sms"`
	Twilio        TwilioConfig        `yaml:"twilio"`
	FCM           FCMConfig           `yaml:"fcm"`
	UserDirectory UserDirectoryConfig `yaml:"user_directory"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Logging       LoggingConfig       `yaml:"logging"`
}

type ServiceConfig struct {
	Name        string `yaml:"name" env:"SERVICE_NAME"`
	Environment string `yaml:"environment" env:"SERVICE_ENVIRONMENT"`
	Version     string `yaml:"version" env:"SERVICE_VERSION"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT"`
	// PublicURL is the externally reachable base URL, used for provider status callbacks
	PublicURL string `yaml:"public_url" env:"HTTP_PUBLIC_URL"`
}

type StorageConfig struct {
	// Notifications selects the record store: mongo, postgres or memory
	Notifications string `yaml:"notifications" env:"STORAGE_NOTIFICATIONS"`
	// PushTargets selects the push target store: redis or memory
	PushTargets string `yaml:"push_targets" env:"STORAGE_PUSH_TARGETS"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DATABASE_HOST"`
	Port            int           `yaml:"port" env:"DATABASE_PORT"`
	User            string        `yaml:"user" env:"DATABASE_USER"`
	Password        string        `yaml:"password" env:"DATABASE_PASSWORD"`
	Database        string        `yaml:"database" env:"DATABASE_NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"DATABASE_SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

type MongoConfig struct {
	URI            string        `yaml:"uri" env:"MONGODB_URL"`
	Database       string        `yaml:"database" env:"MONGODB_DATABASE"`
	Collection     string        `yaml:"collection" env:"MONGODB_COLLECTION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"MONGODB_CONNECT_TIMEOUT"`
	MaxPoolSize    uint64        `yaml:"max_pool_size" env:"MONGODB_MAX_POOL_SIZE"`
	RetryAttempts  int           `yaml:"retry_attempts" env:"MONGODB_RETRY_ATTEMPTS"`
	RetryInterval  time.Duration `yaml:"retry_interval" env:"MONGODB_RETRY_INTERVAL"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db" env:"REDIS_DB"`
	MaxRetries   int           `yaml:"max_retries" env:"REDIS_MAX_RETRIES"`
	PoolSize     int           `yaml:"pool_size" env:"REDIS_POOL_SIZE"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT"`
	KeyPrefix    string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	GroupID       string        `yaml:"group_id" env:"KAFKA_GROUP_ID"`
	ReceiptsTopic string        `yaml:"receipts_topic" env:"KAFKA_RECEIPTS_TOPIC"`
	EventsTopic   string        `yaml:"events_topic" env:"KAFKA_EVENTS_TOPIC"`
	MaxRetries    int           `yaml:"max_retries" env:"KAFKA_MAX_RETRIES"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env:"KAFKA_RETRY_BACKOFF"`
}

type SMTPConfig struct {
	Host      string `yaml:"host" env:"SMTP_HOST"`
	Port      int    `yaml:"port" env:"SMTP_PORT"`
	Username  string `yaml:"username" env:"SMTP_USERNAME"`
	Password  string `yaml:"password" env:"SMTP_PASSWORD"`
	FromEmail string `yaml:"from_email" env:"SMTP_FROM_EMAIL"`
	FromName  string `yaml:"from_name" env:"SMTP_FROM_NAME"`
	UseTLS    bool   `yaml:"use_tls" env:"SMTP_USE_TLS"`
}

type PostmarkConfig struct {
	ServerToken   string `yaml:"server_token" env:"POSTMARK_SERVER_TOKEN"`
	AccountToken  string `yaml:"account_token" env:"POSTMARK_ACCOUNT_TOKEN"`
	FromEmail     string `yaml:"from_email" env:"POSTMARK_FROM_EMAIL"`
	FromName      string `yaml:"from_name" env:"POSTMARK_FROM_NAME"`
	MessageStream string `yaml:"message_stream" env:"POSTMARK_MESSAGE_STREAM"`
	// WebhookToken authenticates Postmark webhooks when no API key header is sent
	WebhookToken string `yaml:"webhook_token" env:"POSTMARK_WEBHOOK_TOKEN"`
}

type EmailConfig struct {
	// Provider selects the email adapter: smtp or postmark
	Provider      string `yaml:"provider" env:"EMAIL_PROVIDER"`
	TemplatesPath string `yaml:"templates_path" env:"EMAIL_TEMPLATES_PATH"`
	FrontendURL   string `yaml:"frontend_url" env:"FRONTEND_URL"`
	ProductName   string `yaml:"product_name" env:"EMAIL_PRODUCT_NAME"`
	SupportEmail  string `yaml:"support_email" env:"EMAIL_SUPPORT_ADDRESS"`
}

type SMSConfig struct {
	DefaultCountryCode string `yaml:"default_country_code" env:"SMS_DEFAULT_COUNTRY_CODE"`
}

type TwilioConfig struct {
	AccountSID string        `yaml:"account_sid" env:"TWILIO_SID"`
	AuthToken  string        `yaml:"auth_token" env:"TWILIO_AUTH"`
	From       string        `yaml:"from" env:"TWILIO_PHONE"`
	BaseURL    string        `yaml:"base_url" env:"TWILIO_BASE_URL"`
	Timeout    time.Duration `yaml:"timeout" env:"TWILIO_TIMEOUT"`
	// StatusCallback enables delivery receipts on /api/v1/webhooks/twilio
	StatusCallback bool `yaml:"status_callback" env:"TWILIO_STATUS_CALLBACK"`
	// ValidateSignature enforces X-Twilio-Signature on webhooks
	ValidateSignature bool `yaml:"validate_signature" env:"TWILIO_VALIDATE_SIGNATURE"`
}

type FCMConfig struct {
	ProjectID       string        `yaml:"project_id" env:"FCM_PROJECT_ID"`
	CredentialsFile string        `yaml:"credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`
	BaseURL         string        `yaml:"base_url" env:"FCM_BASE_URL"`
	Timeout         time.Duration `yaml:"timeout" env:"FCM_TIMEOUT"`
	Concurrency     int           `yaml:"concurrency" env:"FCM_CONCURRENCY"`
	ValidateTokens  bool          `yaml:"validate_tokens" env:"FCM_VALIDATE_TOKENS"`
}

type UserDirectoryConfig struct {
	URL     string        `yaml:"url" env:"DATA_SERVICE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"DATA_SERVICE_TIMEOUT"`
}

type AuthConfig struct {
	APIKey    string `yaml:"api_key" env:"NOTIFICATION_API_KEY"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// JWTIssuer is checked against the iss claim when set
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`

	TokenTTL time.Duration `yaml:"token_ttl" env:"JWT_TOKEN_TTL"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled" env:"RATE_LIMIT_ENABLED"`
	// Send is the sustained per-client rate for send routes, per second
	Send      float64 `yaml:"send" env:"RATE_LIMIT_SEND"`
	SendBurst int     `yaml:"send_burst" env:"RATE_LIMIT_SEND_BURST"`
	// Webhook is the sustained per-client rate for webhook routes, per second
	Webhook      float64 `yaml:"webhook" env:"RATE_LIMIT_WEBHOOK"`
	WebhookBurst int     `yaml:"webhook_burst" env:"RATE_LIMIT_WEBHOOK_BURST"`
}

type SweeperConfig struct {
	Enabled        bool          `yaml:"enabled" env:"SWEEPER_ENABLED"`
	Schedule       string        `yaml:"schedule" env:"SWEEPER_SCHEDULE"`
	PendingTimeout time.Duration `yaml:"pending_timeout" env:"SWEEPER_PENDING_TIMEOUT"`
	BatchSize      int           `yaml:"batch_size" env:"SWEEPER_BATCH_SIZE"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	OutputPath string `yaml:"output_path" env:"LOG_OUTPUT_PATH"`
}

// Load loads configuration from YAML file with environment variable overrides.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	// The .env file is optional
	_ = godotenv.Load()

	configPath := getEnv("CONFIG_PATH", "./config/base.yaml")
	return LoadFile(configPath)
}

// LoadFile loads configuration from the given YAML file and the environment
func LoadFile(path string) (*Config, error) {
	provider, err := config.NewYAML(
		config.File(path),
		config.Expand(os.LookupEnv),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	cfg := Default()
	if err := provider.Get(config.Root).Populate(cfg); err != nil {
		return nil, fmt.Errorf("failed to populate config: %w", err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used for anything the YAML file leaves out
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "notify-service", Environment: "development", Version: "dev"},
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage:  StorageConfig{Notifications: StorageMongo, PushTargets: StorageRedis},
		Database: DatabaseConfig{Port: 5432, SSLMode: "disable", MaxOpenConns: 10, ConnMaxLifetime: time.Hour},
		Mongo: MongoConfig{
			Database:       "notifications",
			Collection:     "notifications",
			ConnectTimeout: 10 * time.Second,
			MaxPoolSize:    100,
			RetryAttempts:  3,
			RetryInterval:  2 * time.Second,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 10, KeyPrefix: "notify"},
		Kafka: KafkaConfig{
			GroupID:       "notify-service",
			ReceiptsTopic: "notification.receipts",
			EventsTopic:   "notification.events",
			MaxRetries:    3,
			RetryBackoff:  time.Second,
		},
		SMTP:          SMTPConfig{Port: 587, UseTLS: true},
		Postmark:      PostmarkConfig{MessageStream: "outbound"},
		Email:         EmailConfig{Provider: EmailProviderSMTP, TemplatesPath: "./templates/email", ProductName: "Notify"},
		SMS:           SMSConfig{DefaultCountryCode: "33"},
		Twilio:        TwilioConfig{BaseURL: "https://api.twilio.com", Timeout: 10 * time.Second},
		FCM:           FCMConfig{BaseURL: "https://fcm.googleapis.com", Timeout: 10 * time.Second, Concurrency: 8},
		UserDirectory: UserDirectoryConfig{Timeout: 5 * time.Second},
		Auth:          AuthConfig{TokenTTL: 24 * time.Hour},
		RateLimit: RateLimitConfig{
			Send:         50.0 / 3600,
			SendBurst:    50,
			Webhook:      100.0 / 300,
			WebhookBurst: 100,
		},
		Sweeper: SweeperConfig{Enabled: true, Schedule: "@every 1m", PendingTimeout: 10 * time.Minute, BatchSize: 100},
		Logging: LoggingConfig{Level: "info", Format: "json", OutputPath: "stdout"},
	}
}

// Validate checks values that would otherwise fail deep inside a component
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Notifications {
	case StorageMongo, StoragePostgres, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.notifications: unsupported store %q", c.Storage.Notifications))
	}
	switch c.Storage.PushTargets {
	case StorageRedis, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.push_targets: unsupported store %q", c.Storage.PushTargets))
	}
	switch strings.ToLower(c.Email.Provider) {
	case EmailProviderSMTP, EmailProviderPostmark:
	default:
		errs = append(errs, fmt.Errorf("email.provider: unsupported provider %q", c.Email.Provider))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port: invalid port %d", c.HTTP.Port))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: at least one broker is required"))
	}
	if c.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key: required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret: required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// GetDSN returns PostgreSQL connection string in URL format for pgx/v5
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

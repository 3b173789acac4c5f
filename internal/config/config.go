package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port          string   `mapstructure:"PORT"`
	Env           string   `mapstructure:"ENV"`
	DatabaseURL   string   `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32    `mapstructure:"DB_MIN_CONNS"`
	DefaultTenant string   `mapstructure:"DEFAULT_TENANT"`
	RedisURL      string   `mapstructure:"REDIS_URL"`
	CORSOrigins   []string `mapstructure:"CORS_ORIGINS"`
	TimeZone      string   `mapstructure:"TIME_ZONE"`

	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	JWTIssuer      string        `mapstructure:"JWT_ISSUER"`
	AccessTokenTTL time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`

	// DevUsername authenticates header-less requests when ENV=development.
	DevUsername string `mapstructure:"DEV_USERNAME"`

	RoleCacheTTL           time.Duration `mapstructure:"ROLE_CACHE_TTL"`
	ParentChainCacheExpiry time.Duration `mapstructure:"PARENT_CHAIN_CACHE_EXPIRY"`
	SlotGenerationFailsafe int           `mapstructure:"SLOT_GENERATION_FAILSAFE"`

	UseSMS            bool   `mapstructure:"USE_SMS"`
	SMSProvider       string `mapstructure:"SMS_PROVIDER"`
	SMSProviderURL    string `mapstructure:"SMS_PROVIDER_URL"`
	SMSProviderAPIKey string `mapstructure:"SMS_PROVIDER_API_KEY"`
	OTPLength         int    `mapstructure:"OTP_LENGTH"`
	OTPRepeatWindow   int    `mapstructure:"OTP_REPEAT_WINDOW"`
	OTPMaxRepeats     int    `mapstructure:"OTP_MAX_REPEATS_WINDOW"`
	OTPExpiryMinutes  int    `mapstructure:"OTP_EXPIRY_MINUTES"`

	S3Bucket     string        `mapstructure:"S3_BUCKET"`
	S3Endpoint   string        `mapstructure:"S3_ENDPOINT"`
	S3Region     string        `mapstructure:"S3_REGION"`
	S3AccessKey  string        `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey  string        `mapstructure:"S3_SECRET_KEY"`
	S3PresignTTL time.Duration `mapstructure:"S3_PRESIGN_TTL"`

	TaskQueueBackend string   `mapstructure:"TASK_QUEUE_BACKEND"`
	SQSQueueName     string   `mapstructure:"SQS_QUEUE_NAME"`
	KafkaBrokers     []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic       string   `mapstructure:"KAFKA_TOPIC"`

	OTelExporter   string  `mapstructure:"OTEL_EXPORTER"`
	OTelSampleRate float64 `mapstructure:"OTEL_SAMPLE_RATE"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DEFAULT_TENANT",
	"REDIS_URL", "CORS_ORIGINS", "TIME_ZONE",
	"JWT_SIGNING_KEY", "JWT_ISSUER", "ACCESS_TOKEN_TTL", "DEV_USERNAME",
	"ROLE_CACHE_TTL", "PARENT_CHAIN_CACHE_EXPIRY", "SLOT_GENERATION_FAILSAFE",
	"USE_SMS", "SMS_PROVIDER", "SMS_PROVIDER_URL", "SMS_PROVIDER_API_KEY",
	"OTP_LENGTH", "OTP_REPEAT_WINDOW", "OTP_MAX_REPEATS_WINDOW", "OTP_EXPIRY_MINUTES",
	"S3_BUCKET", "S3_ENDPOINT", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY", "S3_PRESIGN_TTL",
	"TASK_QUEUE_BACKEND", "SQS_QUEUE_NAME", "KAFKA_BROKERS", "KAFKA_TOPIC",
	"OTEL_EXPORTER", "OTEL_SAMPLE_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "9000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:4000")
	v.SetDefault("TIME_ZONE", "Asia/Kolkata")
	v.SetDefault("JWT_ISSUER", "care-emr")
	v.SetDefault("ACCESS_TOKEN_TTL", "12h")
	v.SetDefault("DEV_USERNAME", "admin")
	v.SetDefault("ROLE_CACHE_TTL", "168h")
	v.SetDefault("PARENT_CHAIN_CACHE_EXPIRY", "360h")
	v.SetDefault("SLOT_GENERATION_FAILSAFE", 30)
	v.SetDefault("USE_SMS", false)
	v.SetDefault("SMS_PROVIDER", "queue")
	v.SetDefault("OTP_LENGTH", 5)
	v.SetDefault("OTP_REPEAT_WINDOW", 6)
	v.SetDefault("OTP_MAX_REPEATS_WINDOW", 5)
	v.SetDefault("OTP_EXPIRY_MINUTES", 30)
	v.SetDefault("S3_REGION", "ap-south-1")
	v.SetDefault("S3_PRESIGN_TTL", "15m")
	v.SetDefault("TASK_QUEUE_BACKEND", "memory")
	v.SetDefault("SQS_QUEUE_NAME", "emr-tasks")
	v.SetDefault("KAFKA_TOPIC", "emr-tasks")
	v.SetDefault("OTEL_EXPORTER", "none")
	v.SetDefault("OTEL_SAMPLE_RATE", 1.0)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.KafkaBrokers == nil {
		if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves TIME_ZONE. Slot timestamps are composed in this zone.
func (c *Config) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load TIME_ZONE %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required outside development (current ENV=%q)", c.Env)
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters, got %d", len(c.JWTSigningKey))
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.OTPMaxRepeats <= 0 {
		return fmt.Errorf("OTP_MAX_REPEATS_WINDOW must be positive")
	}
	if c.SlotGenerationFailsafe <= 0 {
		return fmt.Errorf("SLOT_GENERATION_FAILSAFE must be positive")
	}
	switch c.SMSProvider {
	case "queue", "log":
	case "http":
		if c.SMSProviderURL == "" {
			return fmt.Errorf("SMS_PROVIDER_URL is required when SMS_PROVIDER is \"http\"")
		}
	default:
		return fmt.Errorf("SMS_PROVIDER must be \"queue\", \"http\" or \"log\", got %q", c.SMSProvider)
	}
	switch c.TaskQueueBackend {
	case "memory", "sqs":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when TASK_QUEUE_BACKEND is \"kafka\"")
		}
	default:
		return fmt.Errorf("TASK_QUEUE_BACKEND must be \"memory\", \"sqs\" or \"kafka\", got %q", c.TaskQueueBackend)
	}
	switch c.OTelExporter {
	case "none", "stdout":
	default:
		return fmt.Errorf("OTEL_EXPORTER must be \"none\" or \"stdout\", got %q", c.OTelExporter)
	}
	if c.OTelSampleRate < 0 || c.OTelSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0 and 1, got %v", c.OTelSampleRate)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

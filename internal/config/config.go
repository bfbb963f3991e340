package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Netflix/go-env"
)

const (
	MailDriverSMTP   = "smtp"
	MailDriverResend = "resend"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	// Optional. When empty, manual batches run on the in-process runner.
	RabbitMQURL string `env:"RABBITMQ_URL"`
	RendererURL string `env:"RENDERER_URL,required=true"`
	APIPort     int    `env:"API_PORT,default=8080"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	CronSecret   string `env:"AUTO_SEND_CRON_SECRET"`
	CronSchedule string `env:"AUTO_SEND_CRON"`
	Timezone     string `env:"AUTO_SEND_TIMEZONE,default=UTC"`

	ExecutorConcurrency   int `env:"EXECUTOR_CONCURRENCY,default=4"`
	EmailRateLimitPerSec  int `env:"EMAIL_RATE_LIMIT_PER_SEC,default=5"`
	WorkerConcurrency     int `env:"WORKER_CONCURRENCY,default=2"`
	LocalRunnerQueueSize  int `env:"LOCAL_RUNNER_QUEUE_SIZE,default=32"`
	PlanLockTTLSeconds    int `env:"PLAN_LOCK_TTL_SECONDS,default=60"`
	ExecuteLockTTLSeconds int `env:"EXECUTE_LOCK_TTL_SECONDS,default=1800"`

	MailDriver   string `env:"MAIL_DRIVER,default=smtp"`
	MailFrom     string `env:"MAIL_FROM,required=true"`
	MailFromName string `env:"MAIL_FROM_NAME,default=Fuel Auto-Send"`
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	ResendAPIKey string `env:"RESEND_API_KEY"`

	S3Bucket    string `env:"S3_BUCKET,required=true"`
	S3Region    string `env:"S3_REGION,default=us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3PathStyle bool   `env:"S3_PATH_STYLE,default=false"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.MailDriver = strings.ToLower(strings.TrimSpace(c.MailDriver))
	switch c.MailDriver {
	case MailDriverSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("invalid config: SMTP_HOST is required for the smtp mail driver")
		}
	case MailDriverResend:
		if strings.TrimSpace(c.ResendAPIKey) == "" {
			return fmt.Errorf("invalid config: RESEND_API_KEY is required for the resend mail driver")
		}
	default:
		return fmt.Errorf("invalid config: unknown MAIL_DRIVER %q", c.MailDriver)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid config: AUTO_SEND_TIMEZONE: %w", err)
	}
	if c.ExecutorConcurrency < 1 {
		return fmt.Errorf("invalid config: EXECUTOR_CONCURRENCY must be positive")
	}
	if c.EmailRateLimitPerSec < 1 {
		return fmt.Errorf("invalid config: EMAIL_RATE_LIMIT_PER_SEC must be positive")
	}
	return nil
}

// Location returns the business timezone used for day boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) PlanLockTTL() time.Duration {
	return time.Duration(c.PlanLockTTLSeconds) * time.Second
}

func (c *Config) ExecuteLockTTL() time.Duration {
	return time.Duration(c.ExecuteLockTTLSeconds) * time.Second
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
	PresignTTL time.Duration `validate:"min=0"`
}

// Enabled reports whether object storage credentials are configured.
func (r R2) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.BucketName != ""
}

type Poll struct {
	InitialInterval time.Duration `validate:"gt=0"`
	MaxInterval     time.Duration `validate:"gtefield=InitialInterval"`
	MaxWait         time.Duration `validate:"gtefield=MaxInterval"`
}

type Config struct {
	AppEnv     string `validate:"oneof=development production test"`
	ServerAddr string `validate:"required"`

	PostgresURI string `validate:"required"`
	RedisURI    string

	// SecretKey encrypts stored platform access tokens.
	SecretKey string `validate:"len=32"`
	// JobSecret signs the tokens external schedulers use to trigger a pass.
	JobSecret string `validate:"min=16"`

	OwnHostname       string
	ThreadsAPIBaseURL string `validate:"required,url"`
	ThreadsWebBaseURL string `validate:"required,url"`

	SchedulerSpec          string        `validate:"required"`
	MaxRetryCount          int           `validate:"min=1"`
	StuckPublishingTimeout time.Duration `validate:"gt=0"`
	MissedGracePeriod      time.Duration `validate:"min=0"`
	PassLockTTL            time.Duration `validate:"gt=0"`
	// RecordRetryWait bounds how long a pass keeps retrying the write of a
	// publication the platform already accepted.
	RecordRetryWait time.Duration `validate:"min=0"`

	TextPoll  Poll
	ImagePoll Poll
	VideoPoll Poll

	R2 R2
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:     getEnv("APP_ENV", "production"),
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", ""),

		SecretKey: getEnv("SECRET_KEY", ""),
		JobSecret: getEnv("JOB_SECRET", ""),

		OwnHostname:       getEnv("OWN_HOSTNAME", ""),
		ThreadsAPIBaseURL: getEnv("THREADS_API_BASE_URL", "https://graph.threads.net/v1.0"),
		ThreadsWebBaseURL: getEnv("THREADS_WEB_BASE_URL", "https://www.threads.net"),

		SchedulerSpec:          getEnv("SCHEDULER_SPEC", "@every 1m"),
		MaxRetryCount:          getEnvInt("MAX_RETRY_COUNT", 3),
		StuckPublishingTimeout: getEnvDuration("STUCK_PUBLISHING_TIMEOUT", 15*time.Minute),
		MissedGracePeriod:      getEnvDuration("MISSED_GRACE_PERIOD", 5*time.Minute),
		PassLockTTL:            getEnvDuration("PASS_LOCK_TTL", 20*time.Minute),
		RecordRetryWait:        getEnvDuration("RECORD_RETRY_WAIT", 30*time.Second),

		TextPoll: Poll{
			InitialInterval: getEnvDuration("TEXT_POLL_INITIAL_INTERVAL", time.Second),
			MaxInterval:     getEnvDuration("TEXT_POLL_MAX_INTERVAL", 5*time.Second),
			MaxWait:         getEnvDuration("TEXT_POLL_MAX_WAIT", time.Minute),
		},
		ImagePoll: Poll{
			InitialInterval: getEnvDuration("IMAGE_POLL_INITIAL_INTERVAL", time.Second),
			MaxInterval:     getEnvDuration("IMAGE_POLL_MAX_INTERVAL", 5*time.Second),
			MaxWait:         getEnvDuration("IMAGE_POLL_MAX_WAIT", time.Minute),
		},
		VideoPoll: Poll{
			InitialInterval: getEnvDuration("VIDEO_POLL_INITIAL_INTERVAL", 5*time.Second),
			MaxInterval:     getEnvDuration("VIDEO_POLL_MAX_INTERVAL", 30*time.Second),
			MaxWait:         getEnvDuration("VIDEO_POLL_MAX_WAIT", 10*time.Minute),
		},

		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PresignTTL: getEnvDuration("R2_PRESIGN_TTL", time.Hour),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// A post still inside a container poll must never look stuck, and no
	// second pass may start while one can still hold claims.
	for name, poll := range map[string]Poll{"TextPoll": c.TextPoll, "ImagePoll": c.ImagePoll, "VideoPoll": c.VideoPoll} {
		if c.StuckPublishingTimeout <= poll.MaxWait {
			return fmt.Errorf("invalid configuration: StuckPublishingTimeout (%s) must exceed %s.MaxWait (%s)",
				c.StuckPublishingTimeout, name, poll.MaxWait)
		}
	}
	if c.PassLockTTL < c.StuckPublishingTimeout {
		return fmt.Errorf("invalid configuration: PassLockTTL (%s) must be at least StuckPublishingTimeout (%s)",
			c.PassLockTTL, c.StuckPublishingTimeout)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

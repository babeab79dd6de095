package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Job       JobConfig       `yaml:"job"`
	Notify    NotifyConfig    `yaml:"notify"`
	Redis     RedisConfig     `yaml:"redis"`
	Retention RetentionConfig `yaml:"retention"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	// CronSecret protects the job trigger endpoint. Either the plain
	// secret or its bcrypt hash may be configured; the hash wins when
	// both are set.
	CronSecret       string `yaml:"cron_secret"`
	CronSecretBcrypt string `yaml:"cron_secret_bcrypt"`
	// JWTSecret, when set, additionally accepts HMAC-signed admin tokens
	// on the trigger endpoint.
	JWTSecret string `yaml:"jwt_secret"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
	// Daily fire time, UTC wall clock.
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
	// PollInterval is the coarse wall-clock polling period.
	PollInterval Duration `yaml:"poll_interval"`
	// BusinessDaysOnly skips weekends and market holidays. Off by
	// default: the daily signal job targets crypto markets.
	BusinessDaysOnly bool `yaml:"business_days_only"`
}

type JobConfig struct {
	Name string `yaml:"name"`
	// Command is the external signal-generation payload.
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	// Symbols is the allow-list for triggered runs.
	Symbols    []string `yaml:"symbols"`
	Timeout    Duration `yaml:"timeout"`
	MaxRetries int      `yaml:"max_retries"`
	// LockMargin pads the lock TTL beyond the worst-case run time.
	LockMargin Duration `yaml:"lock_margin"`
}

type NotifyConfig struct {
	DedupWindow   Duration `yaml:"dedup_window"`
	RatePerHour   int      `yaml:"rate_per_hour"`
	RetryMax      int      `yaml:"retry_max"`
	RetryBase     Duration `yaml:"retry_base"`
	RetryMaxDelay Duration `yaml:"retry_max_delay"`
}

// RedisConfig enables the async notification queue when set.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RetentionConfig struct {
	// Days of execution/notification/audit history to keep. <=0 disables
	// trimming entirely.
	Days int `yaml:"days"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.overrideFromEnv()
	cfg.applyFloors()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "release",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "jobsentry.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			Hour:         0,
			Minute:       10,
			PollInterval: Duration(30 * time.Second),
		},
		Job: JobConfig{
			Name:       "daily-signal",
			Command:    "./scripts/daily_cron.sh",
			Symbols:    []string{"BTC"},
			Timeout:    Duration(120 * time.Second),
			MaxRetries: 2,
			LockMargin: Duration(60 * time.Second),
		},
		Notify: NotifyConfig{
			DedupWindow:   Duration(10 * time.Minute),
			RatePerHour:   20,
			RetryMax:      3,
			RetryBase:     Duration(500 * time.Millisecond),
			RetryMaxDelay: Duration(10 * time.Second),
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		Retention: RetentionConfig{
			Days: 90,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("CRON_SECRET"); secret != "" {
		c.Auth.CronSecret = secret
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.Token = token
		c.Telegram.Enabled = true
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
			c.Telegram.ChatID = id
		}
	}
	if cmd := os.Getenv("JOB_COMMAND"); cmd != "" {
		c.Job.Command = cmd
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = addr
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// applyFloors clamps nonsensical values back to usable defaults so a
// partially filled config file cannot produce a zero-timeout executor or
// a busy-waiting scheduler.
func (c *Config) applyFloors() {
	if c.Scheduler.PollInterval <= 0 {
		c.Scheduler.PollInterval = Duration(30 * time.Second)
	}
	if c.Job.Timeout <= 0 {
		c.Job.Timeout = Duration(120 * time.Second)
	}
	if c.Job.MaxRetries < 0 {
		c.Job.MaxRetries = 0
	}
	if c.Job.LockMargin <= 0 {
		c.Job.LockMargin = Duration(60 * time.Second)
	}
	if c.Job.Name == "" {
		c.Job.Name = "daily-signal"
	}
	if c.Notify.RatePerHour <= 0 {
		c.Notify.RatePerHour = 20
	}
	if c.Notify.RetryMax < 0 {
		c.Notify.RetryMax = 0
	}
	if c.Notify.RetryBase <= 0 {
		c.Notify.RetryBase = Duration(500 * time.Millisecond)
	}
	if c.Notify.RetryMaxDelay <= 0 {
		c.Notify.RetryMaxDelay = Duration(10 * time.Second)
	}
}

// LockTTL is the advisory-lock lifetime for one executor invocation:
// worst-case run time across all attempts plus a safety margin.
func (c *Config) LockTTL() time.Duration {
	return c.Job.Timeout.Std()*time.Duration(c.Job.MaxRetries+1) + c.Job.LockMargin.Std()
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0644)
}

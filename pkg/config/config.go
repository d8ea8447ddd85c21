package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hugh/go-shepherd/pkg/util"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Encryption EncryptionConfig
	RateLimit  RateLimitConfig
	Invitation InvitationConfig
	Notify     NotifyConfig
	Worker     WorkerConfig
}

type ServerConfig struct {
	Host string
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type EncryptionConfig struct {
	Key string
}

type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// InvitationConfig bounds what an issuer may ask for.
type InvitationConfig struct {
	MaxTTLHours     int
	DefaultTTLHours int
	MaxUsesLimit    int
	CodeBytes       int
	SweepCron       string
}

// NotifyConfig tunes the side-effect dispatcher.
type NotifyConfig struct {
	QueueSize     int
	Workers       int
	DedupTTLHours int
	// PreviousStaff decides whether the staff member losing a guest is told about it.
	PreviousStaff bool
	// Transport is "asynq" (durable, via the worker) or "log".
	Transport string
}

type WorkerConfig struct {
	Concurrency int
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func (j *JWTConfig) Expiry() time.Duration {
	return time.Duration(j.ExpiryHours) * time.Hour
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (s *ServerConfig) IsDevelopment() bool {
	return s.Env == "development"
}

func (i *InvitationConfig) MaxTTL() time.Duration {
	return time.Duration(i.MaxTTLHours) * time.Hour
}

func (i *InvitationConfig) DefaultTTL() time.Duration {
	return time.Duration(i.DefaultTTLHours) * time.Hour
}

func (n *NotifyConfig) DedupTTL() time.Duration {
	return time.Duration(n.DedupTTLHours) * time.Hour
}

const defaultJWTSecret = "change-me-in-production"

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Load from .env file if present
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Override with environment variables
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "shepherd")
	v.SetDefault("DATABASE_PASSWORD", "shepherd_secret")
	v.SetDefault("DATABASE_NAME", "shepherd")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("JWT_EXPIRY_HOURS", 24)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)
	v.SetDefault("INVITATION_MAX_TTL_HOURS", 720)
	v.SetDefault("INVITATION_DEFAULT_TTL_HOURS", 168)
	v.SetDefault("INVITATION_MAX_USES_LIMIT", 1000)
	v.SetDefault("INVITATION_CODE_BYTES", 16)
	v.SetDefault("INVITATION_SWEEP_CRON", "*/15 * * * *")
	v.SetDefault("NOTIFY_QUEUE_SIZE", 1024)
	v.SetDefault("NOTIFY_WORKERS", 4)
	v.SetDefault("NOTIFY_DEDUP_TTL_HOURS", 24)
	v.SetDefault("NOTIFY_PREVIOUS_STAFF", true)
	v.SetDefault("NOTIFY_TRANSPORT", "asynq")
	v.SetDefault("WORKER_CONCURRENCY", 10)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
			Env:  v.GetString("SERVER_ENV"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DATABASE_HOST"),
			Port:     v.GetInt("DATABASE_PORT"),
			User:     v.GetString("DATABASE_USER"),
			Password: v.GetString("DATABASE_PASSWORD"),
			Name:     v.GetString("DATABASE_NAME"),
			SSLMode:  v.GetString("DATABASE_SSLMODE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		JWT: JWTConfig{
			Secret:      v.GetString("JWT_SECRET"),
			ExpiryHours: v.GetInt("JWT_EXPIRY_HOURS"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("ENCRYPTION_KEY"),
		},
		RateLimit: RateLimitConfig{
			Requests:      v.GetInt("RATE_LIMIT_REQUESTS"),
			WindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		Invitation: InvitationConfig{
			MaxTTLHours:     v.GetInt("INVITATION_MAX_TTL_HOURS"),
			DefaultTTLHours: v.GetInt("INVITATION_DEFAULT_TTL_HOURS"),
			MaxUsesLimit:    v.GetInt("INVITATION_MAX_USES_LIMIT"),
			CodeBytes:       v.GetInt("INVITATION_CODE_BYTES"),
			SweepCron:       v.GetString("INVITATION_SWEEP_CRON"),
		},
		Notify: NotifyConfig{
			QueueSize:     v.GetInt("NOTIFY_QUEUE_SIZE"),
			Workers:       v.GetInt("NOTIFY_WORKERS"),
			DedupTTLHours: v.GetInt("NOTIFY_DEDUP_TTL_HOURS"),
			PreviousStaff: v.GetBool("NOTIFY_PREVIOUS_STAFF"),
			Transport:     v.GetString("NOTIFY_TRANSPORT"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("WORKER_CONCURRENCY"),
		},
	}
}

// Validate rejects configurations the service must not start with.
func (c *Config) Validate() error {
	var errs []error

	if !c.Server.IsDevelopment() && (c.JWT.Secret == "" || c.JWT.Secret == defaultJWTSecret) {
		errs = append(errs, errors.New("JWT_SECRET must be set outside development"))
	}
	if c.Invitation.MaxTTLHours <= 0 {
		errs = append(errs, errors.New("INVITATION_MAX_TTL_HOURS must be positive"))
	}
	if c.Invitation.DefaultTTLHours <= 0 || c.Invitation.DefaultTTLHours > c.Invitation.MaxTTLHours {
		errs = append(errs, errors.New("INVITATION_DEFAULT_TTL_HOURS must be positive and within the maximum"))
	}
	if c.Invitation.MaxUsesLimit <= 0 {
		errs = append(errs, errors.New("INVITATION_MAX_USES_LIMIT must be positive"))
	}
	if c.Invitation.CodeBytes < 16 {
		errs = append(errs, errors.New("INVITATION_CODE_BYTES must be at least 16"))
	}
	if err := util.ValidateCronExpr(c.Invitation.SweepCron); err != nil {
		errs = append(errs, fmt.Errorf("INVITATION_SWEEP_CRON: %w", err))
	}
	if c.Notify.QueueSize <= 0 || c.Notify.Workers <= 0 {
		errs = append(errs, errors.New("NOTIFY_QUEUE_SIZE and NOTIFY_WORKERS must be positive"))
	}
	switch c.Notify.Transport {
	case "asynq", "log":
	default:
		errs = append(errs, fmt.Errorf("NOTIFY_TRANSPORT %q is not one of asynq, log", c.Notify.Transport))
	}

	return errors.Join(errs...)
}

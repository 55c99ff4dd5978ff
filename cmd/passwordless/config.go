package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/passwordless/internal/logger"
)

const (
	defaultListenAddr      = "localhost:8000"
	defaultLoggingLevel    = logger.LevelInfo
	defaultEnvironment     = logger.EnvProduction
	defaultAccessTTL       = 15 * time.Minute
	defaultRefreshTTL      = 7 * 24 * time.Hour
	defaultOTPTTL          = 5 * time.Minute
	defaultDispatchBackend = BackendLog
	defaultDispatchTopic   = "auth.otp"
	defaultDispatchTimeout = 5 * time.Second
)

// OTP dispatch backends
const (
	BackendLog   = "log"
	BackendRedis = "redis"
	BackendAMQP  = "amqp"
)

type Config struct {
	// Default logging level
	LogLevel string

	// Environment (dev, prod)
	Environment string

	// Address on which the service will be run
	ListenAddr string

	// Database to connect to
	DatabaseDSN string

	// Secret keys. All three are required and access and refresh ones must differ
	AccessSecret  string
	RefreshSecret string
	OTPSecret     string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration

	// Allowed clock skew when token or otp expiry is checked
	Leeway time.Duration

	RotateRefresh bool
	CookieSecure  bool

	// Where issued codes are published: log, redis or amqp
	DispatchBackend string
	DispatchTopic   string
	DispatchTimeout time.Duration
	RedisURL        string
	AMQPURL         string

	// Google sign in is enabled only when client is set
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// AWS Secrets Manager secret with JSON object of the same keys as env variables
	AWSSecretID string
	AWSRegion   string
}

func NewConfig() *Config {
	return &Config{
		LogLevel:        defaultLoggingLevel,
		ListenAddr:      defaultListenAddr,
		Environment:     defaultEnvironment,
		AccessTTL:       defaultAccessTTL,
		RefreshTTL:      defaultRefreshTTL,
		OTPTTL:          defaultOTPTTL,
		DispatchBackend: defaultDispatchBackend,
		DispatchTopic:   defaultDispatchTopic,
		DispatchTimeout: defaultDispatchTimeout,
	}
}

// Fetch secret key values by secret id
type secretFetcher func(ctx context.Context, secretID string, region string) (map[string]string, error)

// Load config from all sources. Priority from low to high:
// AWS secret, '.env' file, environment, flags
func (c *Config) Load(ctx context.Context, getenv func(string) string, getwd func() (string, error), args []string, fetch secretFetcher) error {
	apply := func(c *Config) error {
		if err := c.LoadDotEnv(getwd); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		if err := c.LoadEnv(getenv); err != nil {
			return err
		}
		return c.ParseFlags(args)
	}

	if err := apply(c); err != nil {
		return err
	}
	if c.AWSSecretID == "" {
		return nil
	}

	values, err := fetch(ctx, c.AWSSecretID, c.AWSRegion)
	if err != nil {
		return err
	}

	// Secret values are the base, every other source overrides them
	base := NewConfig()
	if err := base.LoadEnv(func(key string) string { return values[key] }); err != nil {
		return fmt.Errorf("aws secret %s: %w", c.AWSSecretID, err)
	}
	*c = *base

	return apply(c)
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}
	setBool := func(o *bool) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return err
			}
			*o = b
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":          setString(&c.ListenAddr),
		"DATABASE_URI":         setString(&c.DatabaseDSN),
		"LOG_LEVEL":            setString(&c.LogLevel),
		"ENVIRONMENT":          setString(&c.Environment),
		"ACCESS_TOKEN_SECRET":  setString(&c.AccessSecret),
		"REFRESH_TOKEN_SECRET": setString(&c.RefreshSecret),
		"OTP_SECRET":           setString(&c.OTPSecret),
		"ACCESS_TOKEN_TTL":     setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":    setDuration(&c.RefreshTTL),
		"OTP_TTL":              setDuration(&c.OTPTTL),
		"LEEWAY":               setDuration(&c.Leeway),
		"ROTATE_REFRESH_TOKEN": setBool(&c.RotateRefresh),
		"COOKIE_SECURE":        setBool(&c.CookieSecure),
		"DISPATCH_BACKEND":     setString(&c.DispatchBackend),
		"DISPATCH_TOPIC":       setString(&c.DispatchTopic),
		"DISPATCH_TIMEOUT":     setDuration(&c.DispatchTimeout),
		"REDIS_URL":            setString(&c.RedisURL),
		"AMQP_URL":             setString(&c.AMQPURL),
		"GOOGLE_CLIENT_ID":     setString(&c.GoogleClientID),
		"GOOGLE_CLIENT_SECRET": setString(&c.GoogleClientSecret),
		"GOOGLE_REDIRECT_URL":  setString(&c.GoogleRedirectURL),
		"AWS_SECRET_ID":        setString(&c.AWSSecretID),
		"AWS_REGION":           setString(&c.AWSRegion),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("passwordless", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.StringVar(&c.AccessSecret, "access-secret", c.AccessSecret, "Secret key to sign access tokens")
	fs.StringVar(&c.RefreshSecret, "refresh-secret", c.RefreshSecret, "Secret key to sign refresh tokens")
	fs.StringVar(&c.OTPSecret, "otp-secret", c.OTPSecret, "Secret key to hash one-time passwords")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.DurationVar(&c.OTPTTL, "otp-ttl", c.OTPTTL, "One-time password lifetime")
	fs.DurationVar(&c.Leeway, "leeway", c.Leeway, "Allowed clock skew")
	fs.BoolVar(&c.RotateRefresh, "rotate-refresh", c.RotateRefresh, "Issue new refresh token on every refresh")
	fs.BoolVar(&c.CookieSecure, "cookie-secure", c.CookieSecure, "Send cookies over https only")
	fs.StringVar(&c.DispatchBackend, "dispatch", c.DispatchBackend, "Where to publish codes (log, redis, amqp)")
	fs.StringVar(&c.DispatchTopic, "dispatch-topic", c.DispatchTopic, "Topic or queue to publish codes to")
	fs.DurationVar(&c.DispatchTimeout, "dispatch-timeout", c.DispatchTimeout, "How long to wait for code publishing")
	fs.StringVar(&c.RedisURL, "redis", c.RedisURL, "Redis connection url")
	fs.StringVar(&c.AMQPURL, "amqp", c.AMQPURL, "AMQP broker url")
	fs.StringVar(&c.GoogleClientID, "google-client-id", c.GoogleClientID, "Google OAuth client id")
	fs.StringVar(&c.GoogleClientSecret, "google-client-secret", c.GoogleClientSecret, "Google OAuth client secret")
	fs.StringVar(&c.GoogleRedirectURL, "google-redirect-url", c.GoogleRedirectURL, "Google OAuth redirect url")
	fs.StringVar(&c.AWSSecretID, "aws-secret-id", c.AWSSecretID, "AWS Secrets Manager secret to load config from")
	fs.StringVar(&c.AWSRegion, "aws-region", c.AWSRegion, "AWS region of the secret")

	return fs.Parse(args)
}

// GoogleEnabled tells whether Google sign in is configured
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" || c.GoogleClientSecret != ""
}

// Validate fails on config service can't start with
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if c.AccessSecret == "" || c.RefreshSecret == "" || c.OTPSecret == "" {
		errs = append(errs, errors.New("access, refresh and otp secrets are required"))
	}
	if c.AccessSecret != "" && c.AccessSecret == c.RefreshSecret {
		errs = append(errs, errors.New("access and refresh secrets must differ"))
	}

	switch c.DispatchBackend {
	case BackendLog:
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis url is required for redis dispatch"))
		}
	case BackendAMQP:
		if c.AMQPURL == "" {
			errs = append(errs, errors.New("amqp url is required for amqp dispatch"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch backend %q", c.DispatchBackend))
	}

	if c.GoogleEnabled() && (c.GoogleClientID == "" || c.GoogleClientSecret == "" || c.GoogleRedirectURL == "") {
		errs = append(errs, errors.New("google client id, secret and redirect url must be set together"))
	}

	return errors.Join(errs...)
}

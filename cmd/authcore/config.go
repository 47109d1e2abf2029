package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/logger"
)

const (
	defaultListenAddr    = "localhost:8000"
	defaultLoggingLevel  = logger.LevelInfo
	defaultEnvironment   = logger.EnvProd
	defaultSigningAlg    = "HS256"
	defaultAccessTTL     = 24 * time.Hour
	defaultRefreshTTL    = 7 * 24 * time.Hour
	defaultHeaderName    = "Authorization"
	defaultScheme        = "Bearer"
	defaultStoreBackend  = storePostgres
	defaultStoreTimeout  = 3 * time.Second
	defaultSweepSchedule = "@every 1h"

	// Shorter secrets are accepted with warning
	recommendedSecretLen = 32

	storePostgres = "postgres"
	storeRedis    = "redis"
)

type Config struct {
	// Default logging level
	LogLevel string `validate:"oneof=debug info warn error"`

	// Duplicate logs to rotating file if set
	LogFile string

	// Address on which the auth service will be run
	ListenAddr string `validate:"required"`

	// Database to connect to
	DatabaseDSN string `validate:"required"`

	// Secret key to sign access tokens with
	SecretKey  string
	SigningAlg string `validate:"oneof=HS256 HS384 HS512"`
	Issuer     string `validate:"required"`
	Audience   string `validate:"required"`

	AccessTTL  time.Duration `validate:"gt=0"`
	RefreshTTL time.Duration `validate:"gt=0"`

	// Access token header: '<HeaderName>: <Scheme> <token>'
	HeaderName string `validate:"required"`
	Scheme     string `validate:"required"`

	// Where refresh tokens are kept
	StoreBackend  string        `validate:"oneof=postgres redis"`
	RedisAddr     string        `validate:"required_if=StoreBackend redis"`
	StoreTimeout  time.Duration `validate:"gt=0"`
	SweepSchedule string        `validate:"required"`

	RevokeAllOnReuse bool

	// Browser origins allowed to call the API; CORS disabled if empty
	CORSOrigins []string

	// Environment
	Environment string `validate:"oneof=dev prod"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:      defaultLoggingLevel,
		ListenAddr:    defaultListenAddr,
		Environment:   defaultEnvironment,
		SigningAlg:    defaultSigningAlg,
		AccessTTL:     defaultAccessTTL,
		RefreshTTL:    defaultRefreshTTL,
		HeaderName:    defaultHeaderName,
		Scheme:        defaultScheme,
		StoreBackend:  defaultStoreBackend,
		StoreTimeout:  defaultStoreTimeout,
		SweepSchedule: defaultSweepSchedule,
	}
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
	setList := func(o *[]string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = strings.Split(value, ",")
			}
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":         setString(&c.ListenAddr),
		"DATABASE_URI":        setString(&c.DatabaseDSN),
		"SECRET_KEY":          setString(&c.SecretKey),
		"SIGNING_ALG":         setString(&c.SigningAlg),
		"TOKEN_ISSUER":        setString(&c.Issuer),
		"TOKEN_AUDIENCE":      setString(&c.Audience),
		"ACCESS_TOKEN_TTL":    setDuration(&c.AccessTTL),
		"REFRESH_TOKEN_TTL":   setDuration(&c.RefreshTTL),
		"AUTH_HEADER":         setString(&c.HeaderName),
		"AUTH_SCHEME":         setString(&c.Scheme),
		"REFRESH_STORE":       setString(&c.StoreBackend),
		"REDIS_ADDRESS":       setString(&c.RedisAddr),
		"STORE_TIMEOUT":       setDuration(&c.StoreTimeout),
		"SWEEP_SCHEDULE":      setString(&c.SweepSchedule),
		"REVOKE_ALL_ON_REUSE": setBool(&c.RevokeAllOnReuse),
		"CORS_ORIGINS":        setList(&c.CORSOrigins),
		"LOG_LEVEL":           setString(&c.LogLevel),
		"LOG_FILE":            setString(&c.LogFile),
		"ENVIRONMENT":         setString(&c.Environment),
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
	fs := pflag.NewFlagSet("authcore", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key to sign access tokens")
	fs.StringVar(&c.SigningAlg, "signing-alg", c.SigningAlg, "Access token signing algorithm (HS256, HS384, HS512)")
	fs.StringVar(&c.Issuer, "issuer", c.Issuer, "Access token issuer")
	fs.StringVar(&c.Audience, "audience", c.Audience, "Access token audience")
	fs.DurationVar(&c.AccessTTL, "access-ttl", c.AccessTTL, "Access token lifetime")
	fs.DurationVar(&c.RefreshTTL, "refresh-ttl", c.RefreshTTL, "Refresh token lifetime")
	fs.StringVar(&c.HeaderName, "auth-header", c.HeaderName, "Header to read access token from")
	fs.StringVar(&c.Scheme, "auth-scheme", c.Scheme, "Access token auth scheme")
	fs.StringVar(&c.StoreBackend, "refresh-store", c.StoreBackend, "Refresh token store (postgres, redis)")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for redis refresh store")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "Upper bound for every refresh store call")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", c.SweepSchedule, "Expired refresh tokens sweep schedule (cron spec)")
	fs.BoolVar(&c.RevokeAllOnReuse, "revoke-all-on-reuse", c.RevokeAllOnReuse, "Revoke all user sessions if revoked refresh token is presented")
	fs.StringSliceVar(&c.CORSOrigins, "cors-origins", c.CORSOrigins, "Allowed CORS origins")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "Duplicate logs to rotating file")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")

	return fs.Parse(args)
}

// Validate checks config is complete. Empty secret is apperrors.ErrSecretMisconfigured.
func (c *Config) Validate() error {
	if c.SecretKey == "" {
		return apperrors.ErrSecretMisconfigured
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config. Err: %w", err)
	}
	return nil
}

// Warnings about accepted but weak settings
func (c *Config) Warnings() []string {
	var w []string
	if len(c.SecretKey) < recommendedSecretLen {
		w = append(w, fmt.Sprintf("secret key is shorter than %d bytes", recommendedSecretLen))
	}
	return w
}

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"chunkupload/internal/checksum"
	"chunkupload/internal/domain/upload"
	"chunkupload/internal/pkg/validator"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultAppEnv          = "dev"
	defaultHTTPAddr        = ":8080"
	defaultDatabaseURL     = "chunkupload.db"
	defaultJWTSecret       = "change-me-jwt-secret"
	defaultExpiration      = "24h"
	defaultStorageRoot     = "./storage"
	defaultCleanupInterval = "0s"
	defaultPresignExpiry   = "1h"
)

type Config struct {
	AppEnv             string        `env:"APP_ENV" validate:"required"`
	HTTPAddr           string        `env:"HTTP_ADDR" validate:"required"`
	DatabaseURL        string        `env:"DATABASE_URL" validate:"required"`
	JWTSecret          string        `env:"JWT_SECRET" validate:"required"`
	SentryDSN          string        `env:"SENTRY_DSN" validate:"omitempty,url"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" validate:"dive,url"`
	CleanupInterval    time.Duration `env:"CLEANUP_INTERVAL" validate:"gte=0"`

	Upload UploadConfig
	S3     S3Config
}

type UploadConfig struct {
	Kind              string        `env:"UPLOAD_KIND" validate:"required,max=64"`
	Expiration        time.Duration `env:"UPLOAD_EXPIRATION" validate:"gt=0"`
	StorageRoot       string        `env:"UPLOAD_STORAGE_ROOT" validate:"required"`
	Path              string        `env:"UPLOAD_PATH" validate:"required"`
	Checksum          string        `env:"UPLOAD_CHECKSUM" validate:"required"`
	ChecksumCheck     bool          `env:"UPLOAD_CHECKSUM_CHECK"`
	MinBytes          int64         `env:"UPLOAD_MIN_BYTES" validate:"gte=0"`
	MaxBytes          int64         `env:"UPLOAD_MAX_BYTES" validate:"gte=0"`
	AllowedExtensions []string      `env:"UPLOAD_ALLOWED_EXTENSIONS"`
	AllowedMimeTypes  []string      `env:"UPLOAD_ALLOWED_MIMETYPES" validate:"dive,contains=/"`
	UserRestricted    bool          `env:"UPLOAD_USER_RESTRICTED"`
	RequireOwner      bool          `env:"UPLOAD_REQUIRE_OWNER"`
	AllowedOwnerKinds []string      `env:"UPLOAD_ALLOWED_OWNER_KINDS"`
	IncompleteExt     string        `env:"UPLOAD_INCOMPLETE_EXT" validate:"required,startswith=."`
	CompleteExt       string        `env:"UPLOAD_COMPLETE_EXT" validate:"required,startswith=.,nefield=IncompleteExt"`
}

// S3Config enables archiving of completed uploads when Bucket is set.
type S3Config struct {
	Bucket        string        `env:"S3_BUCKET"`
	Region        string        `env:"S3_REGION" validate:"required_with=Bucket"`
	Endpoint      string        `env:"S3_ENDPOINT" validate:"omitempty,url"`
	AccessKey     string        `env:"S3_ACCESS_KEY"`
	SecretKey     string        `env:"S3_SECRET_KEY" validate:"required_with=AccessKey"`
	PresignExpiry time.Duration `env:"S3_PRESIGN_EXPIRY" validate:"gt=0"`
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Load reads .env (if present), then the optional CONFIG_FILE, then the
// environment, which wins.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	d := upload.DefaultOptions()

	v.SetDefault("APP_ENV", defaultAppEnv)
	v.SetDefault("HTTP_ADDR", defaultHTTPAddr)
	v.SetDefault("DATABASE_URL", defaultDatabaseURL)
	v.SetDefault("JWT_SECRET", defaultJWTSecret)
	v.SetDefault("SENTRY_DSN", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("CLEANUP_INTERVAL", defaultCleanupInterval)

	v.SetDefault("UPLOAD_KIND", d.Kind)
	v.SetDefault("UPLOAD_EXPIRATION", defaultExpiration)
	v.SetDefault("UPLOAD_STORAGE_ROOT", defaultStorageRoot)
	v.SetDefault("UPLOAD_PATH", d.UploadPath)
	v.SetDefault("UPLOAD_CHECKSUM", d.ChecksumAlgorithm)
	v.SetDefault("UPLOAD_CHECKSUM_CHECK", d.ChecksumCheck)
	v.SetDefault("UPLOAD_MIN_BYTES", 0)
	v.SetDefault("UPLOAD_MAX_BYTES", 0)
	v.SetDefault("UPLOAD_ALLOWED_EXTENSIONS", "")
	v.SetDefault("UPLOAD_ALLOWED_MIMETYPES", "")
	v.SetDefault("UPLOAD_USER_RESTRICTED", d.UserRestricted)
	v.SetDefault("UPLOAD_REQUIRE_OWNER", d.RequireOwner)
	v.SetDefault("UPLOAD_ALLOWED_OWNER_KINDS", "")
	v.SetDefault("UPLOAD_INCOMPLETE_EXT", d.IncompleteExt)
	v.SetDefault("UPLOAD_COMPLETE_EXT", d.CompleteExt)

	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("S3_PRESIGN_EXPIRY", defaultPresignExpiry)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		AppEnv:             strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		HTTPAddr:           strings.TrimSpace(v.GetString("HTTP_ADDR")),
		DatabaseURL:        strings.TrimSpace(v.GetString("DATABASE_URL")),
		JWTSecret:          strings.TrimSpace(v.GetString("JWT_SECRET")),
		SentryDSN:          strings.TrimSpace(v.GetString("SENTRY_DSN")),
		CORSAllowedOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		Upload: UploadConfig{
			Kind:              strings.TrimSpace(v.GetString("UPLOAD_KIND")),
			StorageRoot:       strings.TrimSpace(v.GetString("UPLOAD_STORAGE_ROOT")),
			Path:              strings.TrimSpace(v.GetString("UPLOAD_PATH")),
			Checksum:          checksum.Normalize(v.GetString("UPLOAD_CHECKSUM")),
			ChecksumCheck:     v.GetBool("UPLOAD_CHECKSUM_CHECK"),
			MinBytes:          v.GetInt64("UPLOAD_MIN_BYTES"),
			MaxBytes:          v.GetInt64("UPLOAD_MAX_BYTES"),
			AllowedExtensions: splitList(v.GetString("UPLOAD_ALLOWED_EXTENSIONS")),
			AllowedMimeTypes:  splitList(v.GetString("UPLOAD_ALLOWED_MIMETYPES")),
			UserRestricted:    v.GetBool("UPLOAD_USER_RESTRICTED"),
			RequireOwner:      v.GetBool("UPLOAD_REQUIRE_OWNER"),
			AllowedOwnerKinds: splitList(v.GetString("UPLOAD_ALLOWED_OWNER_KINDS")),
			IncompleteExt:     strings.TrimSpace(v.GetString("UPLOAD_INCOMPLETE_EXT")),
			CompleteExt:       strings.TrimSpace(v.GetString("UPLOAD_COMPLETE_EXT")),
		},
		S3: S3Config{
			Bucket:    strings.TrimSpace(v.GetString("S3_BUCKET")),
			Region:    strings.TrimSpace(v.GetString("S3_REGION")),
			Endpoint:  strings.TrimSpace(v.GetString("S3_ENDPOINT")),
			AccessKey: strings.TrimSpace(v.GetString("S3_ACCESS_KEY")),
			SecretKey: strings.TrimSpace(v.GetString("S3_SECRET_KEY")),
		},
	}

	var err error
	if cfg.CleanupInterval, err = parseDuration(v, "CLEANUP_INTERVAL"); err != nil {
		return nil, err
	}
	if cfg.Upload.Expiration, err = parseDuration(v, "UPLOAD_EXPIRATION"); err != nil {
		return nil, err
	}
	if cfg.S3.PresignExpiry, err = parseDuration(v, "S3_PRESIGN_EXPIRY"); err != nil {
		return nil, err
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	slog.Debug("config loaded",
		"app_env", cfg.AppEnv,
		"http_addr", cfg.HTTPAddr,
		"upload_kind", cfg.Upload.Kind,
		"checksum", cfg.Upload.Checksum,
		"s3", cfg.S3.Enabled(),
	)
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if errs := validator.Validate(cfg); errs != nil {
		return fmt.Errorf("invalid config: %s", validator.Describe(errs))
	}
	if !checksum.Supported(cfg.Upload.Checksum) {
		return fmt.Errorf("UPLOAD_CHECKSUM %q is not supported, use one of: %s",
			cfg.Upload.Checksum, strings.Join(checksum.Names(), ", "))
	}
	if cfg.Upload.MaxBytes > 0 && cfg.Upload.MinBytes > cfg.Upload.MaxBytes {
		return fmt.Errorf("UPLOAD_MIN_BYTES must not exceed UPLOAD_MAX_BYTES")
	}
	if strings.HasPrefix(cfg.Upload.Path, "/") || strings.Contains(cfg.Upload.Path, "..") {
		return fmt.Errorf("UPLOAD_PATH must be relative to UPLOAD_STORAGE_ROOT")
	}

	if cfg.IsProdLike() {
		if isEmptyOrDefault(cfg.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if !cfg.Upload.ChecksumCheck {
			slog.Warn("UPLOAD_CHECKSUM_CHECK is disabled in production")
		}
	}

	return nil
}

// UploadOptions maps the upload settings onto service options.
func (c *Config) UploadOptions() upload.Options {
	u := c.Upload
	return upload.Options{
		Kind:              u.Kind,
		ExpirationWindow:  u.Expiration,
		UploadPath:        u.Path,
		ChecksumAlgorithm: u.Checksum,
		ChecksumCheck:     u.ChecksumCheck,
		MinBytes:          u.MinBytes,
		MaxBytes:          u.MaxBytes,
		AllowedExtensions: u.AllowedExtensions,
		AllowedMimeTypes:  u.AllowedMimeTypes,
		UserRestricted:    u.UserRestricted,
		RequireOwner:      u.RequireOwner,
		IncompleteExt:     u.IncompleteExt,
		CompleteExt:       u.CompleteExt,
	}
}

// OwnerRegistry is nil when any owner kind is accepted.
func (c *Config) OwnerRegistry() upload.OwnerRegistry {
	if len(c.Upload.AllowedOwnerKinds) == 0 {
		return nil
	}
	return upload.NewKindAllowlist(c.Upload.AllowedOwnerKinds...)
}

func (c *Config) IsDev() bool {
	return c.AppEnv == "dev" || c.AppEnv == "development" || c.AppEnv == "local"
}

func (c *Config) IsProdLike() bool {
	return isProdLike(c.AppEnv)
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}

func parseDuration(v *viper.Viper, name string) (time.Duration, error) {
	value := strings.TrimSpace(v.GetString(name))
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, value, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}


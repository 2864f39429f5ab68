package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by parseEnv,
// e.g. POSTBOARD_DATABASE_DSN.
const EnvPrefix = "postboard"

// envFile is loaded into the process environment when present. Variables
// already set in the environment win.
var envFile = ".env"

func parseEnv(config *Config) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("http_addr", &config.HTTPAddr)
	str("database_dsn", &config.DatabaseDSN)
	str("secret_key", &config.SecretKey)
	str("s3_root_user", &config.S3RootUser)
	str("s3_root_password", &config.S3RootPassword)
	str("s3_bucket", &config.S3Bucket)
	str("s3_region", &config.S3Region)
	str("s3_base_endpoint", &config.S3BaseEndpoint)
	str("storage_backend", &config.StorageBackend)
	str("storage_root", &config.StorageRoot)
	str("spool_dir", &config.SpoolDir)
	str("log_level", &config.LogLevel)
	str("log_file", &config.LogFile)

	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	num("bcrypt_cost", &config.BcryptCost)
	num("upload_concurrency", &config.UploadConcurrency)
	num("list_limit", &config.ListLimit)
	num("rate_limit_per_minute", &config.RateLimitPerMinute)
	num("rate_limit_burst", &config.RateLimitBurst)

	if v.IsSet("max_file_bytes") {
		config.MaxFileBytes = v.GetInt64("max_file_bytes")
	}
	if v.IsSet("stream_threshold_bytes") {
		config.StreamThresholdBytes = v.GetInt64("stream_threshold_bytes")
	}
	if v.IsSet("admin_token_ttl") {
		config.AdminTokenTTL = v.GetDuration("admin_token_ttl")
	}
	if v.IsSet("stale_pending_after") {
		config.StalePendingAfter = v.GetDuration("stale_pending_after")
	}
	if v.IsSet("stale_check_interval") {
		config.StaleCheckInterval = v.GetDuration("stale_check_interval")
	}
	if v.IsSet("log_development") {
		config.LogDevelopment = v.GetBool("log_development")
	}
	if v.IsSet("allowed_content_types") {
		config.AllowedContentTypes = parseList(v.GetString("allowed_content_types"))
	}
	if v.IsSet("cors_allowed_origins") {
		config.CORSAllowedOrigins = parseList(v.GetString("cors_allowed_origins"))
	}
	return nil
}

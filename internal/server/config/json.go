package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/postboard/internal/flagx"
	"github.com/dmitrijs2005/postboard/internal/timex"
)

// JsonConfig is the on-disk shape of the JSON config file. Absent or zero
// fields leave the current value untouched.
type JsonConfig struct {
	HTTPAddr             string         `json:"http_addr"`
	DatabaseDSN          string         `json:"database_dsn"`
	SecretKey            string         `json:"secret_key"`
	AdminTokenTTL        timex.Duration `json:"admin_token_ttl"`
	BcryptCost           int            `json:"bcrypt_cost"`
	S3RootUser           string         `json:"s3_root_user"`
	S3RootPassword       string         `json:"s3_root_password"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
	StorageBackend       string         `json:"storage_backend"`
	StorageRoot          string         `json:"storage_root"`
	MaxFileBytes         int64          `json:"max_file_bytes"`
	StreamThresholdBytes int64          `json:"stream_threshold_bytes"`
	AllowedContentTypes  []string       `json:"allowed_content_types"`
	UploadConcurrency    int            `json:"upload_concurrency"`
	SpoolDir             string         `json:"spool_dir"`
	ListLimit            int            `json:"list_limit"`
	StalePendingAfter    timex.Duration `json:"stale_pending_after"`
	StaleCheckInterval   timex.Duration `json:"stale_check_interval"`
	RateLimitPerMinute   int            `json:"rate_limit_per_minute"`
	RateLimitBurst       int            `json:"rate_limit_burst"`
	CORSAllowedOrigins   []string       `json:"cors_allowed_origins"`
	LogLevel             string         `json:"log_level"`
	LogDevelopment       *bool          `json:"log_development"`
	LogFile              string         `json:"log_file"`
}

// parseJson overlays the file named by -c/-config onto config. Without the
// flag it does nothing.
func parseJson(config *Config, args []string) error {
	path := flagx.ConfigFilePath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(data, c); err != nil {
		return err
	}

	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AdminTokenTTL.Duration > 0 {
		config.AdminTokenTTL = c.AdminTokenTTL.Duration
	}
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.StorageRoot, c.StorageRoot)
	if c.MaxFileBytes > 0 {
		config.MaxFileBytes = c.MaxFileBytes
	}
	if c.StreamThresholdBytes > 0 {
		config.StreamThresholdBytes = c.StreamThresholdBytes
	}
	if len(c.AllowedContentTypes) > 0 {
		config.AllowedContentTypes = c.AllowedContentTypes
	}
	setInt(&config.UploadConcurrency, c.UploadConcurrency)
	setString(&config.SpoolDir, c.SpoolDir)
	setInt(&config.ListLimit, c.ListLimit)
	if c.StalePendingAfter.Duration > 0 {
		config.StalePendingAfter = c.StalePendingAfter.Duration
	}
	if c.StaleCheckInterval.Duration > 0 {
		config.StaleCheckInterval = c.StaleCheckInterval.Duration
	}
	setInt(&config.RateLimitPerMinute, c.RateLimitPerMinute)
	setInt(&config.RateLimitBurst, c.RateLimitBurst)
	if len(c.CORSAllowedOrigins) > 0 {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	setString(&config.LogLevel, c.LogLevel)
	if c.LogDevelopment != nil {
		config.LogDevelopment = *c.LogDevelopment
	}
	setString(&config.LogFile, c.LogFile)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/postboard/internal/flagx"
)

// parseFlags overlays selected Config fields from short command-line flags:
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      admin token validity, minutes
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint
//	-k string   storage backend (s3, fs, memory)
//	-r string   storage root for the fs backend
//	-m int      max bytes per uploaded file
//	-w int      upload concurrency per batch
//	-l string   log level
//
// Only these flags are parsed; everything else on the command line is left
// to other flag sets.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-s", "-t", "-u", "-p", "-b", "-g", "-e", "-k", "-r", "-m", "-w", "-l"})

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	tokenTTL := fs.Int("t", int(config.AdminTokenTTL.Minutes()), "admin token validity (in minutes)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.StorageBackend, "k", config.StorageBackend, "storage backend: s3, fs or memory")
	fs.StringVar(&config.StorageRoot, "r", config.StorageRoot, "storage root directory for the fs backend")
	fs.Int64Var(&config.MaxFileBytes, "m", config.MaxFileBytes, "max bytes per uploaded file")
	fs.IntVar(&config.UploadConcurrency, "w", config.UploadConcurrency, "files uploaded in parallel per batch")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "t" {
			config.AdminTokenTTL = time.Duration(*tokenTTL) * time.Minute
		}
	})
	return nil
}

// Package config loads server settings from VERIFY_* environment variables
// and the verification policy from an optional TOML file.
package config

import (
	"fmt"
	"os"
	"time"
)

// MemoryDatabaseURL selects the in-process store instead of PostgreSQL.
const MemoryDatabaseURL = "memory://"

type Config struct {
	DatabaseURL string // VERIFY_DATABASE_URL (required; "memory://" for an in-process store)
	GRPCAddr    string // VERIFY_GRPC_ADDR (default ":9090")
	HTTPAddr    string // VERIFY_HTTP_ADDR (default ":8080")
	NATSURL     string // VERIFY_NATS_URL (optional, empty = SSE only)
	AuthToken   string // VERIFY_AUTH_TOKEN (optional, empty = auth disabled)

	// Notification webhooks; empty logs the message instead.
	NotifyLeadVendorURL string // VERIFY_NOTIFY_LEAD_VENDOR_URL
	NotifyTransferURL   string // VERIFY_NOTIFY_TRANSFER_URL

	OutboxInterval time.Duration // VERIFY_OUTBOX_INTERVAL (default 2s)
	SweepInterval  time.Duration // VERIFY_SWEEP_INTERVAL (default 5m; 0 = disabled)

	// Archive settings
	ArchiveInterval   time.Duration // VERIFY_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveS3Bucket   string        // VERIFY_ARCHIVE_S3_BUCKET (required when archiving)
	ArchiveS3Endpoint string        // VERIFY_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // VERIFY_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // VERIFY_ARCHIVE_S3_PREFIX (default "verifyd/archive")

	PolicyFile string // VERIFY_POLICY_FILE (optional)
	Policy     Policy
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:         os.Getenv("VERIFY_DATABASE_URL"),
		GRPCAddr:            envOrDefault("VERIFY_GRPC_ADDR", ":9090"),
		HTTPAddr:            envOrDefault("VERIFY_HTTP_ADDR", ":8080"),
		NATSURL:             os.Getenv("VERIFY_NATS_URL"),
		AuthToken:           os.Getenv("VERIFY_AUTH_TOKEN"),
		NotifyLeadVendorURL: os.Getenv("VERIFY_NOTIFY_LEAD_VENDOR_URL"),
		NotifyTransferURL:   os.Getenv("VERIFY_NOTIFY_TRANSFER_URL"),
		ArchiveS3Bucket:     os.Getenv("VERIFY_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint:   os.Getenv("VERIFY_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:     envOrDefault("VERIFY_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:     envOrDefault("VERIFY_ARCHIVE_S3_PREFIX", "verifyd/archive"),
		PolicyFile:          os.Getenv("VERIFY_POLICY_FILE"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("VERIFY_DATABASE_URL is required")
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"VERIFY_OUTBOX_INTERVAL", "2s", &c.OutboxInterval},
		{"VERIFY_SWEEP_INTERVAL", "5m", &c.SweepInterval},
		{"VERIFY_ARCHIVE_INTERVAL", "0", &c.ArchiveInterval},
	} {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if c.OutboxInterval <= 0 {
		return nil, fmt.Errorf("VERIFY_OUTBOX_INTERVAL must be positive")
	}
	if c.ArchiveInterval > 0 && c.ArchiveS3Bucket == "" {
		return nil, fmt.Errorf("VERIFY_ARCHIVE_S3_BUCKET is required when VERIFY_ARCHIVE_INTERVAL is set")
	}

	p, err := LoadPolicy(c.PolicyFile)
	if err != nil {
		return nil, err
	}
	c.Policy = p
	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

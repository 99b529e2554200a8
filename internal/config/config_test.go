package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// allEnvVars lists every variable Load reads; each test clears them first.
var allEnvVars = []string{
	"VERIFY_DATABASE_URL", "VERIFY_GRPC_ADDR", "VERIFY_HTTP_ADDR", "VERIFY_NATS_URL",
	"VERIFY_AUTH_TOKEN", "VERIFY_NOTIFY_LEAD_VENDOR_URL", "VERIFY_NOTIFY_TRANSFER_URL",
	"VERIFY_OUTBOX_INTERVAL", "VERIFY_SWEEP_INTERVAL", "VERIFY_ARCHIVE_INTERVAL",
	"VERIFY_ARCHIVE_S3_BUCKET", "VERIFY_ARCHIVE_S3_ENDPOINT", "VERIFY_ARCHIVE_S3_REGION",
	"VERIFY_ARCHIVE_S3_PREFIX", "VERIFY_POLICY_FILE",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	for _, tc := range []struct {
		name         string
		env          map[string]string
		wantErr      bool
		wantGRPCAddr string
		wantHTTPAddr string
		wantNATSURL  string
	}{
		{
			name:    "MissingDatabaseURL",
			env:     map[string]string{},
			wantErr: true,
		},
		{
			name:         "DefaultAddresses",
			env:          map[string]string{"VERIFY_DATABASE_URL": "postgres://localhost/verify"},
			wantGRPCAddr: ":9090",
			wantHTTPAddr: ":8080",
		},
		{
			name: "CustomAddresses",
			env: map[string]string{
				"VERIFY_DATABASE_URL": "postgres://db:5432/verify",
				"VERIFY_GRPC_ADDR":    ":5050",
				"VERIFY_HTTP_ADDR":    ":3000",
				"VERIFY_NATS_URL":     "nats://localhost:4222",
			},
			wantGRPCAddr: ":5050",
			wantHTTPAddr: ":3000",
			wantNATSURL:  "nats://localhost:4222",
		},
		{
			name: "InvalidOutboxInterval",
			env: map[string]string{
				"VERIFY_DATABASE_URL":    "memory://",
				"VERIFY_OUTBOX_INTERVAL": "soon",
			},
			wantErr: true,
		},
		{
			name: "ZeroOutboxInterval",
			env: map[string]string{
				"VERIFY_DATABASE_URL":    "memory://",
				"VERIFY_OUTBOX_INTERVAL": "0s",
			},
			wantErr: true,
		},
		{
			name: "ArchiveWithoutBucket",
			env: map[string]string{
				"VERIFY_DATABASE_URL":     "memory://",
				"VERIFY_ARCHIVE_INTERVAL": "1h",
			},
			wantErr: true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearAllEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.DatabaseURL != tc.env["VERIFY_DATABASE_URL"] {
				t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, tc.env["VERIFY_DATABASE_URL"])
			}
			if cfg.GRPCAddr != tc.wantGRPCAddr {
				t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, tc.wantGRPCAddr)
			}
			if cfg.HTTPAddr != tc.wantHTTPAddr {
				t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, tc.wantHTTPAddr)
			}
			if cfg.NATSURL != tc.wantNATSURL {
				t.Errorf("NATSURL = %q, want %q", cfg.NATSURL, tc.wantNATSURL)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("VERIFY_DATABASE_URL", "postgres://localhost/verify")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.OutboxInterval != 2*time.Second {
		t.Errorf("OutboxInterval = %v, want 2s", cfg.OutboxInterval)
	}
	if cfg.SweepInterval != 5*time.Minute {
		t.Errorf("SweepInterval = %v, want 5m", cfg.SweepInterval)
	}
	if cfg.ArchiveInterval != 0 {
		t.Errorf("ArchiveInterval = %v, want 0 (disabled)", cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Region != "us-east-1" {
		t.Errorf("ArchiveS3Region = %q", cfg.ArchiveS3Region)
	}
	if cfg.ArchiveS3Prefix != "verifyd/archive" {
		t.Errorf("ArchiveS3Prefix = %q", cfg.ArchiveS3Prefix)
	}
	if cfg.Policy != DefaultPolicy() {
		t.Errorf("Policy = %+v, want defaults", cfg.Policy)
	}
	if cfg.Policy.TransferGate().Threshold != 76 {
		t.Errorf("threshold = %d, want 76", cfg.Policy.TransferGate().Threshold)
	}
}

func TestLoadCustom(t *testing.T) {
	clearAllEnv(t)
	t.Setenv("VERIFY_DATABASE_URL", "postgres://localhost/verify")
	t.Setenv("VERIFY_AUTH_TOKEN", "secret")
	t.Setenv("VERIFY_NOTIFY_LEAD_VENDOR_URL", "http://hooks/lead")
	t.Setenv("VERIFY_NOTIFY_TRANSFER_URL", "http://hooks/transfer")
	t.Setenv("VERIFY_OUTBOX_INTERVAL", "500ms")
	t.Setenv("VERIFY_SWEEP_INTERVAL", "0s")
	t.Setenv("VERIFY_ARCHIVE_INTERVAL", "1h")
	t.Setenv("VERIFY_ARCHIVE_S3_BUCKET", "my-bucket")
	t.Setenv("VERIFY_ARCHIVE_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("VERIFY_ARCHIVE_S3_REGION", "eu-west-1")
	t.Setenv("VERIFY_ARCHIVE_S3_PREFIX", "exports")
	t.Setenv("VERIFY_POLICY_FILE", writePolicy(t, "[transfer]\nthreshold = 80\n"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AuthToken != "secret" || cfg.NotifyLeadVendorURL != "http://hooks/lead" || cfg.NotifyTransferURL != "http://hooks/transfer" {
		t.Errorf("unexpected auth/notify config: %+v", cfg)
	}
	if cfg.OutboxInterval != 500*time.Millisecond || cfg.SweepInterval != 0 || cfg.ArchiveInterval != time.Hour {
		t.Errorf("intervals = %v %v %v", cfg.OutboxInterval, cfg.SweepInterval, cfg.ArchiveInterval)
	}
	if cfg.ArchiveS3Bucket != "my-bucket" || cfg.ArchiveS3Endpoint != "http://minio:9000" ||
		cfg.ArchiveS3Region != "eu-west-1" || cfg.ArchiveS3Prefix != "exports" {
		t.Errorf("archive config = %+v", cfg)
	}
	if cfg.Policy.Transfer.Threshold != 80 {
		t.Errorf("threshold = %d, want 80", cfg.Policy.Transfer.Threshold)
	}
}

func TestLoadPolicy(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, `
[transfer]
threshold = 90

[observer]
debounce = "250ms"

[outbox]
max_attempts = 3
base_backoff = "1s"
max_backoff = "1m"
rate_per_second = 5.5
`))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p.TransferGate().Threshold != 90 {
		t.Errorf("threshold = %d", p.TransferGate().Threshold)
	}
	if p.Debounce() != 250*time.Millisecond {
		t.Errorf("debounce = %v", p.Debounce())
	}
	r := p.OutboxRetry()
	if r.MaxAttempts != 3 || r.BaseBackoff != time.Second || r.MaxBackoff != time.Minute || r.RatePerSecond != 5.5 {
		t.Errorf("outbox retry = %+v", r)
	}
}

func TestLoadPolicy_PartialKeepsDefaults(t *testing.T) {
	p, err := LoadPolicy(writePolicy(t, "[observer]\ndebounce = \"1s\"\n"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	def := DefaultPolicy()
	if p.Transfer != def.Transfer || p.Outbox != def.Outbox {
		t.Errorf("expected untouched sections to keep defaults, got %+v", p)
	}
	if p.Debounce() != time.Second {
		t.Errorf("debounce = %v", p.Debounce())
	}
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if p != DefaultPolicy() {
		t.Errorf("expected defaults, got %+v", p)
	}
}

func TestLoadPolicy_Invalid(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
	}{
		{"Syntax", "[transfer\nthreshold = 1"},
		{"ThresholdTooHigh", "[transfer]\nthreshold = 101"},
		{"ThresholdZero", "[transfer]\nthreshold = 0"},
		{"BadDuration", "[observer]\ndebounce = \"fast\""},
		{"NoAttempts", "[outbox]\nmax_attempts = 0"},
		{"BackoffInverted", "[outbox]\nbase_backoff = \"1m\"\nmax_backoff = \"1s\""},
		{"NegativeRate", "[outbox]\nrate_per_second = -1.0"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadPolicy(writePolicy(t, tc.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestEnvOrDefault(t *testing.T) {
	for _, tc := range []struct {
		name     string
		key      string
		envVal   string
		fallback string
		want     string
	}{
		{"EmptyUsesDefault", "TEST_ENVDEFAULT_EMPTY", "", "default-val", "default-val"},
		{"SetUsesEnv", "TEST_ENVDEFAULT_SET", "custom", "default-val", "custom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.envVal)
			got := envOrDefault(tc.key, tc.fallback)
			if got != tc.want {
				t.Errorf("envOrDefault(%q, %q) = %q, want %q", tc.key, tc.fallback, got, tc.want)
			}
		})
	}
}

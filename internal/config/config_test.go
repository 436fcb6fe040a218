package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
discovery:
  max_depth: 3
  max_documents: 100
  workers: 6
  user_agent: review-agent
  respect_robots: false
  per_host_rps: 2
http:
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
  promotion_threshold: 70
storage:
  backend: gcs
  gcs_bucket: review-artifacts
db:
  dsn: postgres://localhost/registry
  table: vendor_registry
pubsub:
  project_id: proj
  topic_id: review-triggers
  subscription_id: review-worker
capability:
  base_url: https://capability.example
  org_id: org-1
  project_id: proj-1
  token_url: https://capability.example/oauth/token
  client_id: client-1
  client_secret: hush
  timeout_seconds: 90
  tasks:
    classify_document: task-classify
    legal_terms_analyzer: task-legal
analysis:
  workers: 3
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Discovery.Workers != 6 || cfg.Discovery.RespectRobots {
		t.Fatalf("expected discovery overrides to apply: %+v", cfg.Discovery)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "review-artifacts" {
		t.Fatalf("expected gcs storage config: %+v", cfg.Storage)
	}
	if !cfg.Capability.Configured() {
		t.Fatalf("expected capability to be configured: %+v", cfg.Capability)
	}
	if got := cfg.Capability.Tasks["legal_terms_analyzer"]; got != "task-legal" {
		t.Fatalf("expected task mapping to be loaded, got %q", got)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if got := cfg.CapabilityTimeout(); got != 90*time.Second {
		t.Fatalf("expected capability timeout 90s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Capability.Configured() {
		t.Fatalf("expected capability unconfigured by default")
	}
	if !cfg.Discovery.RespectRobots {
		t.Fatalf("expected robots respected by default")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Discovery: DiscoveryConfig{Workers: 1},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
		Storage:   StorageConfig{Backend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Discovery.Workers = 0
				return c
			}(),
			want: "discovery.workers",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "gcs backend missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "capability missing secret",
			cfg: func() Config {
				c := base
				c.Capability = CapabilityConfig{
					BaseURL:  "https://capability.example",
					TokenURL: "https://capability.example/oauth/token",
					ClientID: "client-1",
				}
				return c
			}(),
			want: "capability.client_secret",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
ami:
  host: 192.168.1.200
  port: 5038
  username: admin
  secret: s3cret
database:
  dsn: postgres://pbx:pw@localhost:5432/pbx
asterisk:
  config_dir: /etc/asterisk/custom
http:
  listen: ":9000"
  jwt_secret: abc123
mqtt:
  broker: tcp://localhost:1883
  topic_prefix: pbx
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AMI.Addr() != "192.168.1.200:5038" {
		t.Errorf("expected addr=192.168.1.200:5038, got %s", cfg.AMI.Addr())
	}
	if cfg.HTTP.Listen != ":9000" {
		t.Errorf("expected listen=:9000, got %s", cfg.HTTP.Listen)
	}
	if !cfg.MQTT.Enabled() {
		t.Error("expected mqtt enabled")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
ami:
  username: admin
  secret: s3cret
database:
  dsn: postgres://pbx:pw@localhost:5432/pbx
http:
  jwt_secret: abc123
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AMI.Host != "127.0.0.1" {
		t.Errorf("expected default host, got %s", cfg.AMI.Host)
	}
	if cfg.AMI.Port != 5038 {
		t.Errorf("expected default port 5038, got %d", cfg.AMI.Port)
	}
	if cfg.AMI.ExecuteTimeout() != 5*time.Second {
		t.Errorf("expected default execute timeout 5s, got %s", cfg.AMI.ExecuteTimeout())
	}
	if cfg.Asterisk.ConfigDir != "/etc/asterisk/custom" {
		t.Errorf("expected default config dir, got %s", cfg.Asterisk.ConfigDir)
	}
	if cfg.HTTP.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.HTTP.Listen)
	}
	if cfg.MQTT.Enabled() {
		t.Error("expected mqtt disabled when broker unset")
	}
}

func TestLoadMissingRequired(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing username",
			content: `
ami:
  secret: s3cret
database:
  dsn: x
http:
  jwt_secret: abc
`,
			wantErr: "ami.username",
		},
		{
			name: "missing secret",
			content: `
ami:
  username: admin
database:
  dsn: x
http:
  jwt_secret: abc
`,
			wantErr: "ami.secret",
		},
		{
			name: "missing dsn",
			content: `
ami:
  username: admin
  secret: s3cret
http:
  jwt_secret: abc
`,
			wantErr: "database.dsn",
		},
		{
			name: "missing jwt secret",
			content: `
ami:
  username: admin
  secret: s3cret
database:
  dsn: x
`,
			wantErr: "http.jwt_secret",
		},
		{
			name: "bad port",
			content: `
ami:
  username: admin
  secret: s3cret
  port: 99999
database:
  dsn: x
http:
  jwt_secret: abc
`,
			wantErr: "ami.port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

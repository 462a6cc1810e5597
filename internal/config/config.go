package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AMI      AMIConfig      `yaml:"ami"`
	Database DatabaseConfig `yaml:"database"`
	Asterisk AsteriskConfig `yaml:"asterisk"`
	HTTP     HTTPConfig     `yaml:"http"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	LogEnv   string         `yaml:"log_env"`
}

type AMIConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ExecuteTimeout returns the per-action timeout as a duration.
func (c *AMIConfig) ExecuteTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type AsteriskConfig struct {
	ConfigDir string `yaml:"config_dir"`
}

type HTTPConfig struct {
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwt_secret"`
}

// MQTTConfig is optional; an empty broker disables MQTT publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

func (c *AMIConfig) Addr() string {
	return net.JoinHostPort(c.Host, fmt.Sprintf("%d", c.Port))
}

func (c *MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{
		AMI: AMIConfig{
			Host:           "127.0.0.1",
			Port:           5038,
			TimeoutSeconds: 5,
		},
		Asterisk: AsteriskConfig{
			ConfigDir: "/etc/asterisk/custom",
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		MQTT: MQTTConfig{
			ClientID:    "pbxadmin",
			TopicPrefix: "pbx",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AMI.Host == "" {
		return fmt.Errorf("ami.host is required")
	}
	if c.AMI.Port < 1 || c.AMI.Port > 65535 {
		return fmt.Errorf("ami.port must be between 1 and 65535, got %d", c.AMI.Port)
	}
	if c.AMI.Username == "" {
		return fmt.Errorf("ami.username is required")
	}
	if c.AMI.Secret == "" {
		return fmt.Errorf("ami.secret is required")
	}
	if c.AMI.TimeoutSeconds < 1 {
		return fmt.Errorf("ami.timeout_seconds must be positive, got %d", c.AMI.TimeoutSeconds)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Asterisk.ConfigDir == "" {
		return fmt.Errorf("asterisk.config_dir is required")
	}
	if c.HTTP.JWTSecret == "" {
		return fmt.Errorf("http.jwt_secret is required")
	}
	if c.MQTT.Enabled() && c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id is required when mqtt.broker is set")
	}
	return nil
}

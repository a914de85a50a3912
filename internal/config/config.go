package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultAllowedIPs are the ad network's postback sources.
var DefaultAllowedIPs = []string{"52.1.2.3", "54.5.6.7"}

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Guard   GuardConfig   `koanf:"guard"`
	Audit   AuditConfig   `koanf:"audit"`
	GRPC    GRPCConfig    `koanf:"grpc"`
	Logging LoggingConfig `koanf:"logging"`
}

type ServerConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port" validate:"min=1,max=65535"`
	TLSCertFile string `koanf:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `koanf:"tls_key_file" validate:"required_with=TLSCertFile"`
}

type GuardConfig struct {
	Mode       string   `koanf:"mode" validate:"oneof=secure open"`
	AllowedIPs []string `koanf:"allowed_ips" validate:"dive,required"`
}

type AuditConfig struct {
	ConversionsLog string `koanf:"conversions_log" validate:"required"`
	SecurityLog    string `koanf:"security_log" validate:"required"`
	DBPath         string `koanf:"db_path"` // empty disables the SQLite mirror
}

type GRPCConfig struct {
	Addr string `koanf:"addr"` // empty disables the health listener
}

type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Guard: GuardConfig{
			Mode:       "open",
			AllowedIPs: append([]string(nil), DefaultAllowedIPs...),
		},
		Audit: AuditConfig{
			ConversionsLog: "conversions.log",
			SecurityLog:    "security.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, an optional YAML file and the environment, in that
// order of increasing priority.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := splitAllowedIPs(k); err != nil {
		return nil, err
	}

	// NODE_ENV=production selects secure mode unless POSTBACK_MODE says
	// otherwise.
	if strings.TrimSpace(os.Getenv("POSTBACK_MODE")) == "" {
		if v := os.Getenv("NODE_ENV"); strings.EqualFold(strings.TrimSpace(v), "production") {
			if err := k.Set("guard.mode", "secure"); err != nil {
				return nil, fmt.Errorf("set guard.mode: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	cfg.Guard.Mode = strings.ToLower(strings.TrimSpace(cfg.Guard.Mode))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	return validate.Struct(c)
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"port":            "server.port",
	"host":            "server.host",
	"tls_cert_file":   "server.tls_cert_file",
	"tls_key_file":    "server.tls_key_file",
	"postback_mode":   "guard.mode",
	"allowed_ips":     "guard.allowed_ips",
	"conversions_log": "audit.conversions_log",
	"security_log":    "audit.security_log",
	"audit_db_path":   "audit.db_path",
	"grpc_addr":       "grpc.addr",
	"log_level":       "logging.level",
	"log_format":      "logging.format",
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped and blank variables are skipped so the defaults stand.
func envTransformFunc(key, value string) (string, any) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return envMappings[strings.ToLower(key)], value
}

// splitAllowedIPs turns a comma-separated ALLOWED_IPS value into a list.
// A list from the YAML file is left alone and a blank value keeps the
// defaults.
func splitAllowedIPs(k *koanf.Koanf) error {
	s, ok := k.Get("guard.allowed_ips").(string)
	if !ok {
		return nil
	}
	var ips []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ips = append(ips, p)
		}
	}
	if len(ips) == 0 {
		ips = append([]string(nil), DefaultAllowedIPs...)
	}
	if err := k.Set("guard.allowed_ips", ips); err != nil {
		return fmt.Errorf("set guard.allowed_ips: %w", err)
	}
	return nil
}

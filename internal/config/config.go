package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HwangHoYoon/trust/internal/application/scans"
	domain "github.com/HwangHoYoon/trust/internal/domain/scans"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scanner  ScannerConfig  `yaml:"scanner"`
	AI       AIConfig       `yaml:"ai"`
	Database DatabaseConfig `yaml:"database"`
	Minio    MinioConfig    `yaml:"minio"`
	Logger   LoggerConfig   `yaml:"logger"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// APIKeys maps client name to key. Empty disables auth.
	APIKeys     map[string]string `yaml:"api_keys"`
	CORSOrigins []string          `yaml:"cors_origins"`
	RateLimit   struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// AllowPrivateTargets lets scans reach loopback and RFC1918 hosts.
	AllowPrivateTargets bool `yaml:"allow_private_targets"`
}

type ScannerConfig struct {
	Mode         string        `yaml:"mode"`
	Path         string        `yaml:"path"`
	Image        string        `yaml:"image"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	MaxExtracted int           `yaml:"max_extracted"`
	HighRiskInfo []string      `yaml:"high_risk_info"`
}

type AIConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type MinioConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	BucketName string `yaml:"bucket_name"`
	Region     string `yaml:"region"`
	UseSSL     bool   `yaml:"use_ssl"`
}

type LoggerConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ServiceName string `yaml:"service_name"`
	LogFile     string `yaml:"log_file"`
	MaxSize     int    `yaml:"max_size"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAge      int    `yaml:"max_age"`
	Compress    bool   `yaml:"compress"`
	AddSource   bool   `yaml:"add_source"`
}

// Load baca file config.yaml, then applies defaults and env overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("OPENAI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := getenv("MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.RateLimit.RPS <= 0 {
		c.Server.RateLimit.RPS = 5
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = 10
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	if c.Scanner.Mode == "" {
		c.Scanner.Mode = "local"
	}
	if c.Scanner.Path == "" {
		c.Scanner.Path = "nuclei"
	}
	if c.Scanner.Image == "" {
		c.Scanner.Image = "projectdiscovery/nuclei:latest"
	}
	if c.Scanner.WaitTimeout <= 0 {
		c.Scanner.WaitTimeout = scans.DefaultWaitTimeout
	}
	if c.Scanner.MaxExtracted <= 0 {
		c.Scanner.MaxExtracted = domain.DefaultMaxExtracted
	}
	if c.Scanner.HighRiskInfo == nil {
		c.Scanner.HighRiskInfo = append([]string(nil), domain.DefaultHighRiskInfo...)
	}

	if c.AI.Provider == "" {
		if c.AI.APIKey != "" {
			c.AI.Provider = "openai"
		} else {
			c.AI.Provider = "none"
		}
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 2000
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "memory"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "scan-artifacts"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "json"
	}
	if c.Logger.ServiceName == "" {
		c.Logger.ServiceName = "trust"
	}
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	switch c.Scanner.Mode {
	case "local", "docker":
	default:
		return fmt.Errorf("scanner.mode must be local or docker, got %q", c.Scanner.Mode)
	}
	switch c.Database.Driver {
	case "memory", "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver must be memory, mysql or postgres, got %q", c.Database.Driver)
	}
	switch c.AI.Provider {
	case "none":
	case "openai":
		if c.AI.APIKey == "" {
			return fmt.Errorf("ai.provider openai requires ai.api_key or OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("ai.provider must be openai or none, got %q", c.AI.Provider)
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		return fmt.Errorf("minio.endpoint is required when minio is enabled")
	}
	return nil
}

// ScanOptions derives the orchestrator options.
func (c *Config) ScanOptions() scans.Options {
	return scans.Options{
		WaitTimeout:  c.Scanner.WaitTimeout,
		MaxExtracted: c.Scanner.MaxExtracted,
		HighRiskInfo: append([]string(nil), c.Scanner.HighRiskInfo...),
	}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq URL DSN.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + strings.TrimPrefix(c.Database.Name, "/"),
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

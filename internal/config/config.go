package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/womenscare/clinical-analysis/internal/domain/ai"
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"readTimeout"`
		WriteTimeout    time.Duration `yaml:"writeTimeout"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
		CORSOrigins     []string      `yaml:"corsOrigins"`
	} `yaml:"server"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Database struct {
		Driver       string `yaml:"driver"` // postgres | mysql
		Host         string `yaml:"host"`
		Port         int    `yaml:"port"`
		User         string `yaml:"user"`
		Password     string `yaml:"password"`
		Name         string `yaml:"name"`
		SSLMode      string `yaml:"sslMode"`
		MaxOpenConns int    `yaml:"maxOpenConns"`
		MaxIdleConns int    `yaml:"maxIdleConns"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Auth struct {
		AdminKey string `yaml:"adminKey"`
		// TenantKeys maps tenant ID to its API key.
		TenantKeys map[string]string `yaml:"tenantKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Burst     int     `yaml:"burst"`
		PerSecond float64 `yaml:"perSecond"`
	} `yaml:"rateLimit"`

	Retry struct {
		MaxAttempts int           `yaml:"maxAttempts"`
		BaseDelay   time.Duration `yaml:"baseDelay"`
		MaxDelay    time.Duration `yaml:"maxDelay"`
	} `yaml:"retry"`

	// Providers keyed by provider name (openai, anthropic, google).
	Providers map[string]ProviderConfig `yaml:"providers"`

	Pricing ai.PriceTable `yaml:"pricing"`

	Retrieval struct {
		Enabled         bool          `yaml:"enabled"`
		Addresses       []string      `yaml:"addresses"`
		Username        string        `yaml:"username"`
		Password        string        `yaml:"password"`
		APIKey          string        `yaml:"apiKey"`
		Index           string        `yaml:"index"`
		EmbeddingModel  string        `yaml:"embeddingModel"`
		EmbeddingAPIKey string        `yaml:"embeddingApiKey"`
		NumCandidates   int           `yaml:"numCandidates"`
		CacheSize       int           `yaml:"cacheSize"`
		CacheTTL        time.Duration `yaml:"cacheTTL"`
	} `yaml:"retrieval"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadEnvFile loads .env into the process environment when present.
func LoadEnvFile(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// Load baca file config.yaml. ${VAR} references are expanded before
// parsing; env overrides and defaults apply afterwards.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a config document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	str := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str(&c.Database.Host, "DB_HOST")
	str(&c.Database.User, "DB_USER")
	str(&c.Database.Password, "DB_PASSWORD")
	str(&c.Database.Name, "DB_NAME")
	str(&c.Database.Driver, "DB_DRIVER")
	str(&c.Minio.AccessKey, "MINIO_ACCESS_KEY")
	str(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
	str(&c.Auth.AdminKey, "ADMIN_API_KEY")
	str(&c.Retrieval.Password, "ELASTICSEARCH_PASSWORD")
	str(&c.Retrieval.APIKey, "ELASTICSEARCH_API_KEY")
	str(&c.Retrieval.EmbeddingAPIKey, "OPENAI_API_KEY")
	str(&c.Log.Level, "LOG_LEVEL")
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	// analysis runs are synchronous and can take minutes
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Port == 0 {
		if c.Database.Driver == "mysql" {
			c.Database.Port = 3306
		} else {
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "analysis-transcripts"
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.RateLimit.PerSecond == 0 {
		c.RateLimit.PerSecond = 5
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = time.Second
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 30 * time.Second
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	def := ai.DefaultPriceTable()
	if c.Pricing.Models == nil {
		c.Pricing.Models = def.Models
	}
	if c.Pricing.Providers == nil {
		c.Pricing.Providers = def.Providers
	}
	if c.Retrieval.Index == "" {
		c.Retrieval.Index = "clinical-documents"
	}
	if c.Retrieval.EmbeddingModel == "" {
		c.Retrieval.EmbeddingModel = "text-embedding-3-small"
	}
	if c.Retrieval.NumCandidates == 0 {
		c.Retrieval.NumCandidates = 100
	}
	if c.Retrieval.CacheSize == 0 {
		c.Retrieval.CacheSize = 512
	}
	if c.Retrieval.CacheTTL == 0 {
		c.Retrieval.CacheTTL = 10 * time.Minute
	}
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "mysql":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q must be postgres or mysql", c.Database.Driver))
	}
	if c.Database.Host == "" || c.Database.Name == "" {
		errs = append(errs, errors.New("database.host and database.name are required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Minio.Enabled && (c.Minio.Endpoint == "" || c.Minio.AccessKey == "" || c.Minio.SecretKey == "") {
		errs = append(errs, errors.New("minio.endpoint, accessKey and secretKey are required when minio is enabled"))
	}
	if c.Retrieval.Enabled {
		if len(c.Retrieval.Addresses) == 0 {
			errs = append(errs, errors.New("retrieval.addresses is required when retrieval is enabled"))
		}
		if c.Retrieval.EmbeddingAPIKey == "" {
			errs = append(errs, errors.New("retrieval.embeddingApiKey (or OPENAI_API_KEY) is required when retrieval is enabled"))
		}
	}
	for name := range c.Providers {
		switch name {
		case "openai", "anthropic", "google":
		default:
			errs = append(errs, fmt.Errorf("providers.%s is not a supported provider", name))
		}
	}
	for tenant, key := range c.Auth.TenantKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Errorf("auth.tenantKeys.%s is empty", tenant))
		}
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.maxAttempts must be >= 1"))
	}
	return errors.Join(errs...)
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

// PostgresDSN builds a lib/pq connection URL.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Database.Driver == "mysql" {
		return c.MySQLDSN()
	}
	return c.PostgresDSN()
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultCheckInterval = 5 * time.Minute
	defaultCachePath     = "mijnhost-ddns.db"
	defaultMetricsAddr   = ":9090"
	defaultLogLevel      = "info"
	defaultLogEnv        = "prod"

	defaultIPv4ServiceURL = "https://api.ipify.org?format=json"
	defaultIPv6ServiceURL = "https://api6.ipify.org?format=json"
	defaultIPTimeout      = 10 * time.Second

	defaultAPIBaseURL   = "https://mijn.host/api/v2"
	defaultAPITimeout   = 30 * time.Second
	defaultRetryMax     = 3
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 30 * time.Second
	defaultRecordTTL    = 900
)

type Config struct {
	CheckInterval time.Duration `yaml:"checkInterval"`
	CachePath     string        `yaml:"cachePath"`
	MetricsAddr   string        `yaml:"metricsAddr"`
	Log           Log           `yaml:"log"`
	IPService     IPService     `yaml:"ipService"`
	Provider      Provider      `yaml:"provider"`
	Domains       []Domain      `yaml:"domains"`

	// Supplied via MIJNHOST_API_KEY, never via the config file.
	APIKey string `yaml:"-"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type IPService struct {
	V4URL   string        `yaml:"v4Url"`
	V6URL   string        `yaml:"v6Url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Provider struct {
	BaseURL      string        `yaml:"baseUrl"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retryMax"`
	RetryWaitMin time.Duration `yaml:"retryWaitMin"`
	RetryWaitMax time.Duration `yaml:"retryWaitMax"`
	TTL          int           `yaml:"ttl"`
}

type Domain struct {
	Name    string   `yaml:"name"`
	Records []Record `yaml:"records"`
}

type Record struct {
	// Name is the subdomain relative to the domain. Empty or "@" means the
	// apex; it is normalized to empty during load.
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	TTL  int    `yaml:"ttl"`
}

type envOverrides struct {
	APIKey        string        `envconfig:"MIJNHOST_API_KEY"`
	CheckInterval time.Duration `envconfig:"MIJNHOST_DDNS_CHECK_INTERVAL"`
	CachePath     string        `envconfig:"MIJNHOST_DDNS_CACHE_PATH"`
	MetricsAddr   string        `envconfig:"MIJNHOST_DDNS_METRICS_ADDR"`
	LogLevel      string        `envconfig:"MIJNHOST_DDNS_LOG_LEVEL"`
	LogEnv        string        `envconfig:"MIJNHOST_DDNS_LOG_ENV"`
	V4ServiceURL  string        `envconfig:"MIJNHOST_DDNS_IP_SERVICE_URL"`
	V6ServiceURL  string        `envconfig:"MIJNHOST_DDNS_IPV6_SERVICE_URL"`
	APIBaseURL    string        `envconfig:"MIJNHOST_DDNS_API_BASE_URL"`
}

// Path returns the config file location, overridable via environment.
func Path() string {
	if p := os.Getenv("MIJNHOST_DDNS_CONFIG"); p != "" {
		return p
	}
	return "dns_config.yml"
}

// Load reads and validates the config file at path. If the file does not
// exist, a commented template is written there first so a fresh deployment
// has something to edit. Malformed YAML or invalid record definitions are
// returned as errors; startup treats them as fatal.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, writing template", "path", path)
		if err := writeTemplate(path); err != nil {
			return nil, fmt.Errorf("write config template: %w", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("read environment overrides: %w", err)
	}
	cfg.applyEnv(env)
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(env envOverrides) {
	c.APIKey = env.APIKey
	if env.CheckInterval != 0 {
		c.CheckInterval = env.CheckInterval
	}
	if env.CachePath != "" {
		c.CachePath = env.CachePath
	}
	if env.MetricsAddr != "" {
		c.MetricsAddr = env.MetricsAddr
	}
	if env.LogLevel != "" {
		c.Log.Level = env.LogLevel
	}
	if env.LogEnv != "" {
		c.Log.Env = env.LogEnv
	}
	if env.V4ServiceURL != "" {
		c.IPService.V4URL = env.V4ServiceURL
	}
	if env.V6ServiceURL != "" {
		c.IPService.V6URL = env.V6ServiceURL
	}
	if env.APIBaseURL != "" {
		c.Provider.BaseURL = env.APIBaseURL
	}
}

func (c *Config) applyDefaults() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.CachePath == "" {
		c.CachePath = defaultCachePath
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
	if c.Log.Env == "" {
		c.Log.Env = defaultLogEnv
	}
	if c.IPService.V4URL == "" {
		c.IPService.V4URL = defaultIPv4ServiceURL
	}
	if c.IPService.V6URL == "" {
		c.IPService.V6URL = defaultIPv6ServiceURL
	}
	if c.IPService.Timeout <= 0 {
		c.IPService.Timeout = defaultIPTimeout
	}
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultAPIBaseURL
	}
	if c.Provider.Timeout <= 0 {
		c.Provider.Timeout = defaultAPITimeout
	}
	if c.Provider.RetryMax <= 0 {
		c.Provider.RetryMax = defaultRetryMax
	}
	if c.Provider.RetryWaitMin <= 0 {
		c.Provider.RetryWaitMin = defaultRetryWaitMin
	}
	if c.Provider.RetryWaitMax <= 0 {
		c.Provider.RetryWaitMax = defaultRetryWaitMax
	}
	if c.Provider.TTL <= 0 {
		c.Provider.TTL = defaultRecordTTL
	}
}

func (c *Config) validate() error {
	if !strings.HasPrefix(c.IPService.V4URL, "http://") && !strings.HasPrefix(c.IPService.V4URL, "https://") {
		return fmt.Errorf("ipService.v4Url %q is not an http(s) URL", c.IPService.V4URL)
	}

	seenDomains := make(map[string]bool)
	for i := range c.Domains {
		d := &c.Domains[i]
		d.Name = strings.TrimSpace(strings.TrimSuffix(d.Name, "."))
		if d.Name == "" {
			return fmt.Errorf("domain at index %d has an empty name", i)
		}
		if seenDomains[d.Name] {
			return fmt.Errorf("domain %s is configured more than once", d.Name)
		}
		seenDomains[d.Name] = true

		if len(d.Records) == 0 {
			return fmt.Errorf("domain %s has no records", d.Name)
		}

		seenRecords := make(map[string]bool)
		for j := range d.Records {
			r := &d.Records[j]
			r.Name = strings.TrimSpace(r.Name)
			if r.Name == "@" {
				r.Name = ""
			}
			r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
			if r.Type != "A" && r.Type != "AAAA" {
				return fmt.Errorf("domain %s record %q: type must be A or AAAA, got %q", d.Name, r.Name, r.Type)
			}
			if r.TTL < 0 {
				return fmt.Errorf("domain %s record %q: ttl must not be negative", d.Name, r.Name)
			}
			key := r.Name + "|" + r.Type
			if seenRecords[key] {
				return fmt.Errorf("domain %s record (%q, %s) is configured more than once", d.Name, r.Name, r.Type)
			}
			seenRecords[key] = true
		}
	}
	return nil
}

const template = `# mijnhost-ddns configuration.
#
# The mijn.host API key is never read from this file; set the
# MIJNHOST_API_KEY environment variable instead.

checkInterval: 5m
cachePath: mijnhost-ddns.db

# Structured logs go to stdout. Set env to "dev" for colored output.
log:
  level: info
  env: prod

# List the records that should follow the public IP of this host.
# A record name of "@" (or an empty name) targets the bare domain.
domains: []
#  - name: example.com
#    records:
#      - name: "@"
#        type: A
#      - name: www
#        type: A
#        ttl: 300
#      - name: "@"
#        type: AAAA
`

func writeTemplate(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(template), 0o644)
}

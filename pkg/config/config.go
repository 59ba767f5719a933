// Package config loads the immutable, per-process-role configuration
// document described in spec §6: one YAML file per role, with
// environment variables overriding file values under the <ROLE>_<KEY>
// convention, and built-in defaults losing to both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthMode selects how the controller authenticates incoming requests.
type AuthMode string

const (
	AuthNone    AuthMode = "none"
	AuthAPIKey  AuthMode = "api_key"
	AuthJWT     AuthMode = "jwt"
	AuthHybrid  AuthMode = "hybrid"
)

// Redis holds the shared queue/cache/gate backend connection settings.
type Redis struct {
	Host      string `yaml:"redis_host"`
	Port      int    `yaml:"redis_port"`
	TLS       bool   `yaml:"redis_tls"`
	AuthToken string `yaml:"redis_auth_token"`
}

// JWTProvider is one accepted JWT issuer. Kind selects which of the
// closed provider-type set validates its tokens: "static" trusts the
// Issuer/JWKSURL given here verbatim, while "google"/"azuread" discover
// both from the provider's well-known OIDC configuration document.
type JWTProvider struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Issuer   string `yaml:"issuer"`
	JWKSURL  string `yaml:"jwks_url"`
	Audience string `yaml:"audience"`
}

// Controller is the configuration document for the controller process.
type Controller struct {
	RedisConfig Redis `yaml:"redis"`

	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	InventoryType string `yaml:"inventory_type"`
	InventoryPath string `yaml:"inventory_path"`

	CredentialPlugin string `yaml:"credential_plugin"`
	CredentialPath   string `yaml:"credential_path"`

	AuthMode         AuthMode      `yaml:"auth_mode"`
	APIKeys          []string      `yaml:"api_keys"`
	APIKeyHeaders    []string      `yaml:"api_key_headers"`
	JWTProviders     []JWTProvider `yaml:"jwt_providers"`
	JWTRequireHTTPS  bool          `yaml:"jwt_require_https"`
	JWTLeewayS       int           `yaml:"jwt_leeway_s"`

	AllowedUsers     []string `yaml:"allowed_users"`
	AllowedDomains   []string `yaml:"allowed_domains"`
	AllowedUserRegex []string `yaml:"allowed_user_regex"`

	CacheEnabled    bool   `yaml:"cache_enabled"`
	CacheDefaultTTL int    `yaml:"cache_default_ttl"`
	CacheMaxTTL     int    `yaml:"cache_max_ttl"`
	CacheKeyPrefix  string `yaml:"cache_key_prefix"`

	CustomTemplateDir string `yaml:"custom_template_dir"`
	BuiltinTemplateDir string `yaml:"builtin_template_dir"`

	// LeaseTTLS sizes the read-only Gate used for /monitoring/devices
	// lease-state reporting; it plays no part in acquiring or renewing
	// leases, which is the worker fleet's responsibility alone.
	LeaseTTLS int `yaml:"lease_ttl_s"`
}

// Worker is the configuration document for the worker process.
type Worker struct {
	RedisConfig Redis `yaml:"redis"`

	CredentialPlugin string `yaml:"credential_plugin"`
	CredentialPath   string `yaml:"credential_path"`

	InventoryType string `yaml:"inventory_type"`
	InventoryPath string `yaml:"inventory_path"`

	LogLevel        string `yaml:"log_level"`
	WorkerLivenessS int    `yaml:"worker_liveness_s"`
	LeaseTTLS       int    `yaml:"lease_ttl_s"`
	ShutdownGraceS  int    `yaml:"shutdown_grace_s"`
	ConsumerID      string `yaml:"consumer_id"`

	CacheEnabled    bool `yaml:"cache_enabled"`
	CacheDefaultTTL int  `yaml:"cache_default_ttl"`
	CacheMaxTTL     int  `yaml:"cache_max_ttl"`
	CacheKeyPrefix  string `yaml:"cache_key_prefix"`

	// PluginOptions holds the plugin_<name>_<option> namespaced keys
	// verbatim, for plugins to interpret themselves.
	PluginOptions map[string]string `yaml:"-"`
}

func defaultControllerValues() Controller {
	return Controller{
		RedisConfig:        Redis{Host: "127.0.0.1", Port: 6379},
		Host:               "0.0.0.0",
		Port:               8080,
		LogLevel:           "info",
		InventoryType:      "yaml",
		InventoryPath:      "inventory.yaml",
		CredentialPlugin:   "yaml",
		CredentialPath:     "credentials.yaml",
		AuthMode:           AuthNone,
		JWTLeewayS:         30,
		CacheEnabled:       true,
		CacheDefaultTTL:    300,
		CacheMaxTTL:        3600,
		CacheKeyPrefix:     "tom:cache:",
		BuiltinTemplateDir: "templates/builtin",
		LeaseTTLS:          300,
	}
}

func defaultWorkerValues() Worker {
	return Worker{
		RedisConfig:     Redis{Host: "127.0.0.1", Port: 6379},
		LogLevel:        "info",
		InventoryType:   "yaml",
		InventoryPath:   "inventory.yaml",
		CredentialPlugin: "yaml",
		CredentialPath:  "credentials.yaml",
		WorkerLivenessS: 60,
		LeaseTTLS:       300,
		ShutdownGraceS:  30,
		CacheEnabled:    true,
		CacheDefaultTTL: 300,
		CacheMaxTTL:     3600,
		CacheKeyPrefix:  "tom:cache:",
		PluginOptions:   map[string]string{},
	}
}

// LoadController reads a controller config file (if path is non-empty)
// layered over built-in defaults, then applies CONTROLLER_<KEY> env
// overrides.
func LoadController(path string) (*Controller, error) {
	cfg := defaultControllerValues()
	if path != "" {
		if err := readYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading controller config: %w", err)
		}
	}
	applyControllerEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	return &cfg, nil
}

// LoadWorker reads a worker config file (if path is non-empty) layered
// over built-in defaults, then applies WORKER_<KEY> env overrides.
func LoadWorker(path string) (*Worker, error) {
	cfg := defaultWorkerValues()
	if path != "" {
		if err := readYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading worker config: %w", err)
		}
	}
	applyWorkerEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	return &cfg, nil
}

func readYAMLFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func (c *Controller) validate() error {
	if c.Port <= 0 {
		return fmt.Errorf("port must be positive, got %d", c.Port)
	}
	switch c.AuthMode {
	case AuthNone, AuthAPIKey, AuthJWT, AuthHybrid:
	default:
		return fmt.Errorf("unknown auth_mode %q", c.AuthMode)
	}
	if c.CacheDefaultTTL > c.CacheMaxTTL {
		c.CacheDefaultTTL = c.CacheMaxTTL
	}
	return nil
}

func (w *Worker) validate() error {
	if w.WorkerLivenessS <= 0 {
		return fmt.Errorf("worker_liveness_s must be positive")
	}
	if w.LeaseTTLS <= 0 {
		return fmt.Errorf("lease_ttl_s must be positive")
	}
	return nil
}

// applyControllerEnv overrides fields from CONTROLLER_* environment
// variables. Only the scalar, commonly-overridden keys are supported;
// list-valued keys (api_keys, allowed_users, ...) are intentionally left
// to the config file since comma-splitting regexes in an env var is
// fragile.
func applyControllerEnv(c *Controller) {
	env("CONTROLLER_REDIS_HOST", &c.RedisConfig.Host)
	envInt("CONTROLLER_REDIS_PORT", &c.RedisConfig.Port)
	envBool("CONTROLLER_REDIS_TLS", &c.RedisConfig.TLS)
	env("CONTROLLER_REDIS_AUTH_TOKEN", &c.RedisConfig.AuthToken)
	env("CONTROLLER_HOST", &c.Host)
	envInt("CONTROLLER_PORT", &c.Port)
	env("CONTROLLER_LOG_LEVEL", &c.LogLevel)
	env("CONTROLLER_INVENTORY_TYPE", &c.InventoryType)
	env("CONTROLLER_INVENTORY_PATH", &c.InventoryPath)
	env("CONTROLLER_CREDENTIAL_PLUGIN", &c.CredentialPlugin)
	env("CONTROLLER_CREDENTIAL_PATH", &c.CredentialPath)
	if v, ok := os.LookupEnv("CONTROLLER_AUTH_MODE"); ok {
		c.AuthMode = AuthMode(v)
	}
	envBool("CONTROLLER_JWT_REQUIRE_HTTPS", &c.JWTRequireHTTPS)
	envInt("CONTROLLER_JWT_LEEWAY_S", &c.JWTLeewayS)
	envBool("CONTROLLER_CACHE_ENABLED", &c.CacheEnabled)
	envInt("CONTROLLER_CACHE_DEFAULT_TTL", &c.CacheDefaultTTL)
	envInt("CONTROLLER_CACHE_MAX_TTL", &c.CacheMaxTTL)
	env("CONTROLLER_CACHE_KEY_PREFIX", &c.CacheKeyPrefix)
	env("CONTROLLER_CUSTOM_TEMPLATE_DIR", &c.CustomTemplateDir)
	env("CONTROLLER_BUILTIN_TEMPLATE_DIR", &c.BuiltinTemplateDir)
	envInt("CONTROLLER_LEASE_TTL_S", &c.LeaseTTLS)
}

func applyWorkerEnv(w *Worker) {
	env("WORKER_REDIS_HOST", &w.RedisConfig.Host)
	envInt("WORKER_REDIS_PORT", &w.RedisConfig.Port)
	envBool("WORKER_REDIS_TLS", &w.RedisConfig.TLS)
	env("WORKER_REDIS_AUTH_TOKEN", &w.RedisConfig.AuthToken)
	env("WORKER_LOG_LEVEL", &w.LogLevel)
	env("WORKER_CREDENTIAL_PLUGIN", &w.CredentialPlugin)
	env("WORKER_CREDENTIAL_PATH", &w.CredentialPath)
	env("WORKER_INVENTORY_TYPE", &w.InventoryType)
	env("WORKER_INVENTORY_PATH", &w.InventoryPath)
	envInt("WORKER_WORKER_LIVENESS_S", &w.WorkerLivenessS)
	envInt("WORKER_LEASE_TTL_S", &w.LeaseTTLS)
	envInt("WORKER_SHUTDOWN_GRACE_S", &w.ShutdownGraceS)
	env("WORKER_CONSUMER_ID", &w.ConsumerID)
	envBool("WORKER_CACHE_ENABLED", &w.CacheEnabled)
	envInt("WORKER_CACHE_DEFAULT_TTL", &w.CacheDefaultTTL)
	envInt("WORKER_CACHE_MAX_TTL", &w.CacheMaxTTL)
	env("WORKER_CACHE_KEY_PREFIX", &w.CacheKeyPrefix)

	const pluginPrefix = "WORKER_PLUGIN_"
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, pluginPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, pluginPrefix))
		w.PluginOptions[key] = v
	}
}

func env(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Addr returns "host:port" for a Redis config.
func (r Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

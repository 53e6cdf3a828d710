// Package gatewayconfig loads the gateway's configuration from a YAML file
// and environment variables, and carries it through request context.
package gatewayconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete configuration structure for the gateway process.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Catalogue  CatalogueConfig  `yaml:"catalogue"`
	Pool       PoolConfig       `yaml:"pool"`
	Relational RelationalConfig `yaml:"relational"`
	Search     SearchConfig     `yaml:"search"`
	Auth       AuthConfig       `yaml:"auth"`
	CorsConfig CorsConfig       `yaml:"cors" mapstructure:"cors"`
}

// ServerConfig contains HTTP server configuration parameters.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Extension   string `yaml:"extension"`
	LogLevel    string `yaml:"logLevel"`
	LogLocation string `yaml:"logLocation"`
	Backend     string `yaml:"backend"` // "catalogue" or "relational"
}

// CatalogueConfig configures the C7 catalogue client and C3 session pool's
// wire-level parameters.
type CatalogueConfig struct {
	URL                       string `yaml:"url"`
	CheckCert                 bool   `yaml:"checkCert"`
	TimeoutMS                 int    `yaml:"timeoutMs"`
	RefreshThresholdSeconds   int    `yaml:"refreshThresholdSeconds"`
}

// PoolConfig configures the C3 session pool.
type PoolConfig struct {
	ClientCacheSize   int    `yaml:"clientCacheSize"`
	InitSize          int    `yaml:"initSize"`
	MaxSize           int    `yaml:"maxSize"`
	BorrowTimeoutMS   int    `yaml:"borrowTimeoutMs"`
	MaintenancePeriod int    `yaml:"maintenancePeriodSeconds" mapstructure:"maintenancePeriodSeconds"`
	TestMechanism     string `yaml:"testMechanism"`
	TestUsername      string `yaml:"testUsername"`
	TestPassword      string `yaml:"testPassword"`
}

// RelationalConfig configures the C8 relational backend, consulted only
// when Server.Backend == "relational".
type RelationalConfig struct {
	DBURL   string `yaml:"dbUrl"`
	Dialect string `yaml:"dialect"`
}

// SearchConfig configures the C5 projection engine.
type SearchConfig struct {
	MappingPath string `yaml:"mappingPath"`
}

// AuthConfig holds the test identity the pool authenticates against;
// per-request end-user credentials are never part of process configuration.
type AuthConfig struct {
	TestUserCredentials string `yaml:"testUserCredentials"`
	TestMechanism       string `yaml:"testMechanism"`
}

// CorsConfig mirrors go-chi/cors' Options subset the gateway exposes as
// configuration.
type CorsConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

// LoadConfig loads configuration from an optional YAML file, environment
// variables (highest priority, dot-to-underscore key translation), and
// defaults (lowest priority).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		log.Printf("loading config from file: %s", configPath)
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Println("no config file provided — loading from environment variables only")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.extension", "")
	v.SetDefault("server.logLevel", "info")
	v.SetDefault("server.logLocation", "")
	v.SetDefault("server.backend", "catalogue")

	v.SetDefault("catalogue.url", "https://localhost:8181/icat")
	v.SetDefault("catalogue.checkCert", true)
	v.SetDefault("catalogue.timeoutMs", 30000)
	v.SetDefault("catalogue.refreshThresholdSeconds", 300)

	v.SetDefault("pool.clientCacheSize", 100)
	v.SetDefault("pool.initSize", 2)
	v.SetDefault("pool.maxSize", 10)
	v.SetDefault("pool.borrowTimeoutMs", 5000)
	v.SetDefault("pool.maintenancePeriodSeconds", 60)

	v.SetDefault("relational.dbUrl", "")
	v.SetDefault("relational.dialect", "postgres")

	v.SetDefault("search.mappingPath", "config/search_api_mapping.json")

	v.SetDefault("auth.testUserCredentials", "")
	v.SetDefault("auth.testMechanism", "simple")

	v.SetDefault("cors.allowedOrigins", []string{"*"})
	v.SetDefault("cors.allowedMethods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowedHeaders", []string{"*"})
	v.SetDefault("cors.allowCredentials", true)
}

// PrintConfiguration logs the loaded configuration as pretty-printed JSON,
// with catalogue credentials redacted.
func PrintConfiguration(cfg *Config) {
	cfgCopy := *cfg
	cfgCopy.Auth.TestUserCredentials = redact(cfgCopy.Auth.TestUserCredentials)
	cfgCopy.Relational.DBURL = redact(cfgCopy.Relational.DBURL)

	configJSON, err := json.MarshalIndent(cfgCopy, "", "  ")
	if err != nil {
		log.Printf("unable to marshal configuration to JSON: %v", err)
		return
	}
	log.Printf("loaded configuration:\n%s", string(configJSON))
}

func redact(s string) string {
	if s == "" {
		return s
	}
	return "****"
}

type configKey struct{}

// Middleware injects the process-wide *Config into each request context.
func Middleware(cfg *Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), configKey{}, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the *Config stored in context.
func FromContext(ctx context.Context) (*Config, bool) {
	cfg, ok := ctx.Value(configKey{}).(*Config)
	return cfg, ok
}

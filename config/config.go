// Package config loads the server configuration. Values come from built-in
// defaults, then the YAML file, then BUFFET_ prefixed environment variables
// (a .env file in the working directory is read into the environment first).
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sebdeveloper6952/gobuffet/services/upstream"
)

const EnvPrefix = "BUFFET_"

type Config struct {
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Engine    EngineConfig    `yaml:"engine" envPrefix:"ENGINE_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Lease     LeaseConfig     `yaml:"lease" envPrefix:"LEASE_"`
	Lightning LightningConfig `yaml:"lightning" envPrefix:"LIGHTNING_"`
	Nostr     NostrConfig     `yaml:"nostr" envPrefix:"NOSTR_"`
	Events    EventsConfig    `yaml:"events" envPrefix:"EVENTS_"`
	Metrics   MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`

	Services []ServiceConfig `yaml:"services"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
	// PublicURL is how payers reach this server, used in result URLs and
	// announcements.
	PublicURL      string   `yaml:"public_url" env:"PUBLIC_URL"`
	UploadDir      string   `yaml:"upload_dir" env:"UPLOAD_DIR"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// InvoiceLimit applies to POST /{service}, PollLimit to get_result and
	// check_payment. Both are per client IP.
	InvoiceLimit RateConfig `yaml:"invoice_limit" envPrefix:"INVOICE_LIMIT_"`
	PollLimit    RateConfig `yaml:"poll_limit" envPrefix:"POLL_LIMIT_"`
}

// RateConfig is a token bucket. A zero rps disables it.
type RateConfig struct {
	RPS   float64 `yaml:"rps" env:"RPS"`
	Burst int     `yaml:"burst" env:"BURST"`
}

type EngineConfig struct {
	GatewayTimeout time.Duration `yaml:"gateway_timeout" env:"GATEWAY_TIMEOUT"`
	StepTimeout    time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	DefaultTries   int           `yaml:"default_tries" env:"DEFAULT_TRIES"`
}

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN   string `yaml:"dsn" env:"DSN"`
	Table string `yaml:"table" env:"TABLE"`
}

const (
	LeaseLocal = "local"
	LeaseRedis = "redis"
)

type LeaseConfig struct {
	Backend       string        `yaml:"backend" env:"BACKEND"`
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" env:"TTL"`
	Wait          time.Duration `yaml:"wait" env:"WAIT"`
}

const (
	LightningLND     = "lnd"
	LightningLNbits  = "lnbits"
	LightningAddress = "lnurl"
)

type LightningConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"`
	Network string `yaml:"network" env:"NETWORK"`
	Memo    string `yaml:"memo" env:"MEMO"`
	// InvoiceExpiry is requested from backends that take one.
	InvoiceExpiry time.Duration `yaml:"invoice_expiry" env:"INVOICE_EXPIRY"`

	// Address is the lightning address (user@domain) for the lnurl backend.
	Address string `yaml:"address" env:"ADDRESS"`

	LND    LNDConfig    `yaml:"lnd" envPrefix:"LND_"`
	LNbits LNbitsConfig `yaml:"lnbits" envPrefix:"LNBITS_"`
}

type LNDConfig struct {
	Host        string `yaml:"host" env:"HOST"`
	GrpcPort    string `yaml:"grpc_port" env:"GRPC_PORT"`
	MacaroonHex string `yaml:"macaroon_hex" env:"MACAROON_HEX"`
	TLSPath     string `yaml:"tls_path" env:"TLS_PATH"`
}

type LNbitsConfig struct {
	URL    string `yaml:"url" env:"URL"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

type NostrConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	SecretKey string        `yaml:"nsec" env:"NSEC"`
	Relays    []string      `yaml:"relays" env:"RELAYS"`
	Interval  time.Duration `yaml:"interval" env:"INTERVAL"`
	Debug     bool          `yaml:"debug" env:"DEBUG"`
	Name      string        `yaml:"name" env:"NAME"`
	About     string        `yaml:"about" env:"ABOUT"`
	Picture   string        `yaml:"picture" env:"PICTURE"`
}

type EventsConfig struct {
	NatsURL string `yaml:"nats_url" env:"NATS_URL"`
	Prefix  string `yaml:"prefix" env:"PREFIX"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// ServiceConfig configures one upstream service. Schemas are inline JSON
// strings. The API key may be given directly or via the variable named in
// api_key_env.
type ServiceConfig struct {
	upstream.Config  `yaml:",inline"`
	APIKeyEnv        string `yaml:"api_key_env"`
	SchemaJSON       string `yaml:"schema"`
	OutputSchemaJSON string `yaml:"output_schema"`
}

func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Addr:           ":8080",
			UploadDir:      "uploads",
			MaxBodyBytes:   1 << 20,
			MaxUploadBytes: 50 << 20,
			AllowedOrigins: []string{"*"},
			InvoiceLimit:   RateConfig{RPS: 1, Burst: 5},
			PollLimit:      RateConfig{RPS: 5, Burst: 20},
		},
		Engine: EngineConfig{
			GatewayTimeout: 15 * time.Second,
			StepTimeout:    60 * time.Second,
			DefaultTries:   3,
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
			DSN:    "gobuffet.db",
			Table:  "jobs",
		},
		Lease: LeaseConfig{
			Backend: LeaseLocal,
			TTL:     2 * time.Minute,
			Wait:    2 * time.Second,
		},
		Lightning: LightningConfig{
			Backend:       LightningAddress,
			Network:       "mainnet",
			Memo:          "gobuffet",
			InvoiceExpiry: time.Hour,
		},
		Nostr: NostrConfig{
			Interval: 10 * time.Minute,
		},
		Events: EventsConfig{
			Prefix: "gobuffet.jobs",
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.resolveServices(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) resolveServices() error {
	for i := range c.Services {
		s := &c.Services[i]
		if s.APIKeyEnv != "" && s.APIKey == "" {
			s.APIKey = os.Getenv(s.APIKeyEnv)
		}
		if s.SchemaJSON != "" {
			if !json.Valid([]byte(s.SchemaJSON)) {
				return fmt.Errorf("service %s: schema is not valid JSON", s.Name)
			}
			s.Schema = json.RawMessage(s.SchemaJSON)
		}
		if s.OutputSchemaJSON != "" {
			if !json.Valid([]byte(s.OutputSchemaJSON)) {
				return fmt.Errorf("service %s: output_schema is not valid JSON", s.Name)
			}
			s.OutputSchema = json.RawMessage(s.OutputSchemaJSON)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.PublicURL == "" {
		errs = append(errs, errors.New("server.public_url is required"))
	}
	if c.Engine.DefaultTries < 1 {
		errs = append(errs, errors.New("engine.default_tries must be at least 1"))
	}
	if c.Server.InvoiceLimit.RPS < 0 || c.Server.PollLimit.RPS < 0 {
		errs = append(errs, errors.New("server rate limits must not be negative"))
	}
	if c.Engine.GatewayTimeout <= 0 || c.Engine.StepTimeout <= 0 {
		errs = append(errs, errors.New("engine timeouts must be positive"))
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	switch c.Lease.Backend {
	case LeaseLocal:
	case LeaseRedis:
		if c.Lease.RedisAddr == "" {
			errs = append(errs, errors.New("lease.redis_addr is required for redis"))
		}
		if c.Lease.TTL <= c.Engine.StepTimeout {
			// an expired lease lets a second poll start a step on the same job
			errs = append(errs, fmt.Errorf("lease.ttl %s must exceed engine.step_timeout %s",
				c.Lease.TTL, c.Engine.StepTimeout))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lease.backend %q", c.Lease.Backend))
	}

	switch c.Lightning.Backend {
	case LightningLND:
		if c.Lightning.LND.Host == "" || c.Lightning.LND.MacaroonHex == "" {
			errs = append(errs, errors.New("lightning.lnd host and macaroon_hex are required"))
		}
	case LightningLNbits:
		if c.Lightning.LNbits.URL == "" || c.Lightning.LNbits.APIKey == "" {
			errs = append(errs, errors.New("lightning.lnbits url and api_key are required"))
		}
	case LightningAddress:
		if c.Lightning.Address == "" {
			errs = append(errs, errors.New("lightning.address is required for lnurl"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown lightning.backend %q", c.Lightning.Backend))
	}

	if c.Nostr.Enabled {
		if c.Nostr.SecretKey == "" {
			errs = append(errs, errors.New("nostr.nsec is required when nostr is enabled"))
		}
		if len(c.Nostr.Relays) == 0 {
			errs = append(errs, errors.New("nostr.relays is required when nostr is enabled"))
		}
	}

	seen := map[string]bool{}
	for _, s := range c.Services {
		if seen[s.Name] {
			errs = append(errs, fmt.Errorf("service %q configured twice", s.Name))
		}
		seen[s.Name] = true
	}

	return errors.Join(errs...)
}

// Package config loads socialauth settings from YAML, optional .env files and
// SOCIALAUTH_* environment variables, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	socialauth "github.com/goliatone/go-socialauth"
	"github.com/goliatone/go-socialauth/pipeline"
)

const (
	EnvPrefix        = "SOCIALAUTH_"
	DefaultSQLiteDSN = "file:socialauth.db?cache=shared"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Nonce and association backends. "storage" reuses the main storage driver.
const (
	BackendStorage = "storage"
	BackendRedis   = "redis"
	BackendMemory  = "memory"
)

// Duration reads Go duration strings ("90s", "5m") from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Storage struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
		Mongo  struct {
			URI      string `yaml:"uri"`
			Database string `yaml:"database"`
		} `yaml:"mongo"`
	} `yaml:"storage"`

	Redis struct {
		URL    string `yaml:"url"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`

	Linker struct {
		Timeout Duration `yaml:"timeout"`
		// SingleProviderLink rejects a second uid of a provider the account
		// already links.
		SingleProviderLink bool `yaml:"single_provider_link"`
	} `yaml:"linker"`

	Nonces struct {
		Backend string   `yaml:"backend"`
		Skew    Duration `yaml:"skew"`
	} `yaml:"nonces"`

	Associations struct {
		Backend string   `yaml:"backend"`
		Grace   Duration `yaml:"grace"`
	} `yaml:"associations"`

	State struct {
		EncryptionKey string   `yaml:"encryption_key"`
		HMACKey       string   `yaml:"hmac_key"`
		TTL           Duration `yaml:"ttl"`
	} `yaml:"state"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	c.defaultDSN()
	return c
}

// Load reads envFiles into the process environment (existing variables
// win), then the YAML at path when path is not empty, then SOCIALAUTH_*
// overrides. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", file, err)
		}
	}

	c := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c.applyDefaults()
	if err := c.applyEnvOverrides(); err != nil {
		return nil, err
	}
	c.defaultDSN()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Mongo.Database == "" {
		c.Storage.Mongo.Database = "socialauth"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "socialauth:"
	}
	if c.Linker.Timeout == 0 {
		c.Linker.Timeout = Duration(5 * time.Second)
	}
	if c.Nonces.Backend == "" {
		c.Nonces.Backend = BackendStorage
	}
	if c.Nonces.Skew == 0 {
		c.Nonces.Skew = Duration(socialauth.DefaultNonceSkew)
	}
	if c.Associations.Backend == "" {
		c.Associations.Backend = BackendStorage
	}
	if c.Associations.Grace == 0 {
		c.Associations.Grace = Duration(time.Hour)
	}
	if c.State.TTL == 0 {
		c.State.TTL = Duration(10 * time.Minute)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// defaultDSN runs after env overrides so it sees the final driver.
func (c *Config) defaultDSN() {
	if c.Storage.DSN == "" && c.Storage.Driver == DriverSQLite {
		c.Storage.DSN = DefaultSQLiteDSN
	}
}

func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"STORAGE_DRIVER":       &c.Storage.Driver,
		"STORAGE_DSN":          &c.Storage.DSN,
		"MONGO_URI":            &c.Storage.Mongo.URI,
		"MONGO_DATABASE":       &c.Storage.Mongo.Database,
		"REDIS_URL":            &c.Redis.URL,
		"REDIS_PREFIX":         &c.Redis.Prefix,
		"NONCES_BACKEND":       &c.Nonces.Backend,
		"ASSOCIATIONS_BACKEND": &c.Associations.Backend,
		"STATE_ENCRYPTION_KEY": &c.State.EncryptionKey,
		"STATE_HMAC_KEY":       &c.State.HMACKey,
		"METRICS_ADDR":         &c.Metrics.Addr,
		"LOG_LEVEL":            &c.Log.Level,
		"LOG_FORMAT":           &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := getEnvStr(key); ok {
			*dst = v
		}
	}

	durs := map[string]*Duration{
		"LINKER_TIMEOUT":     &c.Linker.Timeout,
		"NONCES_SKEW":        &c.Nonces.Skew,
		"ASSOCIATIONS_GRACE": &c.Associations.Grace,
		"STATE_TTL":          &c.State.TTL,
	}
	for key, dst := range durs {
		v, ok, err := getEnvDur(key)
		if err != nil {
			return err
		}
		if ok {
			*dst = Duration(v)
		}
	}

	v, ok, err := getEnvBool("LINKER_SINGLE_PROVIDER_LINK")
	if err != nil {
		return err
	}
	if ok {
		c.Linker.SingleProviderLink = v
	}
	return nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver))
		}
	case DriverMongo:
		if c.Storage.Mongo.URI == "" {
			errs = append(errs, errors.New("storage.mongo.uri is required for mongo"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	for name, backend := range map[string]string{"nonces": c.Nonces.Backend, "associations": c.Associations.Backend} {
		switch backend {
		case BackendStorage, BackendMemory:
		case BackendRedis:
			if c.Redis.URL == "" {
				errs = append(errs, fmt.Errorf("redis.url is required when %s.backend is redis", name))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown %s.backend %q", name, backend))
		}
	}

	if c.Nonces.Skew < 0 || c.Linker.Timeout < 0 || c.Associations.Grace < 0 || c.State.TTL <= 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}

	if (c.State.EncryptionKey == "") != (c.State.HMACKey == "") {
		errs = append(errs, errors.New("state.encryption_key and state.hmac_key must be set together"))
	}
	if n := len(c.State.EncryptionKey); n != 0 && n != 16 && n != 24 && n != 32 {
		errs = append(errs, fmt.Errorf("state.encryption_key must be 16, 24 or 32 bytes, got %d", n))
	}

	return errors.Join(errs...)
}

// LinkerOptions maps the linker section onto Linker options.
func (c *Config) LinkerOptions() []socialauth.LinkerOption {
	opts := []socialauth.LinkerOption{socialauth.WithLinkerTimeout(c.Linker.Timeout.Std())}
	if c.Linker.SingleProviderLink {
		opts = append(opts, socialauth.WithProviderLinkPolicy(socialauth.ProviderLinksSingle))
	}
	return opts
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(EnvPrefix + key)
	return v, v != ""
}

func getEnvDur(key string) (time.Duration, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return d, true, nil
}

func getEnvBool(key string) (bool, bool, error) {
	s, ok := getEnvStr(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return false, false, fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
	return b, true, nil
}

// StateManager builds the handshake state manager, or nil when no state keys
// are configured.
func (c *Config) StateManager() (*pipeline.StateManager, error) {
	if c.State.EncryptionKey == "" {
		return nil, nil
	}
	return pipeline.NewStateManager([]byte(c.State.EncryptionKey), []byte(c.State.HMACKey), pipeline.WithStateTTL(c.State.TTL.Std()))
}

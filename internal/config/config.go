// Package config loads process configuration for the copilot binaries. Values
// come from built-in defaults, an optional YAML file, optional dotenv files
// and finally CICDCOPILOT_* environment variables, later sources winning.
package config

import (
	"cicdcopilot/internal/blob"
	"cicdcopilot/internal/core"
	"cicdcopilot/internal/logging"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CICDCOPILOT_"

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SeedConfig toggles demo data on first start.
type SeedConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the full process configuration.
type Config struct {
	HTTP      HTTPConfig           `yaml:"http"`
	Storage   core.StorageConfig   `yaml:"storage"`
	Blob      blob.Config          `yaml:"blob"`
	Log       logging.Config       `yaml:"log"`
	Execution core.SimulatorConfig `yaml:"execution"`
	Seed      SeedConfig           `yaml:"seed"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":5000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage:   core.DefaultStorageConfig(),
		Blob:      blob.Config{Driver: blob.DriverFilesystem, FSRoot: "data/blobs"},
		Log:       logging.Default(),
		Execution: core.DefaultSimulatorConfig(),
		Seed:      SeedConfig{Enabled: true},
	}
}

// Load builds a Config. An empty path skips the YAML file; missing dotenv
// files are ignored.
func Load(path string, dotenvFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

type envBinding struct {
	key string
	set func(cfg *Config, raw string) error
}

func stringVar(get func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		*get(cfg) = raw
		return nil
	}
}

func durationVar(get func(*Config) *time.Duration) func(*Config, string) error {
	return func(cfg *Config, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*get(cfg) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"HTTP_ADDR", stringVar(func(c *Config) *string { return &c.HTTP.Addr })},
	{"HTTP_READ_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.HTTP.ReadTimeout })},
	{"HTTP_WRITE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.HTTP.WriteTimeout })},
	{"HTTP_SHUTDOWN_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.HTTP.ShutdownTimeout })},
	{"STORAGE_DRIVER", func(c *Config, raw string) error {
		c.Storage.Driver = core.StorageDriver(strings.ToLower(raw))
		return nil
	}},
	{"SQLITE_PATH", stringVar(func(c *Config) *string { return &c.Storage.SQLitePath })},
	{"POSTGRES_DSN", stringVar(func(c *Config) *string { return &c.Storage.PostgresDSN })},
	{"BLOB_DRIVER", func(c *Config, raw string) error {
		c.Blob.Driver = blob.Driver(strings.ToLower(raw))
		return nil
	}},
	{"BLOB_FS_ROOT", stringVar(func(c *Config) *string { return &c.Blob.FSRoot })},
	{"BLOB_S3_BUCKET", stringVar(func(c *Config) *string { return &c.Blob.S3.Bucket })},
	{"BLOB_S3_REGION", stringVar(func(c *Config) *string { return &c.Blob.S3.Region })},
	{"BLOB_S3_ENDPOINT", stringVar(func(c *Config) *string { return &c.Blob.S3.Endpoint })},
	{"BLOB_S3_ACCESS_KEY_ID", stringVar(func(c *Config) *string { return &c.Blob.S3.AccessKeyID })},
	{"BLOB_S3_SECRET_ACCESS_KEY", stringVar(func(c *Config) *string { return &c.Blob.S3.SecretAccessKey })},
	{"BLOB_S3_PATH_STYLE", func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		c.Blob.S3.PathStyle = v
		return err
	}},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
	{"EXECUTION_DELAY", durationVar(func(c *Config) *time.Duration { return &c.Execution.Delay })},
	{"EXECUTION_SUCCESS_RATE", func(c *Config, raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		c.Execution.SuccessRate = v
		return err
	}},
	{"EXECUTION_QUEUE_SIZE", func(c *Config, raw string) error {
		v, err := strconv.Atoi(raw)
		c.Execution.QueueSize = v
		return err
	}},
	{"SEED", func(c *Config, raw string) error {
		v, err := strconv.ParseBool(raw)
		c.Seed.Enabled = v
		return err
	}},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		raw, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := b.set(cfg, raw); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.key, err)
		}
	}
	return nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.Storage.Driver != "" && !c.Storage.Driver.Valid() {
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Execution.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openstratus/stratus/pkg/api"
	"github.com/openstratus/stratus/pkg/deployers/terraboot"
	"github.com/openstratus/stratus/pkg/deployers/tflocal"
	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/stores"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config is the full server configuration.
type Config struct {
	Store        stores.Config       `yaml:"store"`
	Telemetry    telemetry.Config    `yaml:"telemetry"`
	API          api.Config          `yaml:"api"`
	Orchestrator orchestrator.Config `yaml:"orchestrator"`
	Catalog      CatalogConfig       `yaml:"catalog"`
	Credentials  CredentialsConfig   `yaml:"credentials"`
	Deployers    DeployersConfig     `yaml:"deployers"`
	Policy       PolicyConfig        `yaml:"policy"`
}

// CatalogConfig locates the template directory.
type CatalogConfig struct {
	// Dir holds the template YAML documents.
	Dir string `yaml:"dir" validate:"required"`

	// Watch reloads the directory on file changes.
	Watch bool `yaml:"watch"`
}

// CredentialsConfig tunes the credential cache.
type CredentialsConfig struct {
	// TTL is how long a resolved credential stays cached.
	TTL time.Duration `yaml:"ttl"`

	// SweepInterval is how often expired entries are evicted.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// DeployersConfig configures the deployer adapters. terraboot is
// enabled by its endpoint, tflocal by its work directory; at least one
// must be configured.
type DeployersConfig struct {
	Terraboot terraboot.Config `yaml:"terraboot"`
	TFLocal   tflocal.Config   `yaml:"tflocal"`
}

// PolicyConfig locates custom deployment policies.
type PolicyConfig struct {
	// Paths are rego or JSON policy files or directories, loaded in
	// addition to the builtins.
	Paths []string `yaml:"paths"`

	// Watch reloads policies on file changes.
	Watch bool `yaml:"watch"`
}

// Default returns a configuration with all defaults applied.
func Default() Config {
	return Config{
		Store: stores.Config{
			Path: "stratus.db",
		},
		Telemetry:    *telemetry.DefaultConfig(),
		API:          api.DefaultConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
		Catalog: CatalogConfig{
			Dir:   "templates",
			Watch: true,
		},
		Credentials: CredentialsConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
		},
		Deployers: DeployersConfig{
			Terraboot: terraboot.DefaultConfig(),
			// tflocal in a local workspace directory keeps the
			// zero-config path runnable.
			TFLocal: tflocalDefault(),
		},
	}
}

func tflocalDefault() tflocal.Config {
	cfg := tflocal.DefaultConfig()
	cfg.WorkDir = "deployments"
	return cfg
}

// Load reads a YAML configuration file on top of the defaults and
// validates the result. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("invalid configuration: store.path is required")
	}
	if c.Deployers.Terraboot.Endpoint == "" && c.Deployers.TFLocal.WorkDir == "" {
		return fmt.Errorf("invalid configuration: no deployer configured, set deployers.terraboot.endpoint or deployers.tflocal.work_dir")
	}
	if c.Deployers.Terraboot.Endpoint != "" && c.Orchestrator.CallbackBaseURL == "" {
		return fmt.Errorf("invalid configuration: orchestrator.callback_base_url is required with terraboot")
	}
	return nil
}

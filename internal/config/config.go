package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the configuration reads
const EnvPrefix = "RUNTIME_BABEL"

// Config represents the plugin configuration
type Config struct {
	Node     NodeConfig    `mapstructure:"node"`
	Run      RunConfig     `mapstructure:"run"`
	Build    BuildConfig   `mapstructure:"build"`
	Storage  StorageConfig `mapstructure:"storage"`
	Provider string        `mapstructure:"provider"`
	Stage    string        `mapstructure:"stage"`
	Region   string        `mapstructure:"region"`
	Debug    bool          `mapstructure:"debug"`
}

// NodeConfig locates the Node.js toolchain
type NodeConfig struct {
	Path        string `mapstructure:"path"`
	NpmPath     string `mapstructure:"npm_path"`
	ModulesPath string `mapstructure:"modules_path"` // NODE_PATH for local runs
}

// RunConfig contains local run settings
type RunConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// BuildConfig contains bundling settings
type BuildConfig struct {
	DistRoot   string `mapstructure:"dist_root"`
	Target     string `mapstructure:"target"`
	PackageDir string `mapstructure:"package_dir"`
}

// StorageConfig contains S3-compatible package storage settings
type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoadOptions control where configuration is read from
type LoadOptions struct {
	// ProjectRoot is searched for runtime-babel.yaml and .env files
	ProjectRoot string
	// ConfigFile, when set, is read instead of searching
	ConfigFile string
}

var targetPattern = regexp.MustCompile(`^(es5|es20\d\d|esnext|node\d+(\.\d+){0,2})$`)

// Load loads configuration from file and environment variables
func Load(opts LoadOptions) (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := loadEnvFile(opts.ProjectRoot); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	if opts.ConfigFile != "" {
		viper.SetConfigFile(opts.ConfigFile)
	} else {
		viper.SetConfigName("runtime-babel")
		viper.SetConfigType("yaml")
		if opts.ProjectRoot != "" {
			viper.AddConfigPath(opts.ProjectRoot)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".runtime-babel"))
		}
	}

	setDefaults()

	// Enable environment variable support with underscore replacer
	viper.AutomaticEnv()
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug().Msg("No config file found, using environment variables and defaults")
	} else {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("Config file loaded")
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// loadEnvFile loads environment variables from the first .env file found
func loadEnvFile(projectRoot string) error {
	var locations []string
	if projectRoot != "" {
		locations = append(locations,
			filepath.Join(projectRoot, ".env"),
			filepath.Join(projectRoot, ".env.local"),
		)
	}
	locations = append(locations, ".env", ".env.local")

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			if err := godotenv.Load(location); err != nil {
				return fmt.Errorf("error loading .env file from %s: %w", location, err)
			}
			log.Debug().Str("file", location).Msg(".env file loaded")
			return nil
		}
	}

	return fmt.Errorf("no .env file found")
}

// setDefaults sets default configuration values
func setDefaults() {
	// Node defaults; empty paths are looked up on PATH
	viper.SetDefault("node.path", "")
	viper.SetDefault("node.npm_path", "")
	viper.SetDefault("node.modules_path", "")

	viper.SetDefault("run.grace_period", "2s")

	// Build defaults; an empty target defers to each function's transpile options
	viper.SetDefault("build.dist_root", "")
	viper.SetDefault("build.target", "")
	viper.SetDefault("build.package_dir", "")

	viper.SetDefault("storage.endpoint", "")
	viper.SetDefault("storage.access_key", "")
	viper.SetDefault("storage.secret_key", "")
	viper.SetDefault("storage.bucket", "")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.use_ssl", true)

	viper.SetDefault("provider", "aws")
	viper.SetDefault("stage", "dev")
	viper.SetDefault("region", "us-east-1")
	viper.SetDefault("debug", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Run.GracePeriod < 0 {
		return fmt.Errorf("run.grace_period cannot be negative")
	}

	if c.Build.Target != "" && !targetPattern.MatchString(strings.ToLower(c.Build.Target)) {
		return fmt.Errorf("build.target %q is not a supported target (es5, es20XX, esnext or nodeNN)", c.Build.Target)
	}

	if c.Provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}
	if c.Stage == "" {
		return fmt.Errorf("stage cannot be empty")
	}
	if c.Region == "" {
		return fmt.Errorf("region cannot be empty")
	}

	return nil
}

// Validate checks the settings needed to upload packages
func (sc *StorageConfig) Validate() error {
	if sc.Endpoint == "" || sc.Bucket == "" {
		return fmt.Errorf("storage.endpoint and storage.bucket are required to upload packages")
	}
	if sc.AccessKey == "" || sc.SecretKey == "" {
		return fmt.Errorf("storage.access_key and storage.secret_key are required to upload packages")
	}
	return nil
}

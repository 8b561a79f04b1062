package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/geolaunch/internal/invoker"
)

type Config struct {
	DataDir           string
	ScriptsDir        string
	UserCatalogDir    string
	ProjectCatalogDir string
	Interpreter       string
	Timeout           time.Duration
	ExitPolicy        invoker.ExitPolicy
	LogLevel          string
}

// fileConfig is config.yaml in the data directory. Every field is optional.
type fileConfig struct {
	ScriptsDir  string `yaml:"scripts_dir"`
	Interpreter string `yaml:"interpreter"`
	Timeout     string `yaml:"timeout"`
	ExitPolicy  string `yaml:"exit_policy"`
	LogLevel    string `yaml:"log_level"`
}

// New builds the configuration from defaults, then config.yaml, then the
// environment.
func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	dataDir := getEnv("GEOLAUNCH_DATA_DIR", filepath.Join(homeDir, ".geolaunch"))

	c := &Config{
		DataDir:           dataDir,
		ScriptsDir:        filepath.Join(dataDir, "scripts"),
		UserCatalogDir:    filepath.Join(dataDir, "operations"),
		ProjectCatalogDir: ".geolaunch/operations",
		Interpreter:       "python3",
		ExitPolicy:        invoker.ExitInformational,
		LogLevel:          "info",
	}

	if err := c.loadFile(filepath.Join(dataDir, "config.yaml")); err != nil {
		return nil, err
	}

	c.ScriptsDir = getEnv("GEOLAUNCH_SCRIPTS_DIR", c.ScriptsDir)
	c.Interpreter = getEnv("GEOLAUNCH_INTERPRETER", c.Interpreter)
	c.LogLevel = getEnv("GEOLAUNCH_LOG_LEVEL", c.LogLevel)
	if v, ok := os.LookupEnv("GEOLAUNCH_TIMEOUT"); ok {
		if err := c.SetTimeout(v); err != nil {
			return nil, fmt.Errorf("GEOLAUNCH_TIMEOUT: %w", err)
		}
	}
	if v, ok := os.LookupEnv("GEOLAUNCH_EXIT_POLICY"); ok {
		if err := c.SetExitPolicy(v); err != nil {
			return nil, fmt.Errorf("GEOLAUNCH_EXIT_POLICY: %w", err)
		}
	}

	return c, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if fc.ScriptsDir != "" {
		c.ScriptsDir = expandHome(fc.ScriptsDir)
	}
	if fc.Interpreter != "" {
		c.Interpreter = fc.Interpreter
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Timeout != "" {
		if err := c.SetTimeout(fc.Timeout); err != nil {
			return fmt.Errorf("%s: timeout: %w", path, err)
		}
	}
	if fc.ExitPolicy != "" {
		if err := c.SetExitPolicy(fc.ExitPolicy); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	return nil
}

func (c *Config) SetTimeout(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	c.Timeout = d
	return nil
}

func (c *Config) SetExitPolicy(s string) error {
	p, err := invoker.ParseExitPolicy(s)
	if err != nil {
		return err
	}
	c.ExitPolicy = p
	return nil
}

// CatalogDirs lists catalog directories in merge order.
func (c *Config) CatalogDirs() []string {
	return []string{c.ProjectCatalogDir, c.UserCatalogDir}
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.UserCatalogDir, 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "geolaunch.log")
}

// Level parses LogLevel, falling back to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func expandHome(path string) string {
	if len(path) < 2 || path[:2] != "~/" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

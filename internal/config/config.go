package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Pull configures the built-in dataset fetch. When URL is empty the pull
// task falls back to its script action.
type Pull struct {
	URL        string `yaml:"url"`
	TimeoutSec int    `yaml:"timeout_sec"`
	MaxRetries int    `yaml:"max_retries"`
}

// Config is the pipeline configuration.
type Config struct {
	DataDir    string `yaml:"data_dir"`
	OutputDir  string `yaml:"output_dir"`
	DocsDir    string `yaml:"docs_dir"`
	SrcDir     string `yaml:"src_dir"`
	SiteConfig string `yaml:"site_config"`
	StateDB    string `yaml:"state_db"`
	Jobs       int    `yaml:"jobs"`
	GraceSec   int    `yaml:"grace_sec"`
	Pull       Pull   `yaml:"pull"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		DataDir:    "_data",
		OutputDir:  "_output",
		DocsDir:    "docs",
		SrcDir:     "./src",
		SiteConfig: "chartbook.toml",
		GraceSec:   5,
		Pull:       Pull{TimeoutSec: 120, MaxRetries: 4},
	}
}

// Load reads YAML configuration from a path. If path is empty it tries
// ./quarry.yaml and falls back to defaults when the file is absent.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = "quarry.yaml"
	}
	f, err := os.Open(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

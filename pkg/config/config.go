package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// APIKeyEnv overrides the visual service API key from the config file.
const APIKeyEnv = "BANKCHECK_VISUAL_API_KEY"

// FileConfig represents the configuration loaded from a file
type FileConfig struct {
	Headless           *bool                `yaml:"headless" json:"headless"`
	Timeout            *Duration            `yaml:"timeout" json:"timeout"`
	ExpectTimeout      *Duration            `yaml:"expectTimeout" json:"expectTimeout"`
	CaseTimeout        *Duration            `yaml:"caseTimeout" json:"caseTimeout"`
	FailOnConsoleError *bool                `yaml:"failOnConsoleError" json:"failOnConsoleError"`
	ViewportWidth      int                  `yaml:"viewportWidth" json:"viewportWidth"`
	ViewportHeight     int                  `yaml:"viewportHeight" json:"viewportHeight"`
	Driver             string               `yaml:"driver" json:"driver"`
	BaseURL            string               `yaml:"baseURL" json:"baseURL"`
	Workers            int                  `yaml:"workers" json:"workers"`
	ActionTimeouts     map[string]*Duration `yaml:"actionTimeouts" json:"actionTimeouts"`
	Log                LogConfig            `yaml:"log" json:"log"`
	Visual             VisualConfig         `yaml:"visual" json:"visual"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type VisualConfig struct {
	ServerURL    string    `yaml:"serverURL" json:"serverURL"`
	APIKey       string    `yaml:"apiKey" json:"apiKey"`
	Batch        string    `yaml:"batch" json:"batch"`
	Concurrency  int       `yaml:"concurrency" json:"concurrency"`
	PollInterval *Duration `yaml:"pollInterval" json:"pollInterval"`
}

// Duration is a custom type for unmarshaling duration strings
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// LoadConfig loads configuration from file
func LoadConfig(filename string) (*FileConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config FileConfig
	ext := filepath.Ext(filename)

	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".json":
		err = json.Unmarshal(data, &config)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// FindConfigFile searches for a config file in the current directory
func FindConfigFile() string {
	configNames := []string{
		"bankcheck.yaml",
		"bankcheck.yml",
		"bankcheck.json",
		".bankcheck.yaml",
		".bankcheck.yml",
		".bankcheck.json",
	}

	for _, name := range configNames {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}

	return ""
}

package config

import (
	"os"
	"time"
)

// Settings is the resolved configuration of a run: defaults, then the config
// file, then the environment. Command line flags are applied by the caller.
type Settings struct {
	Headless           bool
	Timeout            time.Duration
	ExpectTimeout      time.Duration
	CaseTimeout        time.Duration
	ActionTimeouts     map[string]time.Duration
	FailOnConsoleError bool
	ViewportWidth      int
	ViewportHeight     int
	Driver             string
	BaseURL            string
	Workers            int
	LogLevel           string
	LogFormat          string
	Visual             VisualSettings
}

type VisualSettings struct {
	ServerURL    string
	APIKey       string
	Batch        string
	Concurrency  int
	PollInterval time.Duration
}

func Defaults() Settings {
	return Settings{
		Headless:       true,
		Timeout:        30 * time.Second,
		ExpectTimeout:  5 * time.Second,
		CaseTimeout:    2 * time.Minute,
		ActionTimeouts: map[string]time.Duration{},
		ViewportWidth:  1600,
		ViewportHeight: 1200,
		Driver:         "chromedp",
		Workers:        4,
		LogLevel:       "warn",
		LogFormat:      "console",
		Visual: VisualSettings{
			ServerURL:    "http://localhost:8089",
			Batch:        "Modern Cross Browser Testing in Go",
			Concurrency:  5,
			PollInterval: 500 * time.Millisecond,
		},
	}
}

// Merge overlays the values set in f.
func (s *Settings) Merge(f *FileConfig) {
	if f == nil {
		return
	}
	if f.Headless != nil {
		s.Headless = *f.Headless
	}
	if f.Timeout != nil {
		s.Timeout = f.Timeout.Duration
	}
	if f.ExpectTimeout != nil {
		s.ExpectTimeout = f.ExpectTimeout.Duration
	}
	if f.CaseTimeout != nil {
		s.CaseTimeout = f.CaseTimeout.Duration
	}
	if f.FailOnConsoleError != nil {
		s.FailOnConsoleError = *f.FailOnConsoleError
	}
	if f.ViewportWidth > 0 {
		s.ViewportWidth = f.ViewportWidth
	}
	if f.ViewportHeight > 0 {
		s.ViewportHeight = f.ViewportHeight
	}
	if f.Driver != "" {
		s.Driver = f.Driver
	}
	if f.BaseURL != "" {
		s.BaseURL = f.BaseURL
	}
	if f.Workers > 0 {
		s.Workers = f.Workers
	}
	for action, d := range f.ActionTimeouts {
		if d != nil {
			if s.ActionTimeouts == nil {
				s.ActionTimeouts = map[string]time.Duration{}
			}
			s.ActionTimeouts[action] = d.Duration
		}
	}
	if f.Log.Level != "" {
		s.LogLevel = f.Log.Level
	}
	if f.Log.Format != "" {
		s.LogFormat = f.Log.Format
	}

	v := f.Visual
	if v.ServerURL != "" {
		s.Visual.ServerURL = v.ServerURL
	}
	if v.APIKey != "" {
		s.Visual.APIKey = v.APIKey
	}
	if v.Batch != "" {
		s.Visual.Batch = v.Batch
	}
	if v.Concurrency > 0 {
		s.Visual.Concurrency = v.Concurrency
	}
	if v.PollInterval != nil {
		s.Visual.PollInterval = v.PollInterval.Duration
	}
}

// ApplyEnv reads overrides through lookup, os.LookupEnv when nil.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if key, ok := lookup(APIKeyEnv); ok && key != "" {
		s.Visual.APIKey = key
	}
}

// Load resolves settings from the named file, or from the first config file
// found in the working directory when filename is empty.
func Load(filename string) (Settings, string, error) {
	s := Defaults()
	if filename == "" {
		filename = FindConfigFile()
	}
	if filename != "" {
		f, err := LoadConfig(filename)
		if err != nil {
			return s, filename, err
		}
		s.Merge(f)
	}
	s.ApplyEnv(nil)
	return s, filename, nil
}

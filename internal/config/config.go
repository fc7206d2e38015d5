// Package config loads the runtime configuration: defaults, overlaid by
// config.yaml, overlaid by VIGIL_* environment variables. Secrets (API
// keys) live separately in .env — see env.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Web       WebConfig       `yaml:"web"`
	Agent     AgentConfig     `yaml:"agent"`
	Community CommunityConfig `yaml:"community"`
	Observer  ObserverConfig  `yaml:"observer"`
}

type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AgentConfig struct {
	Home           string `yaml:"home"`
	Model          string `yaml:"model"`          // "provider/model"
	AuditorModel   string `yaml:"auditor_model"`  // optional; falls back to Model
	Interval       int    `yaml:"interval"`       // seconds between rounds
	MaxToolCalls   int    `yaml:"max_tool_calls"` // per-round budget
	ShellTimeout   int    `yaml:"shell_timeout"`  // seconds
	MaxOutputChars int    `yaml:"max_output_chars"`
	Persona        string `yaml:"persona"`
	HistoryRounds  int    `yaml:"history_rounds"`
	EnableSkills   bool   `yaml:"enable_skills"`
}

type CommunityConfig struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

type ObserverConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration with all defaults applied.
func Default() Config {
	return Config{
		Web: WebConfig{Host: "0.0.0.0", Port: 8080},
		Agent: AgentConfig{
			Home:           "/home/agent",
			Model:          "deepseek/deepseek-chat",
			Interval:       60,
			MaxToolCalls:   20,
			ShellTimeout:   30,
			MaxOutputChars: 4000,
			Persona:        "default",
			HistoryRounds:  3,
		},
	}
}

// Manager reads and writes the two configuration files of a project
// directory: config.yaml (settings) and .env (secrets).
type Manager struct {
	projectDir string
	configPath string
	envPath    string
}

func NewManager(projectDir string) *Manager {
	return &Manager{
		projectDir: projectDir,
		configPath: filepath.Join(projectDir, "config.yaml"),
		envPath:    filepath.Join(projectDir, ".env"),
	}
}

// ProjectDir returns the project root this manager serves.
func (m *Manager) ProjectDir() string { return m.projectDir }

// Load returns defaults ← config.yaml ← environment. A corrupt file
// falls back to defaults with the error reported.
func (m *Manager) Load() (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Default(), fmt.Errorf("config: parse %s: %w", m.configPath, err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("config: read %s: %w", m.configPath, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// Save writes the configuration back to config.yaml.
func (m *Manager) Save(cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(m.configPath, data, 0o644)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_WEB_HOST"); v != "" {
		cfg.Web.Host = v
	}
	if v := os.Getenv("VIGIL_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("VIGIL_AGENT_HOME"); v != "" {
		cfg.Agent.Home = v
	}
	if v := os.Getenv("VIGIL_AGENT_MODEL"); v != "" {
		cfg.Agent.Model = v
	}
	if v := os.Getenv("VIGIL_COMMUNITY_URL"); v != "" {
		cfg.Community.URL = v
	}
	if v := os.Getenv("VIGIL_COMMUNITY_KEY"); v != "" {
		cfg.Community.Key = v
	}
}

package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"
)

// KnownAPIKeys are the key variables manageable through the console.
var KnownAPIKeys = []string{
	"DEEPSEEK_API_KEY",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"GOOGLE_API_KEY",
	"OPENROUTER_API_KEY",
}

// LoadEnv loads .env into the process environment (existing variables
// win). Missing file is fine.
func (m *Manager) LoadEnv() {
	_ = godotenv.Load(m.envPath)
}

// APIKeys returns every known key plus any custom *_API_KEY / *_KEY
// entry from .env, values masked for display.
func (m *Manager) APIKeys() map[string]string {
	values, _ := godotenv.Read(m.envPath)

	out := make(map[string]string, len(KnownAPIKeys))
	for _, name := range KnownAPIKeys {
		out[name] = MaskKey(values[name])
	}
	for name, v := range values {
		if _, have := out[name]; have {
			continue
		}
		if strings.HasSuffix(name, "_API_KEY") || strings.HasSuffix(name, "_KEY") {
			out[name] = MaskKey(v)
		}
	}
	return out
}

// HasAnyAPIKey reports whether at least one known key is configured,
// in .env or the process environment.
func (m *Manager) HasAnyAPIKey() bool {
	values, _ := godotenv.Read(m.envPath)
	for _, name := range KnownAPIKeys {
		if values[name] != "" || os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// SetAPIKey writes or replaces one key in .env and the process
// environment.
func (m *Manager) SetAPIKey(name, value string) error {
	if name == "" || strings.ContainsAny(name, "=\n") {
		return fmt.Errorf("config: invalid key name %q", name)
	}
	values, _ := godotenv.Read(m.envPath)
	if values == nil {
		values = map[string]string{}
	}
	values[name] = value
	if err := writeEnvFile(m.envPath, values); err != nil {
		return err
	}
	return os.Setenv(name, value)
}

// DeleteAPIKey removes one key from .env.
func (m *Manager) DeleteAPIKey(name string) error {
	values, err := godotenv.Read(m.envPath)
	if err != nil {
		return fmt.Errorf("config: key %q not found", name)
	}
	if _, ok := values[name]; !ok {
		return fmt.Errorf("config: key %q not found", name)
	}
	delete(values, name)
	os.Unsetenv(name)
	return writeEnvFile(m.envPath, values)
}

func writeEnvFile(path string, values map[string]string) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%s\n", name, values[name])
	}
	return os.WriteFile(path, []byte(b.String()), 0o600)
}

// MaskKey renders a secret for display: first 6 and last 4 characters,
// the rest replaced. Short keys are fully masked.
func MaskKey(value string) string {
	if value == "" {
		return ""
	}
	if len(value) < 12 {
		return "****"
	}
	return value[:6] + "****" + value[len(value)-4:]
}

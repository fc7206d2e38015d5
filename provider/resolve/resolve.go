// Package resolve turns a "provider/model" string into a configured
// chat provider. The provider prefix selects the API base URL and the
// environment variable that supplies the key.
package resolve

import (
	"fmt"
	"os"
	"strings"

	vigil "github.com/ardelia/vigil"
	"github.com/ardelia/vigil/provider/openaicompat"
)

// route describes one known provider prefix.
type route struct {
	baseURL string
	keyEnv  string
}

var routes = map[string]route{
	"deepseek":   {baseURL: "https://api.deepseek.com/v1", keyEnv: "DEEPSEEK_API_KEY"},
	"openai":     {baseURL: "https://api.openai.com/v1", keyEnv: "OPENAI_API_KEY"},
	"anthropic":  {baseURL: "https://api.anthropic.com/v1", keyEnv: "ANTHROPIC_API_KEY"},
	"google":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", keyEnv: "GOOGLE_API_KEY"},
	"gemini":     {baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", keyEnv: "GOOGLE_API_KEY"},
	"openrouter": {baseURL: "https://openrouter.ai/api/v1", keyEnv: "OPENROUTER_API_KEY"},
}

// Split separates a "provider/model" id. A bare model name defaults to
// the openai route.
func Split(modelID string) (provider, model string) {
	if prefix, rest, ok := strings.Cut(modelID, "/"); ok {
		if _, known := routes[prefix]; known {
			return prefix, rest
		}
	}
	return "openai", modelID
}

// KeyEnv returns the environment variable name holding the API key for
// the given model id.
func KeyEnv(modelID string) string {
	provider, _ := Split(modelID)
	return routes[provider].keyEnv
}

// Provider builds a chat provider for a "provider/model" id, reading
// the key from the provider's environment variable.
func Provider(modelID string) (vigil.Provider, error) {
	providerName, model := Split(modelID)
	r := routes[providerName]

	key := os.Getenv(r.keyEnv)
	if key == "" {
		return nil, fmt.Errorf("resolve: %s is not set (needed for %q)", r.keyEnv, modelID)
	}

	return openaicompat.New(key, model, r.baseURL, openaicompat.WithName(providerName)), nil
}

// Package config loads the gateway's static configuration: the ordered
// provider list and the tool-name to provider-name routing overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/procgate/go-procgate/src/json"
	"github.com/procgate/go-procgate/src/providers/base"
)

// VariableNotFound is returned when a ${VAR} reference cannot be resolved.
type VariableNotFound struct {
	VariableName string
}

func (e *VariableNotFound) Error() string {
	return fmt.Sprintf(
		"variable %q referenced in provider configuration not found; "+
			"add it to the environment or to the gateway configuration",
		e.VariableName,
	)
}

// VariablesSource is the interface for any variable-loading strategy.
type VariablesSource interface {
	// Load returns all variables available from this source.
	Load() (map[string]string, error)
	// Get returns a single variable value or an error if not present.
	Get(key string) (string, error)
}

// DotEnv implements VariablesSource by reading a .env file.
type DotEnv struct {
	EnvFilePath string
}

func NewDotEnv(path string) *DotEnv {
	return &DotEnv{EnvFilePath: path}
}

func (d *DotEnv) Load() (map[string]string, error) {
	return godotenv.Read(d.EnvFilePath)
}

func (d *DotEnv) Get(key string) (string, error) {
	vars, err := d.Load()
	if err != nil {
		return "", err
	}
	if val, ok := vars[key]; ok {
		return val, nil
	}
	return "", &VariableNotFound{VariableName: key}
}

// Config is the loaded gateway configuration.
type Config struct {
	// Providers in declaration order; disabled entries are kept here and
	// skipped by the registry.
	Providers []base.ProviderConfig `json:"providers" yaml:"providers"`

	// Routes are explicit toolName -> providerName entries layered on top
	// of the per-kind defaults.
	Routes map[string]string `json:"routes,omitempty" yaml:"routes,omitempty"`

	// Variables explicitly passed in (take precedence over sources).
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// Sources consulted for ${VAR} references, before the process env.
	Sources []VariablesSource `json:"-" yaml:"-"`
}

// Load reads a JSON or YAML config file (by extension), substitutes
// ${VAR}/$VAR references in every string field, and validates each enabled
// provider entry.
func Load(path string, sources ...VariablesSource) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file %q: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid YAML in config file %q: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in config file %q: %w", path, err)
		}
	}

	cfg := &Config{Sources: sources}
	if v, ok := raw["variables"].(map[string]any); ok {
		cfg.Variables = make(map[string]string, len(v))
		for k, val := range v {
			cfg.Variables[k] = fmt.Sprint(val)
		}
	}

	substituted := cfg.replaceVarsInAny(raw)

	// Round-trip through JSON to populate the typed fields.
	blob, err := json.Marshal(substituted)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(blob, cfg); err != nil {
		return nil, fmt.Errorf("invalid config structure in %q: %w", path, err)
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if !p.Enabled {
			continue
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.Name, err)
		}
	}
	return cfg, nil
}

// BuildRoutes produces the static routing table: per-kind default tools for
// every enabled provider, then the explicit route entries on top.
func (c *Config) BuildRoutes() map[string]string {
	routes := make(map[string]string)
	for i := range c.Providers {
		p := &c.Providers[i]
		if !p.Enabled {
			continue
		}
		for _, tool := range p.DefaultTools() {
			routes[tool] = p.Name
		}
	}
	for tool, provider := range c.Routes {
		routes[tool] = provider
	}
	return routes
}

var varPattern = regexp.MustCompile(`\${(\w+)}|\$(\w+)`)

// replaceVarsInAny walks strings, maps and lists doing ${VAR}/$VAR
// substitution. Unresolvable references are left as-is.
func (c *Config) replaceVarsInAny(x any) any {
	switch v := x.(type) {
	case string:
		return varPattern.ReplaceAllStringFunc(v, func(match string) string {
			g := varPattern.FindStringSubmatch(match)
			name := g[1]
			if name == "" {
				name = g[2]
			}
			val, err := c.getVariable(name)
			if err != nil {
				return match
			}
			return val
		})
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = c.replaceVarsInAny(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = c.replaceVarsInAny(e)
		}
		return out
	default:
		return x
	}
}

// getVariable checks inline variables, then sources, then the process env.
func (c *Config) getVariable(key string) (string, error) {
	if v, ok := c.Variables[key]; ok {
		return v, nil
	}
	for _, src := range c.Sources {
		if val, err := src.Get(key); err == nil && val != "" {
			return val, nil
		}
	}
	if env := os.Getenv(key); env != "" {
		return env, nil
	}
	return "", &VariableNotFound{VariableName: key}
}

package base

import (
	"errors"
	"fmt"
)

// ProviderKind discriminates the supported provider integrations.
type ProviderKind string

const (
	KindTodoist ProviderKind = "todoist"
	KindCustom  ProviderKind = "custom"
)

// credentialEnvDefaults maps a kind to the environment variable the spawned
// process expects its credential under.
var credentialEnvDefaults = map[ProviderKind]string{
	KindTodoist: "TODOIST_API_TOKEN",
	KindCustom:  "PROVIDER_API_TOKEN",
}

// defaultTools maps a kind to the tool names its provider implements. These
// seed the dispatcher's routing table; explicit route entries in the config
// override them.
var defaultTools = map[ProviderKind][]string{
	KindTodoist: {"create_task", "get_tasks", "close_task", "update_task"},
}

// ProviderConfig describes one provider process. Immutable after load.
type ProviderConfig struct {
	Name           string            `json:"name" yaml:"name"`
	Kind           ProviderKind      `json:"kind" yaml:"kind"`
	Command        string            `json:"command" yaml:"command"`
	Args           []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Credential     string            `json:"credential,omitempty" yaml:"credential,omitempty"`
	CredentialEnv  string            `json:"credential_env,omitempty" yaml:"credential_env,omitempty"`
	Enabled        bool              `json:"enabled" yaml:"enabled"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Validate ensures the config can actually spawn a provider.
func (c *ProviderConfig) Validate() error {
	if c.Name == "" {
		return errors.New("provider name cannot be empty")
	}
	if c.Kind == "" {
		return errors.New("provider kind cannot be empty")
	}
	if _, ok := credentialEnvDefaults[c.Kind]; !ok {
		return fmt.Errorf("unsupported provider kind %q", c.Kind)
	}
	if c.Command == "" {
		return errors.New("provider command cannot be empty")
	}
	return nil
}

// ResolvedCredentialEnv returns the env var name the credential is injected
// under, falling back to the kind's default.
func (c *ProviderConfig) ResolvedCredentialEnv() string {
	if c.CredentialEnv != "" {
		return c.CredentialEnv
	}
	return credentialEnvDefaults[c.Kind]
}

// DefaultTools returns the tool names the kind contributes to routing.
func (c *ProviderConfig) DefaultTools() []string {
	return defaultTools[c.Kind]
}

// WithEnv sets an extra environment variable for the provider process.
func (c *ProviderConfig) WithEnv(key, value string) *ProviderConfig {
	if c.Env == nil {
		c.Env = make(map[string]string)
	}
	c.Env[key] = value
	return c
}

// WithTimeout sets the per-call timeout in seconds.
func (c *ProviderConfig) WithTimeout(seconds int) *ProviderConfig {
	c.TimeoutSeconds = seconds
	return c
}

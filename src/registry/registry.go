// Package registry holds the named provider process clients and is the
// single point other components use to reach a provider by name.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/procgate/go-procgate/src/json"
	"github.com/procgate/go-procgate/src/providers/base"
	"github.com/procgate/go-procgate/src/transports/stdio"
)

// ProviderNotFoundError means the registry has no client under that name.
type ProviderNotFoundError struct {
	Provider string
}

func (e *ProviderNotFoundError) Error() string {
	return fmt.Sprintf("provider not found: %s", e.Provider)
}

// Client is the slice of the process client the registry needs. stdio.Client
// implements it; tests substitute fakes.
type Client interface {
	Start(ctx context.Context) error
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	ListTools(ctx context.Context) ([]stdio.Tool, error)
	Stop() error
}

// Factory builds a client for one provider config.
type Factory func(cfg base.ProviderConfig, logger *logrus.Logger) Client

// DefaultFactory wires a ProviderConfig into a stdio process client, with
// the credential injected into the child's environment.
func DefaultFactory(cfg base.ProviderConfig, logger *logrus.Logger) Client {
	env := make(map[string]string, len(cfg.Env)+1)
	for k, v := range cfg.Env {
		env[k] = v
	}
	if cfg.Credential != "" {
		env[cfg.ResolvedCredentialEnv()] = cfg.Credential
	}
	return stdio.New(stdio.Options{
		Name:    cfg.Name,
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     env,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
}

// Registry maps provider names to running clients.
type Registry struct {
	factory Factory
	log     *logrus.Logger

	mu      sync.RWMutex
	clients map[string]Client
	tools   map[string][]stdio.Tool
	closed  bool
}

// New constructs an empty registry. A nil factory means DefaultFactory.
func New(factory Factory, logger *logrus.Logger) *Registry {
	if factory == nil {
		factory = DefaultFactory
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		factory: factory,
		log:     logger,
		clients: make(map[string]Client),
		tools:   make(map[string][]stdio.Tool),
	}
}

// InitializeAll starts every enabled provider in declaration order. A
// provider that fails to start is logged and skipped; partial availability
// is expected, so initialization never aborts on one bad provider.
func (r *Registry) InitializeAll(ctx context.Context, configs []base.ProviderConfig) {
	for _, cfg := range configs {
		if !cfg.Enabled {
			r.log.WithField("provider", cfg.Name).Debug("provider disabled, skipping")
			continue
		}

		client := r.factory(cfg, r.log)
		if err := client.Start(ctx); err != nil {
			r.log.WithError(err).WithField("provider", cfg.Name).Error("failed to start provider")
			continue
		}

		tools, err := client.ListTools(ctx)
		if err != nil {
			r.log.WithError(err).WithField("provider", cfg.Name).Warn("tool discovery failed")
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			client.Stop()
			return
		}
		r.clients[cfg.Name] = client
		r.tools[cfg.Name] = tools
		r.mu.Unlock()

		r.log.WithFields(logrus.Fields{
			"provider": cfg.Name,
			"kind":     cfg.Kind,
			"tools":    len(tools),
		}).Info("provider registered")
	}
}

// Execute runs a named tool against a named provider, propagating the
// client's result or error unchanged.
func (r *Registry) Execute(ctx context.Context, provider, tool string, args map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	client, ok := r.clients[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, &ProviderNotFoundError{Provider: provider}
	}
	return client.CallTool(ctx, tool, args)
}

// Tools returns the tools discovered for a provider at registration.
func (r *Registry) Tools(provider string) ([]stdio.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools, ok := r.tools[provider]
	if !ok {
		return nil, &ProviderNotFoundError{Provider: provider}
	}
	return tools, nil
}

// Providers returns the names of the registered providers.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// ShutdownAll stops every registered client, continuing past individual
// failures, and clears the registry. Every Execute afterwards fails with
// ProviderNotFoundError.
func (r *Registry) ShutdownAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]Client)
	r.tools = make(map[string][]stdio.Tool)
	r.closed = true
	r.mu.Unlock()

	for name, client := range clients {
		if err := client.Stop(); err != nil {
			r.log.WithError(err).WithField("provider", name).Error("failed to stop provider")
		}
	}
}

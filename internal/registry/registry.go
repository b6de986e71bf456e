// ABOUTME: Read-only catalog of published agent definitions
// ABOUTME: Loaded from a YAML catalog file or registered programmatically

package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/shreyanshjain7174/agent-runtime/internal/adapter"
)

// ErrDefinitionNotFound indicates the requested agent definition is not published.
var ErrDefinitionNotFound = errors.New("agent definition not found")

// Definition describes one published agent. Definitions are immutable once
// published; the supervisor only ever reads them.
type Definition struct {
	ID          string          `yaml:"id"`
	Version     string          `yaml:"version"`
	Description string          `yaml:"description"`
	Runtime     adapter.Runtime `yaml:"runtime"`
	Permissions []string        `yaml:"permissions"`
	Active      bool            `yaml:"active"`
}

// Registry holds the published agent definitions.
type Registry struct {
	mu     sync.RWMutex
	defs   map[string]*Definition
	logger *slog.Logger
}

// New creates an empty definition registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		defs:   make(map[string]*Definition),
		logger: logger,
	}
}

// catalogFile is the YAML shape of a definition catalog.
type catalogFile struct {
	Agents []*Definition `yaml:"agents"`
}

// LoadCatalog creates a registry from a YAML catalog file.
func LoadCatalog(path string, logger *slog.Logger) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var catalog catalogFile
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}

	r := New(logger)
	for _, def := range catalog.Agents {
		if err := r.Register(def); err != nil {
			return nil, fmt.Errorf("registering %q: %w", def.ID, err)
		}
	}

	logger.Info("agent catalog loaded", "path", path, "definitions", len(catalog.Agents))
	return r, nil
}

// Register publishes a definition. Re-registering an ID replaces the entry,
// which is how catalog reloads roll out new versions.
func (r *Registry) Register(def *Definition) error {
	if def.ID == "" {
		return errors.New("definition id is required")
	}
	if !def.Runtime.Valid() {
		return fmt.Errorf("invalid runtime %q for %s", def.Runtime, def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = def
	return nil
}

// Get returns the definition for an agent ID.
func (r *Registry) Get(agentID string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, agentID)
	}
	return def, nil
}

// List returns all published definitions.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		defs = append(defs, def)
	}
	return defs
}

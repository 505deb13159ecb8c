package agent

import (
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kys42/remote-agent/config"
	"github.com/kys42/remote-agent/errors"
	"github.com/kys42/remote-agent/logging"
)

// Registry is the in-memory catalog of agent definitions.
// Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	logger      *logrus.Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		definitions: make(map[string]*Definition),
		logger:      logging.NewLogger("agent-registry"),
	}
}

// Register adds a definition to the catalog. The definition is validated:
// the identifier must be non-empty and unused, and the executable must
// resolve to a real binary.
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return errors.InvalidDefinition("definition is nil")
	}
	if strings.TrimSpace(def.ID) == "" {
		return errors.InvalidDefinition("identifier must not be empty")
	}
	if def.MaxSessions <= 0 {
		return errors.InvalidDefinition("max_sessions must be positive").
			WithDetail("id", def.ID)
	}
	if err := resolveExecutable(def.Executable); err != nil {
		return errors.InvalidDefinition("executable not resolvable: "+def.Executable).
			WithDetail("id", def.ID).
			WithDetail("executable", def.Executable)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.definitions[def.ID]; exists {
		return errors.InvalidDefinition("duplicate identifier: " + def.ID).
			WithDetail("id", def.ID)
	}

	// The catalog holds a copy; defaults apply to the copy so the
	// caller's struct is never written to.
	copied := *def
	if copied.Type == "" {
		copied.Type = TypeCustom
	}
	r.definitions[copied.ID] = &copied
	r.logger.WithFields(logrus.Fields{
		"id":   copied.ID,
		"type": copied.Type,
	}).Info("Agent registered")
	return nil
}

// Resolve returns the definition for the given identifier.
func (r *Registry) Resolve(id string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.definitions[id]
	if !ok {
		return nil, errors.UnknownAgentType(id)
	}
	return def, nil
}

// List returns all definitions ordered by identifier.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.definitions))
	for _, def := range r.definitions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FromConfig builds a registry from the configured agents map. Agents whose
// executable cannot be resolved are skipped with a warning rather than
// failing startup, so a host without gemini installed can still serve claude.
func FromConfig(cfg *config.Config) *Registry {
	registry := NewRegistry()
	for id, agentCfg := range cfg.Agents {
		def := &Definition{
			ID:              id,
			Type:            Type(agentCfg.Type),
			Executable:      agentCfg.Executable,
			DefaultArgs:     agentCfg.DefaultArgs,
			CommandTemplate: agentCfg.CommandTemplate,
			MaxSessions:     agentCfg.MaxSessions,
		}
		if err := registry.Register(def); err != nil {
			registry.logger.WithError(err).WithField("id", id).
				Warn("Skipping unavailable agent")
		}
	}
	return registry
}

// resolveExecutable checks that an executable path or name can be launched.
func resolveExecutable(executable string) error {
	if executable == "" {
		return os.ErrNotExist
	}
	if strings.ContainsRune(executable, os.PathSeparator) {
		info, err := os.Stat(executable)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return os.ErrNotExist
		}
		return nil
	}
	_, err := exec.LookPath(executable)
	return err
}

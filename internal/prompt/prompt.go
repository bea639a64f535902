// Package prompt holds the prompt template catalogue used by the flows.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template names known to the flows.
const (
	ContextualSuggestions = "contextual_suggestions"
	TextContinuation      = "text_continuation"
	TargetedRevision      = "targeted_revision"
	PlotlineOutline       = "plotline_outline"
)

//go:embed prompts.yaml
var defaultCatalogue []byte

// ErrUnknownPrompt is returned when rendering a name that is not in the catalogue.
var ErrUnknownPrompt = errors.New("unknown prompt")

// Definition is one catalogue entry as written in YAML.
type Definition struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	System      string `yaml:"system"`
	Template    string `yaml:"template"`
}

type catalogue struct {
	Prompts []Definition `yaml:"prompts"`
}

// Rendered is a prompt ready to send to a model.
type Rendered struct {
	Name   string
	System string
	User   string
}

type entry struct {
	def  Definition
	tmpl *template.Template
}

// Registry resolves prompt names to parsed templates. The embedded catalogue
// is always loaded; entries from the override file replace it by name.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	overridePath string
	logger       *slog.Logger
}

// NewRegistry loads the embedded catalogue and, when overridePath is set, the override file.
func NewRegistry(overridePath string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{overridePath: overridePath, logger: logger}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload rebuilds the registry from the embedded catalogue and the override
// file. On error the previously loaded templates stay in place.
func (r *Registry) Reload() error {
	entries, err := parseCatalogue(defaultCatalogue)
	if err != nil {
		return fmt.Errorf("parse embedded prompts: %w", err)
	}

	if r.overridePath != "" {
		data, err := os.ReadFile(r.overridePath)
		if err != nil {
			return fmt.Errorf("read prompt overrides %s: %w", r.overridePath, err)
		}
		overrides, err := parseCatalogue(data)
		if err != nil {
			return fmt.Errorf("parse prompt overrides %s: %w", r.overridePath, err)
		}
		for name, e := range overrides {
			entries[name] = e
		}
		r.logger.Info("Prompt overrides loaded", "path", r.overridePath, "count", len(overrides))
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

func parseCatalogue(data []byte) (map[string]*entry, error) {
	var c catalogue
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	entries := make(map[string]*entry, len(c.Prompts))
	for _, def := range c.Prompts {
		if def.Name == "" {
			return nil, errors.New("prompt without name")
		}
		if strings.TrimSpace(def.Template) == "" {
			return nil, fmt.Errorf("prompt %s: empty template", def.Name)
		}
		if _, dup := entries[def.Name]; dup {
			return nil, fmt.Errorf("prompt %s: defined twice", def.Name)
		}
		tmpl, err := template.New(def.Name).Option("missingkey=error").Parse(def.Template)
		if err != nil {
			return nil, fmt.Errorf("prompt %s: %w", def.Name, err)
		}
		entries[def.Name] = &entry{def: def, tmpl: tmpl}
	}
	return entries, nil
}

// Render executes the named template with data.
func (r *Registry) Render(name string, data any) (Rendered, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}

	var sb strings.Builder
	if err := e.tmpl.Execute(&sb, data); err != nil {
		return Rendered{}, fmt.Errorf("render prompt %s: %w", name, err)
	}
	return Rendered{
		Name:   name,
		System: strings.TrimSpace(e.def.System),
		User:   strings.TrimSpace(sb.String()),
	}, nil
}

// Definitions returns the loaded catalogue sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

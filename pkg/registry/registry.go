// Copyright 2026 PROVENIQ
//
// Event Type Registry - per-event-type policy lookup.
// Loaded once at startup from YAML and read-only thereafter; safe for
// unsynchronized concurrent reads. Changing policies requires a reload.

package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EmitterClass is the coarse origin category of an event author.
type EmitterClass string

const (
	EmitterHuman          EmitterClass = "HUMAN"
	EmitterSystem         EmitterClass = "SYSTEM"
	EmitterLedgerExternal EmitterClass = "LEDGER_EXTERNAL"
)

// EvidencePolicy governs whether evidence must accompany an event type.
type EvidencePolicy string

const (
	EvidenceRequired    EvidencePolicy = "REQUIRED"
	EvidenceInheritLast EvidencePolicy = "INHERIT_LAST"
	EvidenceOptional    EvidencePolicy = "OPTIONAL"
	// EvidenceWaiver is a submission-side policy only; registry entries
	// never carry it.
	EvidenceWaiver EvidencePolicy = "WAIVER"
)

var (
	// ErrNotFound is returned when an event type is not registered.
	ErrNotFound = errors.New("registry: event type not found")

	// ErrInvalidEntry is returned when a registry source contains an
	// entry that fails validation.
	ErrInvalidEntry = errors.New("registry: invalid entry")
)

// Entry is the immutable policy record for one event type.
type Entry struct {
	EventType             string         `yaml:"event_type"`
	AllowedEmitterClasses []EmitterClass `yaml:"emitter_classes"`
	EvidencePolicy        EvidencePolicy `yaml:"evidence_policy"`
	// AllowedRoles optionally narrows emission to specific caller roles,
	// checked before the emitter-class gate. Empty means class check only.
	AllowedRoles []string `yaml:"allowed_roles,omitempty"`
}

// AllowsClass reports whether the entry permits the given emitter class.
func (e *Entry) AllowsClass(class EmitterClass) bool {
	for _, c := range e.AllowedEmitterClasses {
		if c == class {
			return true
		}
	}
	return false
}

// AllowsRole reports whether the entry permits the given caller role.
// An entry with no role list allows any role that passes the class check.
func (e *Entry) AllowsRole(role string) bool {
	if len(e.AllowedRoles) == 0 {
		return true
	}
	for _, r := range e.AllowedRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Registry resolves event types to their policy entries.
type Registry struct {
	entries map[string]*Entry
}

type registryFile struct {
	Events []Entry `yaml:"events"`
}

//go:embed event_types.yaml
var defaultRegistryYAML []byte

// LoadDefault builds the registry from the embedded policy table.
func LoadDefault() (*Registry, error) {
	return loadYAML(defaultRegistryYAML)
}

// LoadFile builds the registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return loadYAML(raw)
}

func loadYAML(raw []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry yaml: %w", err)
	}
	if len(file.Events) == 0 {
		return nil, fmt.Errorf("%w: registry has no events", ErrInvalidEntry)
	}

	entries := make(map[string]*Entry, len(file.Events))
	for i := range file.Events {
		e := file.Events[i]
		if err := validateEntry(&e); err != nil {
			return nil, err
		}
		if _, dup := entries[e.EventType]; dup {
			return nil, fmt.Errorf("%w: duplicate event type %q", ErrInvalidEntry, e.EventType)
		}
		entries[e.EventType] = &e
	}
	return &Registry{entries: entries}, nil
}

func validateEntry(e *Entry) error {
	if e.EventType == "" {
		return fmt.Errorf("%w: missing event_type", ErrInvalidEntry)
	}
	if len(e.AllowedEmitterClasses) == 0 {
		return fmt.Errorf("%w: %q has no emitter_classes", ErrInvalidEntry, e.EventType)
	}
	for _, c := range e.AllowedEmitterClasses {
		switch c {
		case EmitterHuman, EmitterSystem, EmitterLedgerExternal:
		default:
			return fmt.Errorf("%w: %q has unknown emitter class %q", ErrInvalidEntry, e.EventType, c)
		}
	}
	switch e.EvidencePolicy {
	case EvidenceRequired, EvidenceInheritLast, EvidenceOptional:
	default:
		return fmt.Errorf("%w: %q has unknown evidence policy %q", ErrInvalidEntry, e.EventType, e.EvidencePolicy)
	}
	return nil
}

// Get returns the entry for eventType, or ErrNotFound.
func (r *Registry) Get(eventType string) (*Entry, error) {
	e, ok := r.entries[eventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, eventType)
	}
	return e, nil
}

// EventTypes lists all registered event types.
func (r *Registry) EventTypes() []string {
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}

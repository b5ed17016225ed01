package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Store exposes persona retrieval for handlers and the session registry.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	Default() (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
// Later entries replace earlier ones with the same id.
func NewMemoryStore(items []Persona) *MemoryStore {
	s := &MemoryStore{}
	for _, item := range items {
		s.put(item)
	}
	return s
}

func (s *MemoryStore) put(p Persona) {
	for i, item := range s.items {
		if item.ID == p.ID {
			s.items[i] = p
			return
		}
	}
	s.items = append(s.items, p)
}

// List returns the persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Default returns the persona with DefaultID, falling back to the first entry.
func (s *MemoryStore) Default() (Persona, bool) {
	if p, ok := s.FindByID(DefaultID); ok {
		return p, true
	}
	if len(s.items) == 0 {
		return Persona{}, false
	}
	return s.items[0], true
}

type personaFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads personas from a YAML document of the form
//
//	personas:
//	  - id: ...
//	    systemPrompt: ...
func LoadFile(path string) ([]Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML persona document.
func Parse(raw []byte) ([]Persona, error) {
	var doc personaFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode personas: %w", err)
	}
	for _, p := range doc.Personas {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Personas, nil
}

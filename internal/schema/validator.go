// Package schema provides JSON Schema validation for custom event
// payloads. Applications register a schema per custom type tag; events
// with unregistered tags pass untouched.
package schema

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is a JSON Schema bound to one custom event type tag.
type Schema struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Version    int             `json:"version"`
	Definition json.RawMessage `json:"definition"`
	compiled   *gojsonschema.Schema
}

// ValidationError is one failed constraint.
type ValidationError struct {
	Field       string `json:"field"`
	Description string `json:"description"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidationResult is the outcome of validating a payload.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Registry maps custom event type tags to schemas.
type Registry struct {
	schemas map[string]*Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register compiles and installs a schema for a type tag.
func (r *Registry) Register(typeTag string, schema *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	loader := gojsonschema.NewBytesLoader(schema.Definition)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	schema.compiled = compiled

	r.schemas[typeTag] = schema
	return nil
}

// RegisterFromJSON installs a schema from its raw definition.
func (r *Registry) RegisterFromJSON(typeTag, name string, definition []byte) error {
	return r.Register(typeTag, &Schema{
		ID:         typeTag + "-schema",
		Name:       name,
		Version:    1,
		Definition: definition,
	})
}

// Get retrieves the schema for a type tag.
func (r *Registry) Get(typeTag string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[typeTag]
	return s, ok
}

// Unregister removes a schema.
func (r *Registry) Unregister(typeTag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, typeTag)
}

// HasSchema reports whether a type tag has a schema.
func (r *Registry) HasSchema(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[typeTag]
	return ok
}

// ListSchemas returns all registered type tags.
func (r *Registry) ListSchemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		tags = append(tags, t)
	}
	return tags
}

// Validate checks a payload against the schema for its type tag. An
// unregistered tag passes: the event space is open-world.
func (r *Registry) Validate(typeTag string, payload []byte) ValidationResult {
	r.mu.RLock()
	s, ok := r.schemas[typeTag]
	r.mu.RUnlock()

	if !ok {
		return ValidationResult{Valid: true}
	}
	return s.Validate(payload)
}

// Validate checks a payload against this schema.
func (s *Schema) Validate(payload []byte) ValidationResult {
	if s.compiled == nil {
		return ValidationResult{Valid: true}
	}

	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:       "payload",
				Description: fmt.Sprintf("validation error: %v", err),
			}},
		}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, len(result.Errors()))
	for i, e := range result.Errors() {
		errs[i] = ValidationError{Field: e.Field(), Description: e.Description()}
	}
	return ValidationResult{Valid: false, Errors: errs}
}

// PresenceSchema validates presence-style custom payloads.
var PresenceSchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["status"],
	"properties": {
		"status": {"type": "string", "enum": ["online", "offline", "away", "busy"]},
		"note": {"type": "string"}
	}
}`)

// ArtifactAnnouncementSchema validates artifact announcement payloads.
var ArtifactAnnouncementSchema = []byte(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["artifact_id"],
	"properties": {
		"artifact_id": {"type": "string", "minLength": 1},
		"title": {"type": "string"},
		"size": {"type": "integer", "minimum": 0}
	}
}`)

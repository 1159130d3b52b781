// Package schema validates incoming event payloads against per-type JSON
// schemas before they enter the signing pipeline. Schemas are embedded and
// compiled once at startup; a compile failure is a build defect and aborts.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"anchord/internal/event"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Validator holds the compiled payload schemas, keyed by event type.
type Validator struct {
	schemas map[event.Type]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas. Schema file names map to
// event types: telemetry.schema.json validates TELEMETRY payloads.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("schema: read embedded schemas: %w", err)
	}

	v := &Validator{schemas: make(map[event.Type]*jsonschema.Schema, len(entries))}
	for _, entry := range entries {
		name := entry.Name()
		data, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("schema: read %s: %w", name, err)
		}

		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema: add %s: %w", name, err)
		}
		compiled, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", name, err)
		}

		t := typeForFile(name)
		if t == "" {
			return nil, fmt.Errorf("schema: %s does not map to a known event type", name)
		}
		v.schemas[t] = compiled
	}
	return v, nil
}

// ValidatePayload checks raw payload JSON against the schema for the event
// type. Types without a schema pass unchecked; payload semantics beyond the
// schema remain the caller's.
func (v *Validator) ValidatePayload(t event.Type, raw json.RawMessage) error {
	s, ok := v.schemas[t]
	if !ok || len(raw) == 0 {
		return nil
	}

	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("schema: %s payload is not valid JSON: %w", t, err)
	}
	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("schema: %s payload rejected: %w", t, err)
	}
	return nil
}

// Types returns the event types with a compiled schema.
func (v *Validator) Types() []event.Type {
	out := make([]event.Type, 0, len(v.schemas))
	for t := range v.schemas {
		out = append(out, t)
	}
	return out
}

func typeForFile(name string) event.Type {
	base := strings.TrimSuffix(name, ".schema.json")
	t := event.Type(strings.ToUpper(base))
	switch t {
	case event.TypeTelemetry, event.TypeAlarm, event.TypeCommand,
		event.TypeAcknowledgement, event.TypeMaintenance,
		event.TypeBlueprintChange, event.TypeCodeGeneration,
		event.TypeDeploymentIntent:
		return t
	}
	return ""
}

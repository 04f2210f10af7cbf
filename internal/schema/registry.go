// Package schema implements the Schema Registry (C1): loads the envelope
// schema, reusable object schemas, and event-type-keyed payload schemas
// from a directory tree, and exposes validators over the raw JSON bytes.
// Grounded on original_source/core/schema_registry.py and
// core/schema_validate.py.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchemaID = "event_envelope.v1.json"

// Registry holds the compiled envelope schema and one compiled schema per
// known event type, plus the raw $id -> document store used to resolve
// $ref from any schema.
type Registry struct {
	envelope *jsonschema.Schema
	byEvent  map[string]*jsonschema.Schema
	idToFile map[string]string
}

// Result is the outcome of a single validation call.
type Result struct {
	OK       bool
	Reason   string
	SchemaID string
}

// ResolveDir implements the 3-tier path resolution in spec §4.1: (1) the
// requested directory, (2) an environment-override directory, (3) the
// schema tree bundled with the binary via go:embed.
func ResolveDir(requested, envOverride string) (string, fs.FS, error) {
	if requested != "" {
		if info, err := os.Stat(requested); err == nil && info.IsDir() {
			return requested, os.DirFS(requested), nil
		}
	}
	if envOverride != "" {
		if info, err := os.Stat(envOverride); err == nil && info.IsDir() {
			return envOverride, os.DirFS(envOverride), nil
		}
	}
	sub, err := fs.Sub(bundled, bundledRoot)
	if err != nil {
		return "", nil, fmt.Errorf("op=schema.ResolveDir: bundled schemas unavailable: %w", err)
	}
	return "<bundled>", sub, nil
}

// Load walks dirFS (rooted as returned by ResolveDir), compiles the
// envelope schema, every object schema under objects/, and every payload
// schema under events/, keying payload schemas by the custom x_event_type
// field. Duplicate x_event_type values across files fail loudly.
func Load(dirFS fs.FS) (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	idToFile := make(map[string]string)

	if err := addResourcesFrom(compiler, dirFS, "objects", idToFile); err != nil {
		return nil, err
	}
	if err := addResourcesFrom(compiler, dirFS, ".", idToFile); err != nil {
		return nil, err
	}

	eventSchemaIDs, err := scanEventSchemas(dirFS)
	if err != nil {
		return nil, err
	}
	for eventType, file := range eventSchemaIDs {
		data, err := fs.ReadFile(dirFS, file)
		if err != nil {
			return nil, fmt.Errorf("op=schema.Load: read %s: %w", file, err)
		}
		id := fmt.Sprintf("payload:%s", eventType)
		if err := compiler.AddResource(id, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("op=schema.Load: add payload resource %s: %w", file, err)
		}
	}

	envelope, err := compiler.Compile(envelopeSchemaID)
	if err != nil {
		return nil, fmt.Errorf("op=schema.Load: compile envelope: %w", err)
	}

	byEvent := make(map[string]*jsonschema.Schema, len(eventSchemaIDs))
	for eventType := range eventSchemaIDs {
		id := fmt.Sprintf("payload:%s", eventType)
		s, err := compiler.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("op=schema.Load: compile payload %s: %w", eventType, err)
		}
		byEvent[eventType] = s
	}

	return &Registry{envelope: envelope, byEvent: byEvent, idToFile: idToFile}, nil
}

func addResourcesFrom(compiler *jsonschema.Compiler, dirFS fs.FS, dir string, idToFile map[string]string) error {
	entries, err := fs.ReadDir(dirFS, dir)
	if err != nil {
		if dir == "objects" {
			return nil // objects/ is optional
		}
		return fmt.Errorf("op=schema.Load: read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".schema.json") {
			continue
		}
		path := entry.Name()
		if dir != "." {
			path = filepath.Join(dir, entry.Name())
		}
		data, err := fs.ReadFile(dirFS, path)
		if err != nil {
			return fmt.Errorf("op=schema.Load: read %s: %w", path, err)
		}
		id := extractID(data, entry.Name())
		if err := compiler.AddResource(id, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("op=schema.Load: add resource %s: %w", path, err)
		}
		idToFile[id] = path
	}
	return nil
}

func scanEventSchemas(dirFS fs.FS) (map[string]string, error) {
	entries, err := fs.ReadDir(dirFS, "events")
	if err != nil {
		return nil, fmt.Errorf("op=schema.Load: read events dir: %w", err)
	}
	out := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".schema.json") {
			continue
		}
		path := filepath.Join("events", entry.Name())
		data, err := fs.ReadFile(dirFS, path)
		if err != nil {
			return nil, fmt.Errorf("op=schema.Load: read %s: %w", path, err)
		}
		eventType := extractEventType(data)
		if eventType == "" {
			return nil, fmt.Errorf("op=schema.Load: %s missing x_event_type", path)
		}
		if existing, dup := out[eventType]; dup {
			return nil, fmt.Errorf("op=schema.Load: duplicate x_event_type %q in %s and %s", eventType, existing, path)
		}
		out[eventType] = path
	}
	return out, nil
}

func extractID(data []byte, fallback string) string {
	var probe struct {
		ID string `json:"$id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return fallback
}

func extractEventType(data []byte) string {
	var probe struct {
		XEventType string `json:"x_event_type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.XEventType
}

// ValidateEnvelope validates raw envelope JSON bytes.
func (r *Registry) ValidateEnvelope(data []byte) Result {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Result{OK: false, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if err := r.envelope.Validate(v); err != nil {
		return Result{OK: false, Reason: err.Error(), SchemaID: envelopeSchemaID}
	}
	return Result{OK: true, SchemaID: envelopeSchemaID}
}

// ValidatePayload validates raw payload JSON bytes against the schema keyed
// by eventType. An event type with no registered payload schema always
// validates (spec §4.8: "all others are acked and ignored" implies no
// payload contract is enforced for unknown types).
func (r *Registry) ValidatePayload(eventType string, data []byte) Result {
	s, ok := r.byEvent[eventType]
	if !ok {
		return Result{OK: true}
	}
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Result{OK: false, Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	if err := s.Validate(v); err != nil {
		return Result{OK: false, Reason: err.Error(), SchemaID: fmt.Sprintf("payload:%s", eventType)}
	}
	return Result{OK: true, SchemaID: fmt.Sprintf("payload:%s", eventType)}
}

// KnownEventTypes returns the event types with a registered payload schema.
func (r *Registry) KnownEventTypes() []string {
	out := make([]string, 0, len(r.byEvent))
	for k := range r.byEvent {
		out = append(out, k)
	}
	return out
}

package input

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/cycsim/cycsim/sim"
)

// ArchetypeSchema describes the config block one archetype accepts.
type ArchetypeSchema struct {
	Spec   string            `yaml:"spec"`
	Kind   sim.Kind          `yaml:"kind"`
	Doc    string            `yaml:"doc,omitempty"`
	Config []sim.SchemaField `yaml:"config"`
}

// Archetypes describes every archetype in reg, sorted by spec.
func Archetypes(reg *sim.Registry) []ArchetypeSchema {
	var out []ArchetypeSchema
	for _, spec := range reg.Specs() {
		a, err := reg.Lookup(spec)
		if err != nil {
			continue
		}
		out = append(out, ArchetypeSchema{Spec: a.Spec, Kind: a.Kind, Doc: a.Doc, Config: sim.Schema(a.Vars)})
	}
	return out
}

// DocumentSchema reflects the JSON schema of a scenario document. Field
// names follow the yaml tags; keys without omitempty are required.
func DocumentSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		FieldNameTag:   "yaml",
		DoNotReference: true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == reflect.TypeOf(time.Duration(0)) {
				return &jsonschema.Schema{Type: "string", Format: "duration"}
			}
			return nil
		},
	}
	return r.Reflect(&Scenario{})
}

// Schema renders the input document's JSON schema and the config schema of
// every archetype in reg as YAML.
func Schema(reg *sim.Registry) ([]byte, error) {
	raw, err := json.Marshal(DocumentSchema())
	if err != nil {
		return nil, fmt.Errorf("encoding input schema: %w", err)
	}
	// Decoding into a node keeps the reflected key order.
	var input yaml.Node
	if err := yaml.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("converting input schema: %w", err)
	}
	doc := struct {
		Input      *yaml.Node        `yaml:"input"`
		Archetypes []ArchetypeSchema `yaml:"archetypes"`
	}{input.Content[0], Archetypes(reg)}
	return yaml.Marshal(doc)
}

// FlatSchema lists one "path: type" line per input key, with archetype
// config keys under their spec.
func FlatSchema(reg *sim.Registry) string {
	var lines []string
	flatten(DocumentSchema(), "", false, &lines)
	for _, a := range Archetypes(reg) {
		for _, f := range a.Config {
			lines = append(lines, flatLine(a.Spec+"."+f.Name, f.Type, f.Required))
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func flatten(s *jsonschema.Schema, path string, required bool, lines *[]string) {
	switch {
	case s.Properties != nil && s.Properties.Len() > 0:
		for p := s.Properties.Oldest(); p != nil; p = p.Next() {
			name := p.Key
			if path != "" {
				name = path + "." + name
			}
			flatten(p.Value, name, slices.Contains(s.Required, p.Key), lines)
		}
	case s.Type == "array" && s.Items != nil:
		flatten(s.Items, path+"[]", required, lines)
	default:
		*lines = append(*lines, flatLine(path, typeName(s), required))
	}
}

func flatLine(path, typ string, required bool) string {
	if required {
		return path + ": " + typ + " (required)"
	}
	return path + ": " + typ
}

// typeName maps a JSON schema leaf to the type vocabulary archetype
// state variables use.
func typeName(s *jsonschema.Schema) string {
	if s.Format == "duration" {
		return "duration"
	}
	switch s.Type {
	case "":
		return "scalar"
	case "integer":
		return "int"
	case "number":
		return "double"
	case "boolean":
		return "bool"
	case "object":
		return "mapping"
	}
	return s.Type
}

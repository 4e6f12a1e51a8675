package sim

import (
	"fmt"
	"slices"
	"sort"
)

// StateVar declares one typed, configurable field of an archetype.
type StateVar struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Default  any    `yaml:"default,omitempty"` // nil means required
	Shape    []int  `yaml:"shape,omitempty"`
	Alias    string `yaml:"alias,omitempty"`
	UIType   string `yaml:"uitype,omitempty"`
	Internal bool   `yaml:"internal,omitempty"`
	Doc      string `yaml:"doc,omitempty"`
}

// InputName is the key the variable is read from.
func (v StateVar) InputName() string {
	if v.Alias != "" {
		return v.Alias
	}
	return v.Name
}

// Values holds validated state variable values keyed by variable name.
type Values map[string]any

// Has reports whether name is set.
func (v Values) Has(name string) bool {
	_, ok := v[name]
	return ok
}

func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

func (v Values) Int(name string) int {
	i, _ := v[name].(int)
	return i
}

func (v Values) Float(name string) float64 {
	f, _ := v[name].(float64)
	return f
}

func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Strings returns a vector, list or set of strings.
func (v Values) Strings(name string) []string {
	return listOf[string](v[name])
}

// Floats returns a vector, list or set of doubles.
func (v Values) Floats(name string) []float64 {
	return listOf[float64](v[name])
}

// Ints returns a vector, list or set of ints.
func (v Values) Ints(name string) []int {
	return listOf[int](v[name])
}

// FloatMap returns a map<string,double>.
func (v Values) FloatMap(name string) map[string]float64 {
	m, _ := v[name].(map[any]any)
	out := make(map[string]float64, len(m))
	for k, val := range m {
		ks, ok1 := k.(string)
		f, ok2 := val.(float64)
		if ok1 && ok2 {
			out[ks] = f
		}
	}
	return out
}

// NucMap returns a map<int,double> keyed by nuclide id.
func (v Values) NucMap(name string) map[int]float64 {
	m, _ := v[name].(map[any]any)
	out := make(map[int]float64, len(m))
	for k, val := range m {
		ki, ok1 := k.(int)
		f, ok2 := val.(float64)
		if ok1 && ok2 {
			out[ki] = f
		}
	}
	return out
}

func listOf[T any](raw any) []T {
	items, _ := raw.([]any)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if x, ok := it.(T); ok {
			out = append(out, x)
		}
	}
	return out
}

// ValidateConfig checks input against vars and returns the typed values.
// Absent variables take their default; internal variables never come from
// input; unknown keys are rejected.
func ValidateConfig(vars []StateVar, input map[string]any) (Values, error) {
	out := make(Values, len(vars))
	known := make(map[string]bool, len(vars))
	for _, sv := range vars {
		tag, err := ParseTypeTag(sv.Type)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", sv.Name, err)
		}
		key := sv.InputName()
		raw, given := input[key]
		if sv.Internal {
			if given {
				return nil, fmt.Errorf("%w: internal variable %s cannot be configured", ErrValidation, sv.Name)
			}
		} else {
			known[key] = true
		}
		if !given || sv.Internal {
			if sv.Default == nil && !tag.IsInventory() {
				return nil, fmt.Errorf("%w: missing required variable %s", ErrValidation, key)
			}
			raw = sv.Default
		}
		val, err := tag.Convert(raw, sv.UIType, sv.Shape)
		if err != nil {
			return nil, fmt.Errorf("%w: variable %s: %v", ErrValidation, key, err)
		}
		out[sv.Name] = val
	}
	var unknown []string
	for key := range input {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown variable(s) %v", ErrValidation, unknown)
	}
	return out, nil
}

// SchemaField is the public description of one configurable variable.
type SchemaField struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default,omitempty"`
	Shape    []int  `yaml:"shape,omitempty"`
	UIType   string `yaml:"uitype,omitempty"`
}

// Schema lists the input fields of vars, skipping internal ones, sorted by
// input name.
func Schema(vars []StateVar) []SchemaField {
	var fields []SchemaField
	for _, sv := range vars {
		if sv.Internal {
			continue
		}
		tag, err := ParseTypeTag(sv.Type)
		typ := sv.Type
		if err == nil {
			typ = tag.String()
		}
		fields = append(fields, SchemaField{
			Name:     sv.InputName(),
			Type:     typ,
			Required: sv.Default == nil && (err != nil || !tag.IsInventory()),
			Default:  sv.Default,
			Shape:    slices.Clone(sv.Shape),
			UIType:   sv.UIType,
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

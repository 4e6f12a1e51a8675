package sim

import (
	"fmt"
	"sort"
	"strings"
)

// Archetype is a registered agent template identified by its spec string
// ("path:lib:name").
type Archetype struct {
	Spec string
	Kind Kind
	Doc  string
	Vars []StateVar
	New  func() Agent
}

// Registry maps spec strings to archetypes.
type Registry struct {
	specs map[string]*Archetype
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]*Archetype)}
}

// DefaultRegistry holds archetypes registered from package init functions.
var DefaultRegistry = NewRegistry()

// RegisterArchetype adds a to DefaultRegistry. It panics on an invalid or
// duplicate archetype; it is meant to be called from init().
func RegisterArchetype(a Archetype) {
	if err := DefaultRegistry.Register(a); err != nil {
		panic(err)
	}
}

// Register validates a and adds it.
func (r *Registry) Register(a Archetype) error {
	if _, _, _, err := ParseSpec(a.Spec); err != nil {
		return err
	}
	if _, dup := r.specs[a.Spec]; dup {
		return fmt.Errorf("%w: archetype %s registered twice", ErrValidation, a.Spec)
	}
	if !ValidKinds[a.Kind] {
		return fmt.Errorf("%w: archetype %s has unknown kind %q", ErrValidation, a.Spec, a.Kind)
	}
	if a.New == nil {
		return fmt.Errorf("%w: archetype %s has no constructor", ErrValidation, a.Spec)
	}
	names := make(map[string]bool)
	for _, sv := range a.Vars {
		if names[sv.Name] || names[sv.InputName()] {
			return fmt.Errorf("%w: archetype %s declares %s twice", ErrValidation, a.Spec, sv.Name)
		}
		names[sv.Name], names[sv.InputName()] = true, true
		tag, err := ParseTypeTag(sv.Type)
		if err != nil {
			return fmt.Errorf("archetype %s variable %s: %w", a.Spec, sv.Name, err)
		}
		if sv.Default != nil {
			if _, err := tag.Convert(sv.Default, sv.UIType, sv.Shape); err != nil {
				return fmt.Errorf("%w: archetype %s variable %s default: %v", ErrValidation, a.Spec, sv.Name, err)
			}
		} else if sv.Internal && !tag.IsInventory() {
			return fmt.Errorf("%w: archetype %s internal variable %s needs a default", ErrValidation, a.Spec, sv.Name)
		}
	}
	arch := a
	r.specs[a.Spec] = &arch
	return nil
}

// Lookup returns the archetype registered under spec.
func (r *Registry) Lookup(spec string) (*Archetype, error) {
	a, ok := r.specs[spec]
	if !ok {
		return nil, fmt.Errorf("%w: unknown archetype %q", ErrValidation, spec)
	}
	return a, nil
}

// Specs returns every registered spec in sorted order.
func (r *Registry) Specs() []string {
	specs := make([]string, 0, len(r.specs))
	for s := range r.specs {
		specs = append(specs, s)
	}
	sort.Strings(specs)
	return specs
}

// Listing returns the specs of one "path:lib" namespace.
func (r *Registry) Listing(pathLib string) []string {
	var out []string
	for _, s := range r.Specs() {
		if strings.HasPrefix(s, pathLib+":") {
			out = append(out, s)
		}
	}
	return out
}

// ParseSpec splits "path:lib:name". Path and lib may be empty; name may not.
func ParseSpec(spec string) (path, lib, name string, err error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 || parts[2] == "" {
		return "", "", "", fmt.Errorf("%w: archetype spec %q must look like path:lib:name", ErrValidation, spec)
	}
	return parts[0], parts[1], parts[2], nil
}

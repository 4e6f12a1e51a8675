package sim

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/cycsim/cycsim/sim/nucname"
)

// TypeTag is a parsed state variable type such as "map<string,vector<double>>".
type TypeTag struct {
	Name string
	Args []*TypeTag
}

var scalarTypes = map[string]bool{
	"bool": true, "int": true, "float": true, "double": true,
	"string": true, "blob": true, "uuid": true,
}

var containerArity = map[string]int{"vector": 1, "set": 1, "list": 1, "pair": 2, "map": 2}

var inventoryArity = map[string]int{"ResBuf": 1, "ResMap": 2, "TotalInvTracker": 1}

var resourceKinds = map[string]bool{"Material": true, "Product": true}

// ParseTypeTag parses and checks a canonical type tag.
func ParseTypeTag(s string) (*TypeTag, error) {
	p := &tagParser{src: strings.ReplaceAll(s, " ", "")}
	t, err := p.parse()
	if err != nil {
		return nil, fmt.Errorf("%w: type %q: %v", ErrValidation, s, err)
	}
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("%w: type %q: trailing %q", ErrValidation, s, p.src[p.pos:])
	}
	if err := t.check(true); err != nil {
		return nil, fmt.Errorf("%w: type %q: %v", ErrValidation, s, err)
	}
	return t, nil
}

type tagParser struct {
	src string
	pos int
}

func (p *tagParser) parse() (*TypeTag, error) {
	start := p.pos
	for p.pos < len(p.src) && !strings.ContainsRune("<>,", rune(p.src[p.pos])) {
		p.pos++
	}
	t := &TypeTag{Name: p.src[start:p.pos]}
	if t.Name == "" {
		return nil, fmt.Errorf("missing type name at %d", start)
	}
	if p.pos == len(p.src) || p.src[p.pos] != '<' {
		return t, nil
	}
	p.pos++
	for {
		arg, err := p.parse()
		if err != nil {
			return nil, err
		}
		t.Args = append(t.Args, arg)
		if p.pos == len(p.src) {
			return nil, fmt.Errorf("unclosed <")
		}
		c := p.src[p.pos]
		p.pos++
		if c == '>' {
			return t, nil
		}
	}
}

func (t *TypeTag) check(top bool) error {
	switch {
	case scalarTypes[t.Name]:
		if len(t.Args) != 0 {
			return fmt.Errorf("%s takes no parameters", t.Name)
		}
	case containerArity[t.Name] > 0:
		if len(t.Args) != containerArity[t.Name] {
			return fmt.Errorf("%s takes %d parameter(s)", t.Name, containerArity[t.Name])
		}
		if (t.Name == "map" || t.Name == "set") && (!t.Args[0].IsScalar() || t.Args[0].Name == "blob") {
			return fmt.Errorf("%s key must be a comparable scalar type", t.Name)
		}
		for _, a := range t.Args {
			if err := a.check(false); err != nil {
				return err
			}
		}
	case inventoryArity[t.Name] > 0:
		if !top {
			return fmt.Errorf("%s cannot be nested", t.Name)
		}
		if len(t.Args) != inventoryArity[t.Name] {
			return fmt.Errorf("%s takes %d parameter(s)", t.Name, inventoryArity[t.Name])
		}
		if !resourceKinds[t.Args[len(t.Args)-1].Name] {
			return fmt.Errorf("%s resource must be Material or Product", t.Name)
		}
		if t.Name == "ResMap" && !t.Args[0].IsScalar() {
			return fmt.Errorf("ResMap key must be a scalar type")
		}
	default:
		return fmt.Errorf("unknown type %q", t.Name)
	}
	return nil
}

// IsScalar reports whether t is one of the scalar tags.
func (t *TypeTag) IsScalar() bool { return scalarTypes[t.Name] }

// IsInventory reports whether t is an inventory type (ResBuf, ResMap, TotalInvTracker).
func (t *TypeTag) IsInventory() bool { return inventoryArity[t.Name] > 0 }

// String returns the canonical spelling without spaces.
func (t *TypeTag) String() string {
	if len(t.Args) == 0 {
		return t.Name
	}
	args := make([]string, len(t.Args))
	for i, a := range t.Args {
		args[i] = a.String()
	}
	return t.Name + "<" + strings.Join(args, ",") + ">"
}

// Convert checks v against t and returns its runtime representation:
// Go scalars, []any for vector/list/set, [2]any for pair, map[any]any for
// map, and a float64 capacity for inventories. A uitype of "nuclide" turns
// nuclide names into ids. shape[0], when positive, bounds the length of a
// string or container; the rest of shape applies to its elements.
func (t *TypeTag) Convert(v any, uitype string, shape []int) (any, error) {
	head, rest := -1, []int(nil)
	if len(shape) > 0 {
		head, rest = shape[0], shape[1:]
	}
	bound := func(n int) error {
		if head > 0 && n > head {
			return fmt.Errorf("length %d exceeds shape %d", n, head)
		}
		return nil
	}

	switch t.Name {
	case "bool":
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case "int":
		if s, ok := v.(string); ok && uitype == "nuclide" {
			return nucname.ID(s)
		}
		switch x := v.(type) {
		case int:
			return x, nil
		case int64:
			return int(x), nil
		case float64:
			if x == math.Trunc(x) {
				return int(x), nil
			}
		}
	case "float", "double":
		switch x := v.(type) {
		case float64:
			return x, nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		}
	case "string":
		if s, ok := v.(string); ok {
			return s, bound(len(s))
		}
	case "blob":
		switch x := v.(type) {
		case string:
			return []byte(x), bound(len(x))
		case []byte:
			return x, bound(len(x))
		}
	case "uuid":
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case string:
			return uuid.Parse(x)
		}
	case "vector", "list", "set":
		items, ok := v.([]any)
		if !ok {
			break
		}
		if err := bound(len(items)); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(items))
		seen := make(map[any]bool)
		for i, it := range items {
			cv, err := t.Args[0].Convert(it, uitype, rest)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			if t.Name == "set" {
				if seen[cv] {
					continue
				}
				seen[cv] = true
			}
			out = append(out, cv)
		}
		return out, nil
	case "pair":
		var first, second any
		switch x := v.(type) {
		case []any:
			if len(x) != 2 {
				return nil, fmt.Errorf("pair needs 2 elements, got %d", len(x))
			}
			first, second = x[0], x[1]
		case map[string]any:
			first, second = x["first"], x["second"]
		default:
			return nil, fmt.Errorf("expected %s, got %T", t, v)
		}
		a, err := t.Args[0].Convert(first, uitype, sub(rest, 0))
		if err != nil {
			return nil, fmt.Errorf("first: %w", err)
		}
		b, err := t.Args[1].Convert(second, uitype, sub(rest, 1))
		if err != nil {
			return nil, fmt.Errorf("second: %w", err)
		}
		return [2]any{a, b}, nil
	case "map":
		entries, ok := mapEntries(v)
		if !ok {
			break
		}
		if err := bound(len(entries)); err != nil {
			return nil, err
		}
		out := make(map[any]any, len(entries))
		for k, val := range entries {
			ck, err := t.Args[0].Convert(k, uitype, sub(rest, 0))
			if err != nil {
				return nil, fmt.Errorf("key %v: %w", k, err)
			}
			cv, err := t.Args[1].Convert(val, uitype, sub(rest, 1))
			if err != nil {
				return nil, fmt.Errorf("value of %v: %w", k, err)
			}
			out[ck] = cv
		}
		return out, nil
	case "ResBuf", "ResMap", "TotalInvTracker":
		if v == nil {
			return math.Inf(1), nil
		}
		capacity, err := (&TypeTag{Name: "double"}).Convert(v, "", nil)
		if err != nil {
			return nil, err
		}
		if c := capacity.(float64); c < 0 {
			return nil, fmt.Errorf("inventory capacity must be >= 0, got %v", c)
		}
		return capacity, nil
	}
	return nil, fmt.Errorf("expected %s, got %T", t, v)
}

func sub(shape []int, i int) []int {
	if i < len(shape) {
		return shape[i : i+1]
	}
	return nil
}

func mapEntries(v any) (map[any]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[any]any, len(x))
		for k, val := range x {
			out[k] = val
		}
		return out, true
	case map[any]any:
		return x, true
	}
	return nil, false
}

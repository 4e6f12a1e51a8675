package recorder

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// TypeTag is the canonical type name of a recorded column value.
type TypeTag string

const (
	TypeBool         TypeTag = "bool"
	TypeInt          TypeTag = "int"
	TypeFloat        TypeTag = "float"
	TypeDouble       TypeTag = "double"
	TypeString       TypeTag = "string"
	TypeBlob         TypeTag = "blob"
	TypeUUID         TypeTag = "uuid"
	TypeVectorInt    TypeTag = "vector<int>"
	TypeVectorDouble TypeTag = "vector<double>"
	TypeVectorString TypeTag = "vector<string>"
	TypeMapIntDouble TypeTag = "map<int,double>"
	TypeMapStrDouble TypeTag = "map<string,double>"
)

// Column describes one field of a table. Shape holds optional fixed extents
// for bounded containers; nil means unbounded.
type Column struct {
	Name  string
	Type  TypeTag
	Shape []int
}

// Schema is the ordered column list of a table. It is fixed by the first row
// recorded for that table.
type Schema []Column

// Row is one record, positionally aligned with its table's Schema.
type Row []any

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Equal reports whether two schemas have the same columns, tags and shapes.
func (s Schema) Equal(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i].Name != o[i].Name || s[i].Type != o[i].Type || !slices.Equal(s[i].Shape, o[i].Shape) {
			return false
		}
	}
	return true
}

// diff describes the first difference between two schemas, for error messages.
func (s Schema) diff(o Schema) string {
	if len(s) != len(o) {
		return fmt.Sprintf("column count %d != %d (%v vs %v)", len(o), len(s), o.Names(), s.Names())
	}
	for i := range s {
		switch {
		case s[i].Name != o[i].Name:
			return fmt.Sprintf("column %d named %q, want %q", i, o[i].Name, s[i].Name)
		case s[i].Type != o[i].Type:
			return fmt.Sprintf("column %q has type %s, want %s", s[i].Name, o[i].Type, s[i].Type)
		case !slices.Equal(s[i].Shape, o[i].Shape):
			return fmt.Sprintf("column %q has shape %v, want %v", s[i].Name, o[i].Shape, s[i].Shape)
		}
	}
	return "no difference"
}

// TagOf infers the canonical type tag of a Go value.
func TagOf(v any) (TypeTag, error) {
	switch v.(type) {
	case bool:
		return TypeBool, nil
	case int, int32, int64:
		return TypeInt, nil
	case float32:
		return TypeFloat, nil
	case float64:
		return TypeDouble, nil
	case string:
		return TypeString, nil
	case []byte:
		return TypeBlob, nil
	case uuid.UUID:
		return TypeUUID, nil
	case []int:
		return TypeVectorInt, nil
	case []float64:
		return TypeVectorDouble, nil
	case []string:
		return TypeVectorString, nil
	case map[int]float64:
		return TypeMapIntDouble, nil
	case map[string]float64:
		return TypeMapStrDouble, nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

// normalize widens integer kinds to int so rows compare uniformly.
func normalize(v any) any {
	switch x := v.(type) {
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return v
	}
}

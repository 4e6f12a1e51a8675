package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sinkLikeVars = []StateVar{
	{Name: "in_commods", Type: "vector<string>"},
	{Name: "capacity", Type: "double", Default: 1.0},
	{Name: "recipe_name", Type: "string", Default: "", Alias: "recipe"},
	{Name: "inventory", Type: "ResBuf<Material>"},
	{Name: "fractions", Type: "map<int,double>", UIType: "nuclide", Default: map[string]any{}},
	{Name: "ticks_seen", Type: "int", Default: 0, Internal: true},
}

func TestValidateConfig_DefaultsAndAliases(t *testing.T) {
	// GIVEN a config that sets only the required variable and one alias
	input := map[string]any{
		"in_commods": []any{"uox"},
		"recipe":     "fresh",
	}

	// WHEN validated
	vals, err := ValidateConfig(sinkLikeVars, input)

	// THEN defaults fill the rest and values are keyed by variable name
	require.NoError(t, err)
	assert.Equal(t, []string{"uox"}, vals.Strings("in_commods"))
	assert.Equal(t, 1.0, vals.Float("capacity"))
	assert.Equal(t, "fresh", vals.String("recipe_name"))
	assert.Equal(t, 0, vals.Int("ticks_seen"))
	assert.True(t, vals.Has("inventory"))
	assert.Empty(t, vals.NucMap("fractions"))
}

func TestValidateConfig_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{"missing required", map[string]any{}, "missing required variable in_commods"},
		{"unknown key", map[string]any{"in_commods": []any{"uox"}, "colour": "red"}, "unknown variable"},
		{"internal given", map[string]any{"in_commods": []any{"uox"}, "ticks_seen": 3}, "internal variable"},
		{"wrong type", map[string]any{"in_commods": "uox"}, "variable in_commods"},
		{"alias not name", map[string]any{"in_commods": []any{"uox"}, "recipe_name": "x"}, "unknown variable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateConfig(sinkLikeVars, tt.input)
			require.ErrorIs(t, err, ErrValidation)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValues_NucMapFromNames(t *testing.T) {
	vals, err := ValidateConfig(sinkLikeVars, map[string]any{
		"in_commods": []any{"uox"},
		"fractions":  map[string]any{"U235": 0.05, "U238": 0.95},
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{922350000: 0.05, 922380000: 0.95}, vals.NucMap("fractions"))
}

func TestSchema_SkipsInternalAndSorts(t *testing.T) {
	fields := Schema(sinkLikeVars)

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"capacity", "fractions", "in_commods", "inventory", "recipe"}, names)

	byName := make(map[string]SchemaField)
	for _, f := range fields {
		byName[f.Name] = f
	}
	assert.True(t, byName["in_commods"].Required)
	assert.False(t, byName["capacity"].Required)
	assert.False(t, byName["inventory"].Required, "inventories default to unbounded capacity")
	assert.Equal(t, "map<int,double>", byName["fractions"].Type)
	assert.Equal(t, "nuclide", byName["fractions"].UIType)
}

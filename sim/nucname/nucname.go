// Package nucname converts between nuclide names ("U235", "Pu-239",
// "Am242m") and canonical integer ids of the form ZZZAAASSSS.
package nucname

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

var symbols = []string{
	"", "H", "He", "Li", "Be", "B", "C", "N", "O", "F", "Ne",
	"Na", "Mg", "Al", "Si", "P", "S", "Cl", "Ar", "K", "Ca",
	"Sc", "Ti", "V", "Cr", "Mn", "Fe", "Co", "Ni", "Cu", "Zn",
	"Ga", "Ge", "As", "Se", "Br", "Kr", "Rb", "Sr", "Y", "Zr",
	"Nb", "Mo", "Tc", "Ru", "Rh", "Pd", "Ag", "Cd", "In", "Sn",
	"Sb", "Te", "I", "Xe", "Cs", "Ba", "La", "Ce", "Pr", "Nd",
	"Pm", "Sm", "Eu", "Gd", "Tb", "Dy", "Ho", "Er", "Tm", "Yb",
	"Lu", "Hf", "Ta", "W", "Re", "Os", "Ir", "Pt", "Au", "Hg",
	"Tl", "Pb", "Bi", "Po", "At", "Rn", "Fr", "Ra", "Ac", "Th",
	"Pa", "U", "Np", "Pu", "Am", "Cm", "Bk", "Cf", "Es", "Fm",
	"Md", "No", "Lr", "Rf", "Db", "Sg", "Bh", "Hs", "Mt", "Ds",
	"Rg", "Cn", "Nh", "Fl", "Mc", "Lv", "Ts", "Og",
}

var znums = func() map[string]int {
	m := make(map[string]int, len(symbols))
	for z, s := range symbols {
		if s != "" {
			m[strings.ToLower(s)] = z
		}
	}
	return m
}()

// ID parses a nuclide name or numeric id into canonical ZZZAAASSSS form.
// Accepted forms: "U235", "u-235", "Am242m", "Am242M1", "922350000", "92235".
func ID(name string) (int, error) {
	s := strings.TrimSpace(name)
	if s == "" {
		return 0, fmt.Errorf("empty nuclide name")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return fromNumber(n)
	}
	i := 0
	for i < len(s) && unicode.IsLetter(rune(s[i])) {
		i++
	}
	z, ok := znums[strings.ToLower(s[:i])]
	if !ok {
		return 0, fmt.Errorf("unknown element in nuclide %q", name)
	}
	rest := strings.TrimPrefix(s[i:], "-")
	j := 0
	for j < len(rest) && unicode.IsDigit(rune(rest[j])) {
		j++
	}
	a := 0
	if j > 0 {
		a, _ = strconv.Atoi(rest[:j])
	}
	state := 0
	if suffix := strings.ToLower(rest[j:]); suffix != "" {
		if suffix[0] != 'm' {
			return 0, fmt.Errorf("bad metastable suffix in nuclide %q", name)
		}
		state = 1
		if len(suffix) > 1 {
			n, err := strconv.Atoi(suffix[1:])
			if err != nil || n < 0 || n > 9999 {
				return 0, fmt.Errorf("bad metastable suffix in nuclide %q", name)
			}
			state = n
		}
	}
	if a != 0 && a < z {
		return 0, fmt.Errorf("mass number %d below atomic number %d in %q", a, z, name)
	}
	return z*10_000_000 + a*10_000 + state, nil
}

func fromNumber(n int) (int, error) {
	switch {
	case n <= 0:
		return 0, fmt.Errorf("invalid nuclide id %d", n)
	case n >= 10_000_000:
		if Z(n) >= len(symbols) {
			return 0, fmt.Errorf("invalid nuclide id %d", n)
		}
		return n, nil
	default:
		// zzaaa form
		z, a := n/1000, n%1000
		if z == 0 || z >= len(symbols) {
			return 0, fmt.Errorf("invalid nuclide id %d", n)
		}
		return z*10_000_000 + a*10_000, nil
	}
}

// MustID is ID for constants known to be valid.
func MustID(name string) int {
	id, err := ID(name)
	if err != nil {
		panic(err)
	}
	return id
}

// Z returns the atomic number of a canonical id.
func Z(id int) int { return id / 10_000_000 }

// A returns the mass number of a canonical id.
func A(id int) int { return (id / 10_000) % 1000 }

// State returns the excitation state of a canonical id.
func State(id int) int { return id % 10_000 }

// Name renders a canonical id as "Pu239" or "Am242M".
func Name(id int) string {
	z := Z(id)
	if z <= 0 || z >= len(symbols) {
		return strconv.Itoa(id)
	}
	name := symbols[z]
	if a := A(id); a > 0 {
		name += strconv.Itoa(a)
	}
	switch st := State(id); {
	case st == 1:
		name += "M"
	case st > 1:
		name += "M" + strconv.Itoa(st)
	}
	return name
}

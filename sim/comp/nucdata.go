package comp

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cycsim/cycsim/sim/nucname"
)

// NucInfo holds the physical data the kernel needs for one nuclide.
type NucInfo struct {
	AtomicMass float64 // g/mol; 0 falls back to the mass number
	HalfLife   float64 // seconds; 0 or +Inf means stable
	Daughter   Nuc     // decay product; 0 means the decayed mass leaves the vector
}

// NuclideData maps nuclides to their data. A nil NuclideData is valid and
// approximates atomic masses by mass numbers.
type NuclideData map[Nuc]NucInfo

// AtomicMass returns the atomic mass of nuc.
func (d NuclideData) AtomicMass(nuc Nuc) (float64, error) {
	if info, ok := d[nuc]; ok && info.AtomicMass > 0 {
		return info.AtomicMass, nil
	}
	if a := nucname.A(nuc); a > 0 {
		return float64(a), nil
	}
	return 0, fmt.Errorf("no atomic mass for nuclide %d", nuc)
}

type nucDataFile struct {
	Nuclides []struct {
		Nuc        string  `yaml:"nuc"`
		AtomicMass float64 `yaml:"atomic_mass"`
		HalfLife   float64 `yaml:"half_life"`
		Daughter   string  `yaml:"daughter"`
	} `yaml:"nuclides"`
}

// LoadNuclideData reads a YAML nuclide data file:
//
//	nuclides:
//	  - {nuc: Pu241, atomic_mass: 241.0568, half_life: 4.509e8, daughter: Am241}
func LoadNuclideData(path string) (NuclideData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading nuclide data: %w", err)
	}
	var f nucDataFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing nuclide data: %w", err)
	}
	data := make(NuclideData, len(f.Nuclides))
	for _, n := range f.Nuclides {
		id, err := nucname.ID(n.Nuc)
		if err != nil {
			return nil, fmt.Errorf("nuclide data: %w", err)
		}
		if n.HalfLife < 0 || n.AtomicMass < 0 {
			return nil, fmt.Errorf("nuclide data: %s has negative half_life or atomic_mass", n.Nuc)
		}
		info := NucInfo{AtomicMass: n.AtomicMass, HalfLife: n.HalfLife}
		if n.Daughter != "" {
			if info.Daughter, err = nucname.ID(n.Daughter); err != nil {
				return nil, fmt.Errorf("nuclide data: daughter of %s: %w", n.Nuc, err)
			}
		}
		data[id] = info
	}
	return data, nil
}

// ExpDecayer applies first-order exponential decay per nuclide, moving the
// decayed mass to the listed daughter. Daughters do not decay further within
// the same call.
type ExpDecayer struct {
	data NuclideData
}

// NewExpDecayer creates a decayer over the given data.
func NewExpDecayer(data NuclideData) *ExpDecayer {
	return &ExpDecayer{data: data}
}

// Decay implements Decayer.
func (e *ExpDecayer) Decay(mass map[Nuc]float64, seconds float64) map[Nuc]float64 {
	out := make(map[Nuc]float64, len(mass))
	for nuc, m := range mass {
		out[nuc] += m
	}
	for nuc, m := range mass {
		info, ok := e.data[nuc]
		if !ok || info.HalfLife <= 0 || math.IsInf(info.HalfLife, 1) {
			continue
		}
		remaining := m * math.Exp(-math.Ln2*seconds/info.HalfLife)
		decayed := m - remaining
		out[nuc] -= decayed
		if info.Daughter != 0 {
			out[info.Daughter] += decayed
		}
	}
	return out
}

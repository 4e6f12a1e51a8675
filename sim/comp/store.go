// Package comp is the content-addressed composition store. Compositions are
// immutable, normalized nuclide → mass-fraction maps handed out as opaque
// integer handles; structurally equal inputs share a handle.
package comp

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Nuc is a canonical ZZZAAASSSS nuclide id (see package nucname).
type Nuc = int

// Handle identifies an interned composition. The zero Handle is never issued.
type Handle int

// DecayMode selects how Decay treats compositions.
type DecayMode string

const (
	DecayNever  DecayMode = "never"
	DecayManual DecayMode = "manual"
	DecayLazy   DecayMode = "lazy"
)

// ValidDecayModes is the set of recognized decay modes.
var ValidDecayModes = map[DecayMode]bool{DecayNever: true, DecayManual: true, DecayLazy: true}

// DefaultTimeStep is the length of one tick in seconds (1/12 of a Julian year).
const DefaultTimeStep = 2629846

// ErrInvalidComposition is returned when an input cannot be normalized.
var ErrInvalidComposition = errors.New("invalid composition")

// sigDigits is the number of significant digits fractions are rounded to.
const sigDigits = 15

// Decayer is the external decay library contract.
type Decayer interface {
	// Decay returns the mass vector after seconds of decay.
	Decay(mass map[Nuc]float64, seconds float64) map[Nuc]float64
}

type entry struct {
	mass map[Nuc]float64
	atom map[Nuc]float64
}

type decayKey struct {
	h     Handle
	ticks int
}

// Store interns compositions. It is owned by one simulation context.
type Store struct {
	mode     DecayMode
	timeStep float64
	decayer  Decayer
	data     NuclideData
	byKey    map[string]Handle
	entries  []*entry
	memo     map[decayKey]Handle
}

// Option configures a Store.
type Option func(*Store)

// WithDecayer sets the decay library used in lazy mode.
func WithDecayer(d Decayer) Option { return func(s *Store) { s.decayer = d } }

// WithNuclideData sets atomic masses used for mass/atom basis conversion.
func WithNuclideData(d NuclideData) Option { return func(s *Store) { s.data = d } }

// WithTimeStep sets the tick length in seconds.
func WithTimeStep(seconds float64) Option { return func(s *Store) { s.timeStep = seconds } }

// NewStore creates an empty store. Without a decayer, lazy mode decays using
// an ExpDecayer built from the nuclide data.
func NewStore(mode DecayMode, opts ...Option) *Store {
	s := &Store{
		mode:     mode,
		timeStep: DefaultTimeStep,
		byKey:    make(map[string]Handle),
		memo:     make(map[decayKey]Handle),
	}
	for _, o := range opts {
		o(s)
	}
	if s.decayer == nil {
		s.decayer = NewExpDecayer(s.data)
	}
	return s
}

// Mode returns the decay mode.
func (s *Store) Mode() DecayMode { return s.mode }

// TimeStep returns the tick length in seconds.
func (s *Store) TimeStep() float64 { return s.timeStep }

// Len returns the number of distinct compositions interned.
func (s *Store) Len() int { return len(s.entries) }

// Intern normalizes a mass map to unit sum and returns its handle.
func (s *Store) Intern(mass map[Nuc]float64) (Handle, error) {
	norm, err := normalize(mass)
	if err != nil {
		return 0, err
	}
	key := canonicalKey(norm)
	if h, ok := s.byKey[key]; ok {
		return h, nil
	}
	s.entries = append(s.entries, &entry{mass: norm})
	h := Handle(len(s.entries))
	s.byKey[key] = h
	logrus.Tracef("comp: interned handle %d (%d nuclides)", h, len(norm))
	return h, nil
}

// MustIntern is Intern for literal compositions known to be valid.
func (s *Store) MustIntern(mass map[Nuc]float64) Handle {
	h, err := s.Intern(mass)
	if err != nil {
		panic(err)
	}
	return h
}

// InternAtom interns a composition given as atom (mole) fractions.
func (s *Store) InternAtom(atom map[Nuc]float64) (Handle, error) {
	mass := make(map[Nuc]float64, len(atom))
	for nuc, a := range atom {
		m, err := s.data.AtomicMass(nuc)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidComposition, err)
		}
		mass[nuc] = a * m
	}
	return s.Intern(mass)
}

func (s *Store) get(h Handle) (*entry, error) {
	if h <= 0 || int(h) > len(s.entries) {
		return nil, fmt.Errorf("unknown composition handle %d", h)
	}
	return s.entries[h-1], nil
}

// MassOf returns a copy of the normalized mass fractions of h.
func (s *Store) MassOf(h Handle) (map[Nuc]float64, error) {
	e, err := s.get(h)
	if err != nil {
		return nil, err
	}
	return copyMap(e.mass), nil
}

// AtomOf returns a copy of the normalized atom fractions of h.
func (s *Store) AtomOf(h Handle) (map[Nuc]float64, error) {
	e, err := s.get(h)
	if err != nil {
		return nil, err
	}
	if e.atom == nil {
		atom := make(map[Nuc]float64, len(e.mass))
		total := 0.0
		for nuc, m := range e.mass {
			am, err := s.data.AtomicMass(nuc)
			if err != nil {
				return nil, err
			}
			atom[nuc] = m / am
			total += atom[nuc]
		}
		for nuc := range atom {
			atom[nuc] /= total
		}
		e.atom = atom
	}
	return copyMap(e.atom), nil
}

// Decay returns the handle of h after ticks time steps. In never and manual
// modes the input handle is returned unchanged. In lazy mode results are
// memoized per (handle, ticks).
func (s *Store) Decay(h Handle, ticks int) (Handle, error) {
	if _, err := s.get(h); err != nil {
		return 0, err
	}
	if s.mode != DecayLazy || ticks <= 0 {
		return h, nil
	}
	key := decayKey{h, ticks}
	if child, ok := s.memo[key]; ok {
		return child, nil
	}
	mass, _ := s.MassOf(h)
	child, err := s.Intern(s.decayer.Decay(mass, float64(ticks)*s.timeStep))
	if err != nil {
		return 0, fmt.Errorf("decay of handle %d: %w", h, err)
	}
	s.memo[key] = child
	return child, nil
}

// normalize validates and scales a mass map to unit sum, rounding each
// fraction to sigDigits significant digits. Inputs already summing to one
// within 1e-12 are not rescaled, which keeps Intern(MassOf(h)) == h.
func normalize(mass map[Nuc]float64) (map[Nuc]float64, error) {
	total := 0.0
	for _, nuc := range slices.Sorted(maps.Keys(mass)) {
		m := mass[nuc]
		if math.IsNaN(m) || math.IsInf(m, 0) || m < 0 {
			return nil, fmt.Errorf("%w: nuclide %d has fraction %v", ErrInvalidComposition, nuc, m)
		}
		total += m
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: total %v is not positive", ErrInvalidComposition, total)
	}
	scale := 1 / total
	if math.Abs(total-1) < 1e-12 {
		scale = 1
	}
	out := make(map[Nuc]float64, len(mass))
	for nuc, m := range mass {
		if m == 0 {
			continue
		}
		out[nuc] = round(m * scale)
	}
	return out, nil
}

func round(f float64) float64 {
	r, _ := strconv.ParseFloat(strconv.FormatFloat(f, 'e', sigDigits-1, 64), 64)
	return r
}

func canonicalKey(norm map[Nuc]float64) string {
	nucs := make([]Nuc, 0, len(norm))
	for nuc := range norm {
		nucs = append(nucs, nuc)
	}
	slices.Sort(nucs)
	var b strings.Builder
	for _, nuc := range nucs {
		b.WriteString(strconv.Itoa(nuc))
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(norm[nuc], 'e', sigDigits-1, 64))
		b.WriteByte(';')
	}
	return b.String()
}

func copyMap(m map[Nuc]float64) map[Nuc]float64 {
	out := make(map[Nuc]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

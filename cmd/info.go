package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	sim "github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/agents"
	"github.com/cycsim/cycsim/sim/input"
)

// PathEnv lists extra archetype search directories, separated like PATH.
const PathEnv = "CYCLUS_PATH"

// annotations is the full description of one archetype.
type annotations struct {
	Spec string         `yaml:"spec"`
	Kind string         `yaml:"kind"`
	Doc  string         `yaml:"doc,omitempty"`
	Vars []sim.StateVar `yaml:"vars"`
}

// rngStream documents how one family of random streams is seeded.
type rngStream struct {
	Subsystem string `yaml:"subsystem"`
	Seed      string `yaml:"seed"`
	Users     string `yaml:"users"`
}

// printInfo handles the informational flags. It reports whether one was set,
// in which case nothing should be simulated.
func printInfo(w io.Writer, reg *sim.Registry) (bool, error) {
	switch {
	case printFlatSchema:
		_, err := io.WriteString(w, input.FlatSchema(reg))
		return true, err
	case printSchema:
		raw, err := input.Schema(reg)
		if err != nil {
			return true, err
		}
		_, err = w.Write(raw)
		return true, err
	case agentSchema != "":
		a, err := reg.Lookup(agentSchema)
		if err != nil {
			return true, err
		}
		return true, writeYAML(w, sim.Schema(a.Vars))
	case agentAnnotations != "":
		a, err := reg.Lookup(agentAnnotations)
		if err != nil {
			return true, err
		}
		return true, writeYAML(w, annotate(a))
	case agentListing != "":
		specs := reg.Listing(agentListing)
		if len(specs) == 0 {
			return true, fmt.Errorf("%w: no archetypes under %q", sim.ErrValidation, agentListing)
		}
		return true, writeLines(w, specs)
	case listArchetypes:
		return true, writeLines(w, reg.Specs())
	case printMetadata:
		all := make([]annotations, 0, len(reg.Specs()))
		for _, spec := range reg.Specs() {
			a, err := reg.Lookup(spec)
			if err != nil {
				return true, err
			}
			all = append(all, annotate(a))
		}
		return true, writeYAML(w, all)
	case printPath:
		return true, writeLines(w, searchPath())
	case printRNGSchema:
		return true, writeYAML(w, []rngStream{
			{Subsystem: sim.SubsystemKernel, Seed: "seed", Users: "kernel"},
			{Subsystem: "agent_<id>", Seed: "seed XOR fnv1a64(subsystem)", Users: "agent with that id"},
		})
	}
	return false, nil
}

func annotate(a *sim.Archetype) annotations {
	return annotations{Spec: a.Spec, Kind: string(a.Kind), Doc: a.Doc, Vars: a.Vars}
}

// searchPath lists the archetype search path: $CYCLUS_PATH entries, then the
// built-in library.
func searchPath() []string {
	var dirs []string
	for _, d := range filepath.SplitList(os.Getenv(PathEnv)) {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return append(dirs, agents.Library)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeLines(w io.Writer, lines []string) error {
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// verbosityNames are the named steps of the 0-11 verbosity scale.
var verbosityNames = map[string]int{
	"err": 0, "warn": 1,
	"inf1": 2, "inf2": 3, "inf3": 4, "inf4": 5, "inf5": 6,
	"dbg1": 7, "dbg2": 8, "dbg3": 9, "dbg4": 10, "dbg5": 11,
}

// parseVerbosity maps a numeric verbosity (0-11), one of its named steps, or
// a logrus level name to a level. 0 is errors only; 1 warnings; 2-6 info;
// 7-8 debug; 9-11 trace.
func parseVerbosity(v string) (logrus.Level, error) {
	n, err := strconv.Atoi(v)
	if named, ok := verbosityNames[strings.ToLower(v)]; ok {
		n, err = named, nil
	}
	if err != nil {
		level, perr := logrus.ParseLevel(v)
		if perr != nil {
			return 0, fmt.Errorf("%w: invalid verbosity %q", sim.ErrValidation, v)
		}
		return level, nil
	}
	switch {
	case n < 0 || n > 11:
		return 0, fmt.Errorf("%w: verbosity %d out of range 0-11", sim.ErrValidation, n)
	case n == 0:
		return logrus.ErrorLevel, nil
	case n == 1:
		return logrus.WarnLevel, nil
	case n <= 6:
		return logrus.InfoLevel, nil
	case n <= 8:
		return logrus.DebugLevel, nil
	default:
		return logrus.TraceLevel, nil
	}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/cycsim/cycsim/sim"
	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/input"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/recorder/sqlbackend"
)

// NucDataEnv names the environment variable read when --nuc-data is unset.
const NucDataEnv = "CYCLUS_NUC_DATA"

var (
	// Simulation run flags
	inputFile   string        // Scenario file (alternative to the positional argument)
	outputPath  string        // SQLite file or postgres URL; "none" disables output
	verbosity   string        // Verbosity, numeric 0-11 or a logrus level name
	warnLimit   int           // Warnings printed per kind (-1 keeps the input value)
	warnAsError bool          // Escalate warnings past the limit to errors
	dumpCount   int           // Recorder rows buffered before flushing (0 keeps the input value)
	allowMILP   bool          // Force the MILP solver on
	milpTimeout time.Duration // Per-solve MILP limit (0 keeps the input value)
	seed        int64         // Master seed override (0 keeps the input value)
	nucDataPath string        // Nuclide data file for decay and atom-basis recipes
	metricsFile string        // Prometheus textfile written after the run

	// Informational flags; each prints and exits without simulating
	printFlatSchema  bool
	printSchema      bool
	agentSchema      string
	agentAnnotations string
	agentListing     string
	listArchetypes   bool
	printMetadata    bool
	printPath        bool
	printRNGSchema   bool
)

var rootCmd = &cobra.Command{
	Use:   "cycsim [input-file]",
	Short: "Agent-based nuclear fuel cycle simulator",
	Long: "cycsim runs a discrete-time, agent-based fuel cycle simulation described by a YAML " +
		"scenario and records every transaction, resource and agent event to SQLite or Postgres.",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := parseVerbosity(verbosity)
		if err != nil {
			return err
		}
		logrus.SetLevel(level)

		out := cmd.OutOrStdout()
		if handled, err := printInfo(out, sim.DefaultRegistry); handled || err != nil {
			return err
		}

		path := inputFile
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("no input file given")
		}
		return runSimulation(cmd.Context(), out, path)
	},
}

// runSimulation loads the scenario at path, applies flag overrides and runs
// it to completion.
func runSimulation(ctx context.Context, out io.Writer, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	scenario, err := input.Load(path)
	if err != nil {
		return err
	}
	info := applyOverrides(scenario.Info())

	var opts []sim.Option
	backend, err := openOutput(outputPath)
	if err != nil {
		return err
	}
	if backend != nil {
		opts = append(opts, sim.WithBackends(backend))
	}
	data, err := loadNucData()
	if err != nil {
		return err
	}
	if data != nil {
		opts = append(opts, sim.WithNuclideData(data), sim.WithDecayer(comp.NewExpDecayer(data)))
	}

	simulator, err := scenario.BuildWith(info, opts...)
	if err != nil {
		if backend != nil {
			backend.Close()
		}
		return err
	}
	logrus.Infof("Running %s (%d ticks) into %s", path, info.Duration, outputPath)
	runErr := simulator.Run(ctx)

	metrics := simulator.Metrics()
	metrics.Print(out)
	if metricsFile != "" {
		if err := metrics.WriteToTextfile(metricsFile); err != nil {
			logrus.Warnf("Writing metrics to %s: %v", metricsFile, err)
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(out, "Simulation %s complete\n", simulator.Context().SimID())
	return nil
}

func applyOverrides(info sim.SimInfo) sim.SimInfo {
	if warnLimit >= 0 {
		info.Warn.Limit = warnLimit
	}
	if warnAsError {
		info.Warn.AsError = true
	}
	if dumpCount > 0 {
		info.DumpCount = dumpCount
	}
	if allowMILP {
		info.Exchange.AllowMILP = true
	}
	if milpTimeout > 0 {
		info.Exchange.MILPTimeout = milpTimeout
	}
	if seed != 0 {
		info.Seed = seed
	}
	return info
}

// openOutput returns the recorder backend for path, or nil when output is
// disabled.
func openOutput(path string) (recorder.Backend, error) {
	if path == "" || path == "none" {
		return nil, nil
	}
	if !sqlbackend.IsSQLOutput(path) {
		return nil, fmt.Errorf("%w: unsupported output %q (want .sqlite, .db or a postgres:// URL)", sim.ErrValidation, path)
	}
	b, err := sqlbackend.Open(path)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func loadNucData() (comp.NuclideData, error) {
	path := nucDataPath
	if path == "" {
		path = os.Getenv(NucDataEnv)
	}
	if path == "" {
		return nil, nil
	}
	return comp.LoadNuclideData(path)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

// init sets up CLI flags
func init() {
	flags := rootCmd.Flags()

	flags.StringVar(&inputFile, "input-file", "", "Scenario file (YAML or JSON)")
	flags.StringVarP(&outputPath, "output-path", "o", "cyclus.sqlite", "Output database: a .sqlite/.db path, a postgres:// URL, or none")
	flags.StringVarP(&verbosity, "verb", "v", "1", "Verbosity: 0-11 or a level name (error, warn, info, debug, trace)")
	flags.IntVar(&warnLimit, "warn-limit", -1, "Warnings printed per kind (default: input value, else 42)")
	flags.BoolVar(&warnAsError, "warn-as-error", false, "Treat warnings past the limit as fatal errors")
	flags.IntVar(&dumpCount, "dump-count", 0, "Recorder rows buffered before flushing to the output")
	flags.BoolVar(&allowMILP, "milp", false, "Solve exchanges with the MILP solver")
	flags.DurationVar(&milpTimeout, "milp-timeout", 0, "Wall-clock limit per MILP solve")
	flags.Int64Var(&seed, "seed", 0, "Master RNG seed (default: input value)")
	flags.StringVar(&nucDataPath, "nuc-data", "", "Nuclide data file (default: $"+NucDataEnv+")")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write run metrics in the prometheus text format to this file")

	flags.BoolVar(&printFlatSchema, "flat-schema", false, "Print the flat input schema and exit")
	flags.BoolVar(&printSchema, "schema", false, "Print the structured input schema and exit")
	flags.StringVar(&agentSchema, "agent-schema", "", "Print the config schema of an archetype spec and exit")
	flags.StringVar(&agentAnnotations, "agent-annotations", "", "Print the annotations of an archetype spec and exit")
	flags.StringVar(&agentListing, "agent-listing", "", "Print the archetypes of a path:lib namespace and exit")
	flags.BoolVarP(&listArchetypes, "archetypes", "a", false, "List every registered archetype and exit")
	flags.BoolVarP(&printMetadata, "metadata", "m", false, "Print metadata for every archetype and exit")
	flags.BoolVarP(&printPath, "path", "p", false, "Print the archetype search path and exit")
	flags.BoolVar(&printRNGSchema, "rng-schema", false, "Print how random streams are seeded and exit")
}

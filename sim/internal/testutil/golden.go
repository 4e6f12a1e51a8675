// Package testutil provides shared test infrastructure for the simulation
// kernel: golden scenario expectations, an in-memory simulation harness and
// assertion helpers used across the sim/ test packages.
package testutil

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// GoldenDataset represents the structure of testdata/goldendataset.json.
type GoldenDataset struct {
	Tests []GoldenTestCase `json:"tests"`
}

// GoldenTestCase is one scenario input file and what running it must produce.
type GoldenTestCase struct {
	Name    string        `json:"name"`
	Input   string        `json:"input"` // relative to testdata/
	Metrics GoldenMetrics `json:"metrics"`
}

// GoldenMetrics are the expected output tables of a golden scenario.
type GoldenMetrics struct {
	// Exact match metrics
	Transactions  int   `json:"transactions"`
	AgentsEntered int   `json:"agents_entered"`
	TradeTimes    []int `json:"trade_times"`

	// Tolerance-compared metrics
	Quantities    []float64 `json:"quantities"`
	TotalQuantity float64   `json:"total_quantity"`
}

// TestdataDir returns the repository testdata directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func TestdataDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata")
}

// LoadGoldenDataset loads the golden dataset from the testdata directory.
func LoadGoldenDataset(t *testing.T) *GoldenDataset {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(TestdataDir(t), "goldendataset.json"))
	if err != nil {
		t.Fatalf("Failed to read golden dataset: %v", err)
	}

	var dataset GoldenDataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		t.Fatalf("Failed to parse golden dataset: %v", err)
	}
	return &dataset
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}

package sim

import (
	"math"
	"math/rand"
	"testing"
)

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// BDD: Same key+name produces same sequence
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(SubsystemAgent(7)).Float64()
		b := rng2.ForSubsystem(SubsystemAgent(7)).Float64()
		if a != b {
			t.Errorf("Value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_AgentStreamsIsolated(t *testing.T) {
	// BDD: Drawing from one agent's stream doesn't shift another's
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	for i := 0; i < 10; i++ {
		rngA.ForSubsystem(SubsystemAgent(1)).Float64()
	}
	got := rngA.ForSubsystem(SubsystemAgent(2)).Float64()

	fresh := NewPartitionedRNG(NewSimulationKey(42))
	want := fresh.ForSubsystem(SubsystemAgent(2)).Float64()

	if got != want {
		t.Errorf("agent 2 first value = %v, want %v (isolation broken)", got, want)
	}
}

func TestPartitionedRNG_KernelUsesMasterSeed(t *testing.T) {
	seed := int64(42)
	rng := NewPartitionedRNG(NewSimulationKey(seed))
	direct := rand.New(rand.NewSource(seed))

	for i := 0; i < 10; i++ {
		got := rng.ForSubsystem(SubsystemKernel).Float64()
		want := direct.Float64()
		if got != want {
			t.Errorf("Value %d: kernel RNG = %v, direct RNG = %v", i, got, want)
		}
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	if rng.ForSubsystem(SubsystemAgent(3)) != rng.ForSubsystem(SubsystemAgent(3)) {
		t.Error("ForSubsystem returned different instances for same name")
	}
	if len(rng.subsystems) != 1 {
		t.Errorf("have %d subsystems, want 1", len(rng.subsystems))
	}
}

func TestPartitionedRNG_Key(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(12345))
	if rng.Key() != SimulationKey(12345) {
		t.Errorf("Key() = %v, want 12345", rng.Key())
	}
}

func TestFnv1a64_NoCollisionOnAgentNames(t *testing.T) {
	hashes := make(map[int64]string)
	for _, name := range []string{SubsystemKernel, SubsystemAgent(0), SubsystemAgent(1), SubsystemAgent(10), SubsystemAgent(100), ""} {
		h := fnv1a64(name)
		if existing, ok := hashes[h]; ok {
			t.Errorf("Hash collision: %q and %q both hash to %d", name, existing, h)
		}
		hashes[h] = name
	}
}

func TestSubsystemAgent(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{0, "agent_0"},
		{1, "agent_1"},
		{100, "agent_100"},
	}
	for _, tt := range tests {
		if got := SubsystemAgent(tt.id); got != tt.want {
			t.Errorf("SubsystemAgent(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	rng.ForSubsystem(SubsystemAgent(1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.ForSubsystem(SubsystemAgent(1))
	}
}

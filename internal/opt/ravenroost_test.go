package opt

import (
	"context"
	"testing"

	"github.com/cwbudde/ravenroost/internal/config"
	"github.com/google/go-cmp/cmp"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Population = 24
	cfg.Iterations = 15
	cfg.FlightSteps = 5
	cfg.LookoutSteps = 5
	cfg.Radius = 4
	cfg.Seed = 7
	return cfg
}

func TestRavenRoostOnSphere(t *testing.T) {
	p := sphereProblem(3, -10, 10)
	optimizer := NewRavenRoost(testConfig(), 3)

	out, err := optimizer.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.Position) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(out.Position))
	}
	if got := p.Objective.Evaluate(out.Position); got != out.Fitness {
		t.Errorf("reported fitness %v, position evaluates to %v", out.Fitness, got)
	}
	for i, v := range out.Position {
		if v < p.Lower || v > p.Upper {
			t.Errorf("parameter %d = %v outside bounds", i, v)
		}
	}
	if out.Evaluations < int64(testConfig().Population) {
		t.Errorf("only %d evaluations counted", out.Evaluations)
	}
}

func TestRavenRoostDeterministic(t *testing.T) {
	p := sphereProblem(2, -5, 5)

	out1, err := NewRavenRoost(testConfig(), 2).Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	out2, err := NewRavenRoost(testConfig(), 2).Run(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(out1, out2); diff != "" {
		t.Errorf("runs differ (-first +second):\n%s", diff)
	}
}

func TestRavenRoostTooManyWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Population = 2
	if _, err := NewRavenRoost(cfg, 4).Run(context.Background(), sphereProblem(2, -1, 1)); err == nil {
		t.Fatal("expected error when workers exceed population")
	}
}

func TestByName(t *testing.T) {
	cfg := testConfig()
	cfg.Population = 8
	for _, name := range Names() {
		o, err := ByName(name, cfg, 2)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if o.Name() != name {
			t.Errorf("ByName(%q).Name() = %q", name, o.Name())
		}
	}
	if m, _ := ByName("mayfly", cfg, 2); m.(*MayflyAdapter).popSize != MinMayflyPopulation {
		t.Errorf("mayfly population not raised to %d", MinMayflyPopulation)
	}
	if _, err := ByName("anneal", cfg, 2); err == nil {
		t.Error("expected error for unknown optimizer")
	}
}

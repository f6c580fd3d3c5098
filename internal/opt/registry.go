package opt

import (
	"fmt"

	"github.com/cwbudde/ravenroost/internal/config"
)

// Names lists the optimizers ByName knows.
func Names() []string {
	return []string{"ravenroost", "mayfly"}
}

// ByName builds an optimizer from a run configuration. Mayfly gets the same
// population, iteration budget and seed as the raven search.
func ByName(name string, cfg config.Config, workers int) (Optimizer, error) {
	switch name {
	case "ravenroost":
		return NewRavenRoost(cfg, workers), nil
	case "mayfly":
		pop := max(cfg.Population, MinMayflyPopulation)
		return NewMayfly(cfg.Iterations, pop, int64(cfg.Seed)), nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q (known: %v)", name, Names())
	}
}

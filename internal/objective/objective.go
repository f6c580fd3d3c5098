// Package objective defines the scalar functions minimised by the search.
package objective

import (
	"fmt"
	"sort"
	"strings"
)

// Objective scores a position. Implementations must be deterministic and
// safe for concurrent use on read-only input.
type Objective interface {
	Evaluate(x []float64) float64
}

// Func adapts a plain function to Objective.
type Func func(x []float64) float64

// Evaluate calls f(x).
func (f Func) Evaluate(x []float64) float64 {
	return f(x)
}

// DefaultName is the objective used when none is configured.
const DefaultName = "griewank"

var registry = map[string]func(threads int) Objective{
	"griewank":  func(threads int) Objective { return Griewank{Threads: threads} },
	"sphere":    func(int) Objective { return Func(Sphere) },
	"rastrigin": func(int) Objective { return Func(Rastrigin) },
	"ackley":    func(int) Objective { return Func(Ackley) },
}

// ByName returns the named objective. threads bounds the dimension-level
// parallelism of objectives that support it.
func ByName(name string, threads int) (Objective, error) {
	if name == "" {
		name = DefaultName
	}
	mk, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return mk(threads), nil
}

// Names lists the registered objectives.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

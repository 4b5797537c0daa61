package engine

import (
	"fmt"
	"strings"
)

// StepGraph is the dependency graph of the install steps of one run.
// Edges point from a step to the steps that depend on it.
type StepGraph struct {
	// index maps step names to their declaration position
	index map[string]int

	// names lists step names in declaration order
	names []string

	// dependents maps a step to the steps that wait for it
	dependents map[string][]string

	// dependencies maps a step to the steps it waits for
	dependencies map[string][]string

	order  []string
	levels [][]string
}

// NewStepGraph validates the DependsOn edges of steps and computes an
// execution order. Ties are broken by declaration order, so a graph whose
// edges agree with the declaration runs exactly as declared.
func NewStepGraph(steps []*InstallStep) (*StepGraph, error) {
	g := &StepGraph{
		index:        make(map[string]int, len(steps)),
		dependents:   make(map[string][]string, len(steps)),
		dependencies: make(map[string][]string, len(steps)),
	}

	for i, s := range steps {
		if s.Name == "" {
			return nil, NewAutomationFault("install step has empty name", nil)
		}
		if _, exists := g.index[s.Name]; exists {
			return nil, NewAutomationFault(fmt.Sprintf("duplicate install step: %s", s.Name), nil)
		}
		g.index[s.Name] = i
		g.names = append(g.names, s.Name)
	}

	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, exists := g.index[dep]; !exists {
				return nil, NewAutomationFault(
					fmt.Sprintf("step %s depends on unknown step %s", s.Name, dep), nil,
				).WithStep(s.Name)
			}
			g.dependents[dep] = append(g.dependents[dep], s.Name)
			g.dependencies[s.Name] = append(g.dependencies[s.Name], dep)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, NewAutomationFault("circular step dependency: "+strings.Join(cycle, " -> "), nil)
	}
	g.sort()
	return g, nil
}

// findCycle returns one dependency cycle, or nil.
func (g *StepGraph) findCycle() []string {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		visited[name] = true
		onPath[name] = true
		path = append(path, name)

		for _, next := range g.dependents[name] {
			if !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
				continue
			}
			if onPath[next] {
				for i, n := range path {
					if n == next {
						return append(append([]string{}, path[i:]...), next)
					}
				}
			}
		}

		onPath[name] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, name := range g.names {
		if !visited[name] {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// sort runs Kahn's algorithm level by level. Within a level, steps keep
// their declaration order; the flat order always takes the earliest
// declared ready step.
func (g *StepGraph) sort() {
	inDegree := make(map[string]int, len(g.names))
	for _, name := range g.names {
		inDegree[name] = len(g.dependencies[name])
	}

	level := make(map[string]int, len(g.names))
	ready := make([]string, 0, len(g.names))
	for _, name := range g.names {
		if inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	for len(ready) > 0 {
		next := 0
		for i := range ready {
			if g.index[ready[i]] < g.index[ready[next]] {
				next = i
			}
		}
		name := ready[next]
		ready = append(ready[:next], ready[next+1:]...)
		g.order = append(g.order, name)

		for len(g.levels) <= level[name] {
			g.levels = append(g.levels, nil)
		}
		g.levels[level[name]] = append(g.levels[level[name]], name)

		for _, dep := range g.dependents[name] {
			if level[name]+1 > level[dep] {
				level[dep] = level[name] + 1
			}
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
}

// Order returns the step names in execution order.
func (g *StepGraph) Order() []string {
	return append([]string(nil), g.order...)
}

// Levels groups step names by dependency depth. Steps on one level do not
// depend on each other.
func (g *StepGraph) Levels() [][]string {
	out := make([][]string, len(g.levels))
	for i, l := range g.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Dependencies returns the direct prerequisites of name.
func (g *StepGraph) Dependencies(name string) []string {
	return append([]string(nil), g.dependencies[name]...)
}

// Downstream returns every step that transitively depends on name, in
// execution order.
func (g *StepGraph) Downstream(name string) []string {
	blocked := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, d := range g.dependents[n] {
			if !blocked[d] {
				blocked[d] = true
				walk(d)
			}
		}
	}
	walk(name)

	var out []string
	for _, n := range g.order {
		if blocked[n] {
			out = append(out, n)
		}
	}
	return out
}

package overdrive

import (
	"fmt"
	"slices"
	"strings"
)

// sortByDependencies orders systems so that every system comes after its
// dependencies. Ties keep registration order.
func sortByDependencies(systems []System) ([]System, error) {
	index := make(map[string]int, len(systems))
	for i, s := range systems {
		index[s.Name()] = i
	}

	indegree := make([]int, len(systems))
	dependents := make([][]int, len(systems))
	for i, s := range systems {
		for _, dep := range s.Dependencies() {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %q requires %q", ErrUnknownDependency, s.Name(), dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i, d := range indegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]System, 0, len(systems))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, systems[i])

		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				pos, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, pos, j)
			}
		}
	}

	if len(ordered) != len(systems) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, systems[i].Name())
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(stuck, ", "))
	}
	return ordered, nil
}

package export

import (
	"cmp"

	cycle "github.com/joeycumines/go-detect-cycle/floyds"
)

// compareTables orders by schema, then name.
func compareTables(a, b Table) int {
	if c := cmp.Compare(a.Schema, b.Schema); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// findCycle walks deps (each key depends on its values) depth first, returning the path that revealed a cycle,
// or nil if there are none.
func findCycle[E comparable](deps map[E][]E) []E {
	var (
		path []E
		walk func(k E, d cycle.BranchingDetector) bool
	)
	walk = func(k E, d cycle.BranchingDetector) bool {
		path = append(path, k)
		for _, v := range deps[k] {
			next := d.Hare(v)
			found := !d.Ok() || walk(v, next)
			next.Clear()
			if found {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	for k := range deps {
		if walk(k, cycle.NewBranchingDetector(k, nil)) {
			return path
		}
	}
	return nil
}

// sortDependencies returns tables such that each table follows the tables it depends on, otherwise preserving
// the input order. Dependencies not present in tables are ignored. The graph must be acyclic.
func sortDependencies(tables []Table, deps map[Table][]Table) []Table {
	var (
		included = make(map[Table]bool, len(tables))
		visited  = make(map[Table]bool, len(tables))
		sorted   = make([]Table, 0, len(tables))
		visit    func(table Table)
	)
	for _, table := range tables {
		included[table] = true
	}
	visit = func(table Table) {
		if visited[table] || !included[table] {
			return
		}
		visited[table] = true
		for _, dep := range deps[table] {
			visit(dep)
		}
		sorted = append(sorted, table)
	}
	for _, table := range tables {
		visit(table)
	}
	return sorted
}

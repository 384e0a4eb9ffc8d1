package export

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/go-test/deep"
)

func Test_compareTables(t *testing.T) {
	tables := []Table{
		{`wp`, `wp_users`},
		{`shop`, `wp_options`},
		{`wp`, `wp_posts`},
		{``, `z`},
		{`shop`, `wp_posts`},
		{`wp`, `wp_options`},
	}
	slices.SortFunc(tables, compareTables)
	if diff := deep.Equal(tables, []Table{
		{``, `z`},
		{`shop`, `wp_options`},
		{`shop`, `wp_posts`},
		{`wp`, `wp_options`},
		{`wp`, `wp_posts`},
		{`wp`, `wp_users`},
	}); diff != nil {
		t.Error(diff)
	}
	if v := compareTables(Table{Name: `a`}, Table{Name: `a`}); v != 0 {
		t.Error(v)
	}
}

func Test_findCycle(t *testing.T) {
	for _, tc := range [...]struct {
		Name  string
		Deps  map[int][]int
		Cycle bool
	}{
		{
			Name: `empty`,
		},
		{
			Name: `diamond`,
			Deps: map[int][]int{
				1: {2, 3},
				2: {4},
				3: {4},
			},
		},
		{
			Name: `no cycle`,
			Deps: map[int][]int{
				1: {2},
				2: {3, 4, 5, 6},
				3: {7},
				8: {3, 4, 6},
				6: {9},
			},
		},
		{
			Name: `has cycle`,
			Deps: map[int][]int{
				1: {2},
				2: {3, 4, 5, 6},
				3: {7},
				8: {3, 4, 6},
				6: {8},
			},
			Cycle: true,
		},
		{
			Name:  `self reference`,
			Deps:  map[int][]int{1: {1}},
			Cycle: true,
		},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			path := findCycle(tc.Deps)
			if (path != nil) != tc.Cycle {
				t.Fatal(path)
			}
			// each step of the path must be an edge
			for i := 1; i < len(path); i++ {
				if !slices.Contains(tc.Deps[path[i-1]], path[i]) {
					t.Errorf("no edge %d -> %d in %v", path[i-1], path[i], path)
				}
			}
		})
	}
}

func Test_sortDependencies(t *testing.T) {
	deps := map[Table][]Table{
		{Name: `wp_commentmeta`}: {{Name: `wp_comments`}},
		{Name: `wp_comments`}:    {{Name: `wp_posts`}, {Name: `wp_users`}},
		{Name: `wp_postmeta`}:    {{Name: `wp_posts`}},
		{Name: `wp_posts`}:       {{Name: `wp_users`}},
		{Name: `wp_usermeta`}:    {{Name: `wp_users`}, {Name: `wp_missing`}},
	}
	tables := []Table{
		{Name: `wp_commentmeta`},
		{Name: `wp_comments`},
		{Name: `wp_options`},
		{Name: `wp_postmeta`},
		{Name: `wp_posts`},
		{Name: `wp_usermeta`},
		{Name: `wp_users`},
	}
	rnd := rand.New(rand.NewSource(7723))
	for i := 0; i < 100; i++ {
		if i != 0 {
			rnd.Shuffle(len(tables), func(i, j int) { tables[i], tables[j] = tables[j], tables[i] })
		}
		sorted := sortDependencies(tables, deps)
		if len(sorted) != len(tables) {
			t.Fatalf("unexpected tables: %v", sorted)
		}
		for a, bs := range deps {
			for _, b := range bs {
				if i, j := slices.Index(sorted, b), slices.Index(sorted, a); i > j {
					t.Fatalf("%s must be before %s: %v", b, a, sorted)
				}
			}
		}
	}

	// stable, for tables without dependencies
	if diff := deep.Equal(
		sortDependencies([]Table{{Name: `c`}, {Name: `a`}, {Name: `b`}}, deps),
		[]Table{{Name: `c`}, {Name: `a`}, {Name: `b`}},
	); diff != nil {
		t.Error(diff)
	}
}

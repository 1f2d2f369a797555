// Package unionfind implements a disjoint-set forest with path compression
// and union by rank, keyed by string ids.
package unionfind

import "sort"

// Forest tracks disjoint sets of string ids.
type Forest struct {
	parent map[string]string
	rank   map[string]int
}

// New creates an empty forest.
func New() *Forest {
	return &Forest{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Add registers id as a singleton set if it is not already present.
func (f *Forest) Add(id string) {
	if _, ok := f.parent[id]; ok {
		return
	}

	f.parent[id] = id
	f.rank[id] = 0
}

// Find returns the representative of the set containing id,
// compressing the path along the way. Unknown ids are added first.
func (f *Forest) Find(id string) string {
	f.Add(id)

	root := id
	for f.parent[root] != root {
		root = f.parent[root]
	}

	// Path compression: point every node on the walk directly at the root.
	for f.parent[id] != root {
		id, f.parent[id] = f.parent[id], root
	}

	return root
}

// Union merges the sets containing a and b.
func (f *Forest) Union(a, b string) {
	rootA := f.Find(a)
	rootB := f.Find(b)

	if rootA == rootB {
		return
	}

	if f.rank[rootA] < f.rank[rootB] {
		rootA, rootB = rootB, rootA
	}

	f.parent[rootB] = rootA

	if f.rank[rootA] == f.rank[rootB] {
		f.rank[rootA]++
	}
}

// Clusters returns all connected components with at least minSize members.
// Members within a cluster are sorted; clusters are ordered by their first
// member so the output is deterministic.
func (f *Forest) Clusters(minSize int) [][]string {
	bySet := make(map[string][]string)
	for id := range f.parent {
		root := f.Find(id)
		bySet[root] = append(bySet[root], id)
	}

	clusters := make([][]string, 0, len(bySet))

	for _, members := range bySet {
		if len(members) < minSize {
			continue
		}

		sort.Strings(members)
		clusters = append(clusters, members)
	}

	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i][0] < clusters[j][0]
	})

	return clusters
}

package mst

import "sort"

type kruskalStrategy struct{}

func (kruskalStrategy) Algorithm() Algorithm { return Kruskal }

type weightedEdge struct {
	u, v, w int
}

// disjointSet is union-find with path compression and union by rank
type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	ds := &disjointSet{parent: make([]int, n), rank: make([]int, n)}
	for i := range ds.parent {
		ds.parent[i] = i
	}
	return ds
}

func (ds *disjointSet) find(x int) int {
	for ds.parent[x] != x {
		ds.parent[x] = ds.parent[ds.parent[x]]
		x = ds.parent[x]
	}
	return x
}

// union merges the sets of a and b and reports whether they were disjoint
func (ds *disjointSet) union(a, b int) bool {
	ra, rb := ds.find(a), ds.find(b)
	if ra == rb {
		return false
	}
	switch {
	case ds.rank[ra] < ds.rank[rb]:
		ds.parent[ra] = rb
	case ds.rank[ra] > ds.rank[rb]:
		ds.parent[rb] = ra
	default:
		ds.parent[rb] = ra
		ds.rank[ra]++
	}
	return true
}

// Compute sorts the edges by weight and keeps each one that joins two
// components, stopping at n-1 edges.
func (kruskalStrategy) Compute(adj [][]int) ([][]int, error) {
	n, err := validate(adj)
	if err != nil {
		return nil, err
	}

	var edges []weightedEdge
	for u := 0; u < n; u++ {
		for v := u + 1; v < n; v++ {
			if w := adj[u][v]; w > 0 {
				edges = append(edges, weightedEdge{u: u, v: v, w: w})
			}
		}
	}
	// Stable on the (u, v) scan order so ties resolve deterministically.
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].w < edges[j].w })

	tree := newMatrix(n)
	ds := newDisjointSet(n)
	taken := 0
	for _, e := range edges {
		if taken == n-1 {
			break
		}
		if ds.union(e.u, e.v) {
			tree[e.u][e.v] = e.w
			tree[e.v][e.u] = e.w
			taken++
		}
	}
	return tree, nil
}

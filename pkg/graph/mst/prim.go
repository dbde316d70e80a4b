package mst

import "math"

type primStrategy struct{}

func (primStrategy) Algorithm() Algorithm { return Prim }

// Compute grows a tree from every not yet reached vertex, picking the
// cheapest crossing edge each round. O(n²) on the dense matrix.
func (primStrategy) Compute(adj [][]int) ([][]int, error) {
	n, err := validate(adj)
	if err != nil {
		return nil, err
	}

	tree := newMatrix(n)
	inTree := make([]bool, n)
	key := make([]int, n)
	parent := make([]int, n)
	for i := range key {
		key[i] = math.MaxInt
		parent[i] = -1
	}

	for root := 0; root < n; root++ {
		if inTree[root] {
			continue
		}
		key[root] = 0
		for {
			u := -1
			for v := 0; v < n; v++ {
				if !inTree[v] && key[v] != math.MaxInt && (u == -1 || key[v] < key[u]) {
					u = v
				}
			}
			if u == -1 {
				break
			}
			inTree[u] = true
			if p := parent[u]; p >= 0 {
				tree[p][u] = adj[p][u]
				tree[u][p] = adj[p][u]
			}
			for v := 0; v < n; v++ {
				if w := adj[u][v]; w > 0 && !inTree[v] && w < key[v] {
					key[v] = w
					parent[v] = u
				}
			}
		}
	}
	return tree, nil
}

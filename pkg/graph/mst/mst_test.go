package mst_test

import (
	"math/rand"
	"testing"

	"github.com/fluxorio/mstflow/pkg/graph/mst"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// classic builds the 4-vertex graph
//
//	0-1 (10), 0-2 (6), 0-3 (5), 1-3 (15), 2-3 (4)
//
// whose MST is {2-3, 0-3, 0-1} with weight 19.
func classic() [][]int {
	adj := make([][]int, 4)
	for i := range adj {
		adj[i] = make([]int, 4)
	}
	set := func(u, v, w int) { adj[u][v], adj[v][u] = w, w }
	set(0, 1, 10)
	set(0, 2, 6)
	set(0, 3, 5)
	set(1, 3, 15)
	set(2, 3, 4)
	return adj
}

// randomConnected builds a connected graph with a chain backbone plus
// extra edges; the generator is seeded so the graph is reproducible.
func randomConnected(n, extra int) [][]int {
	r := rand.New(rand.NewSource(42))
	adj := make([][]int, n)
	for i := range adj {
		adj[i] = make([]int, n)
	}
	for i := 1; i < n; i++ {
		w := 1 + r.Intn(10)
		adj[i-1][i], adj[i][i-1] = w, w
	}
	for k := 0; k < extra; {
		u, v := r.Intn(n), r.Intn(n)
		if u == v || adj[u][v] != 0 {
			continue
		}
		w := 1 + r.Intn(100)
		adj[u][v], adj[v][u] = w, w
		k++
	}
	return adj
}

func edgeCount(tree [][]int) int {
	count := 0
	for i := range tree {
		for j := i + 1; j < len(tree); j++ {
			if tree[i][j] != 0 {
				count++
			}
		}
	}
	return count
}

func TestStrategies_Classic(t *testing.T) {
	for _, alg := range []mst.Algorithm{mst.Prim, mst.Kruskal} {
		t.Run(alg.Name(), func(t *testing.T) {
			s, err := mst.New(alg)
			require.NoError(t, err)
			assert.Equal(t, alg, s.Algorithm())

			tree, err := s.Compute(classic())
			require.NoError(t, err)
			assert.Equal(t, 19, mst.Weight(tree))
			assert.Equal(t, 3, edgeCount(tree))
			assert.Equal(t, 4, tree[2][3])
			assert.Equal(t, 5, tree[0][3])
			assert.Equal(t, 10, tree[0][1])
			assert.Zero(t, tree[1][3], "heaviest edge must be left out")
		})
	}
}

func TestStrategies_AgreeOnRandomGraphs(t *testing.T) {
	adj := randomConnected(40, 200)

	prim, _ := mst.New(mst.Prim)
	kruskal, _ := mst.New(mst.Kruskal)

	pt, err := prim.Compute(adj)
	require.NoError(t, err)
	kt, err := kruskal.Compute(adj)
	require.NoError(t, err)

	assert.Equal(t, mst.Weight(pt), mst.Weight(kt))
	assert.Equal(t, 39, edgeCount(pt))
	assert.Equal(t, 39, edgeCount(kt))
}

func TestStrategies_DisconnectedGivesForest(t *testing.T) {
	// Two components: 0-1 (3) and 2-3 (7), vertex 4 isolated.
	adj := make([][]int, 5)
	for i := range adj {
		adj[i] = make([]int, 5)
	}
	adj[0][1], adj[1][0] = 3, 3
	adj[2][3], adj[3][2] = 7, 7

	for _, alg := range []mst.Algorithm{mst.Prim, mst.Kruskal} {
		s, _ := mst.New(alg)
		tree, err := s.Compute(adj)
		require.NoError(t, err, alg.Name())
		assert.Equal(t, 10, mst.Weight(tree), alg.Name())
		assert.Equal(t, 2, edgeCount(tree), alg.Name())
	}
}

func TestStrategies_InvalidInput(t *testing.T) {
	for _, alg := range []mst.Algorithm{mst.Prim, mst.Kruskal} {
		s, _ := mst.New(alg)

		_, err := s.Compute(nil)
		assert.ErrorIs(t, err, mst.ErrEmptyGraph)

		_, err = s.Compute([][]int{{0, 1}, {1}})
		assert.ErrorIs(t, err, mst.ErrNotSquare)
	}
}

func TestStrategies_DoNotMutateInput(t *testing.T) {
	adj := classic()
	before := classic()
	for _, alg := range []mst.Algorithm{mst.Prim, mst.Kruskal} {
		s, _ := mst.New(alg)
		_, err := s.Compute(adj)
		require.NoError(t, err)
		assert.Equal(t, before, adj)
	}
}

func TestParseAlgorithm(t *testing.T) {
	a, err := mst.ParseAlgorithm(1)
	require.NoError(t, err)
	assert.Equal(t, mst.Prim, a)

	a, err = mst.ParseAlgorithm(2)
	require.NoError(t, err)
	assert.Equal(t, mst.Kruskal, a)

	_, err = mst.ParseAlgorithm(3)
	assert.ErrorIs(t, err, mst.ErrUnknownAlgorithm)

	a, err = mst.ParseAlgorithmName("kruskal")
	require.NoError(t, err)
	assert.Equal(t, mst.Kruskal, a)

	_, err = mst.ParseAlgorithmName("boruvka")
	assert.ErrorIs(t, err, mst.ErrUnknownAlgorithm)

	_, err = mst.New(mst.Algorithm(9))
	assert.ErrorIs(t, err, mst.ErrUnknownAlgorithm)

	assert.Equal(t, "Prim's", mst.Prim.String())
	assert.Equal(t, "Kruskal's", mst.Kruskal.String())
}

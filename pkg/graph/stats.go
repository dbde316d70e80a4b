package graph

// Stats are the figures clients can query on a computed MST
type Stats struct {
	TotalWeight       int     `json:"total_weight"`
	LongestPath       int     `json:"longest_path"`
	ShortestPath      int     `json:"shortest_path"`
	AverageEdgeWeight float64 `json:"average_edge_weight"`
	Edges             int     `json:"edges"`
}

// Stats computes the MST statistics, caching them until the graph changes
func (g *Graph) Stats() (Stats, error) {
	if !g.HasMST() {
		return Stats{}, ErrNoMST
	}
	if g.stats == nil {
		st := g.computeStats()
		g.stats = &st
	}
	return *g.stats, nil
}

// Cached reports whether statistics are already computed for the current MST
func (g *Graph) Cached() bool {
	return g.stats != nil
}

// TotalWeight is the sum of the MST edge weights
func (g *Graph) TotalWeight() (int, error) {
	st, err := g.Stats()
	return st.TotalWeight, err
}

// LongestPath is the largest distance between two vertices along the MST
func (g *Graph) LongestPath() (int, error) {
	st, err := g.Stats()
	return st.LongestPath, err
}

// ShortestPath is the smallest non-zero distance between two vertices along the MST.
// It is 0 when the tree has no edges.
func (g *Graph) ShortestPath() (int, error) {
	st, err := g.Stats()
	return st.ShortestPath, err
}

// AverageEdgeWeight is the mean MST edge weight, 0 when the tree has no edges
func (g *Graph) AverageEdgeWeight() (float64, error) {
	st, err := g.Stats()
	return st.AverageEdgeWeight, err
}

func (g *Graph) computeStats() Stats {
	var st Stats
	for i := 0; i < g.n; i++ {
		for j := i + 1; j < g.n; j++ {
			if w := g.mst[i][j]; w != 0 {
				st.TotalWeight += w
				st.Edges++
			}
		}
	}
	if st.Edges == 0 {
		return st
	}
	st.AverageEdgeWeight = float64(st.TotalWeight) / float64(st.Edges)

	// Paths in a tree are unique, so one walk per source gives every distance.
	st.ShortestPath = -1
	dist := make([]int, g.n)
	stack := make([]int, 0, g.n)
	for src := 0; src < g.n; src++ {
		for i := range dist {
			dist[i] = -1
		}
		dist[src] = 0
		stack = append(stack[:0], src)
		for len(stack) > 0 {
			u := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for v := 0; v < g.n; v++ {
				w := g.mst[u][v]
				if w == 0 || dist[v] >= 0 {
					continue
				}
				dist[v] = dist[u] + w
				stack = append(stack, v)
			}
		}
		for v := src + 1; v < g.n; v++ {
			d := dist[v]
			if d <= 0 {
				continue
			}
			if d > st.LongestPath {
				st.LongestPath = d
			}
			if st.ShortestPath < 0 || d < st.ShortestPath {
				st.ShortestPath = d
			}
		}
	}
	if st.ShortestPath < 0 {
		st.ShortestPath = 0
	}
	return st
}

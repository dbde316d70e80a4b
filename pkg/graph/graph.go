// Package graph holds the weighted undirected graph a client builds, its
// minimum spanning tree and the statistics computed on that tree.
//
// A Graph is not safe for concurrent use; the owning session serializes
// access to it.
package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidVertexCount is returned by New for n <= 0
	ErrInvalidVertexCount = errors.New("graph: vertex count must be positive")

	// ErrVertexOutOfRange is returned for vertices outside [0, n)
	ErrVertexOutOfRange = errors.New("graph: vertex out of range")

	// ErrInvalidWeight is returned for weights <= 0; 0 means "no edge"
	ErrInvalidWeight = errors.New("graph: edge weight must be positive")

	// ErrSelfLoop is returned when both endpoints are the same vertex
	ErrSelfLoop = errors.New("graph: self loops are not allowed")

	// ErrNoSuchEdge is returned when removing an edge that does not exist
	ErrNoSuchEdge = errors.New("graph: no such edge")

	// ErrNoMST is returned by statistics when no MST has been computed
	ErrNoMST = errors.New("graph: MST is not computed")

	// ErrShapeMismatch is returned when an MST matrix does not match the graph
	ErrShapeMismatch = errors.New("graph: MST matrix shape mismatch")
)

// Status is the progress of the MST computation
type Status int

const (
	NotStarted Status = iota
	InProgress
	Finished
)

func (s Status) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("status_%d", int(s))
}

// Edge is an undirected weighted edge with U < V
type Edge struct {
	U, V, W int
}

// Graph is an n×n adjacency matrix plus an optional MST of the same shape
type Graph struct {
	n         int
	adj       [][]int
	edges     int
	mst       [][]int
	algorithm string
	status    Status
	stats     *Stats
}

// New creates a graph with n vertices and no edges
func New(n int) (*Graph, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVertexCount, n)
	}
	return &Graph{n: n, adj: newMatrix(n)}, nil
}

func newMatrix(n int) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	return m
}

func copyMatrix(m [][]int) [][]int {
	out := make([][]int, len(m))
	for i := range m {
		out[i] = append([]int(nil), m[i]...)
	}
	return out
}

// Vertices returns the vertex count
func (g *Graph) Vertices() int { return g.n }

// Edges returns the number of distinct edges
func (g *Graph) Edges() int { return g.edges }

func (g *Graph) checkVertex(v int) error {
	if v < 0 || v >= g.n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrVertexOutOfRange, v, g.n)
	}
	return nil
}

// AddEdge sets the weight of u-v. Overwriting an existing edge keeps the edge count.
// Any change invalidates the MST.
func (g *Graph) AddEdge(u, v, w int) error {
	if err := g.checkVertex(u); err != nil {
		return err
	}
	if err := g.checkVertex(v); err != nil {
		return err
	}
	if u == v {
		return ErrSelfLoop
	}
	if w <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWeight, w)
	}
	if g.adj[u][v] == 0 {
		g.edges++
	}
	g.adj[u][v] = w
	g.adj[v][u] = w
	g.invalidate()
	return nil
}

// RemoveEdge deletes u-v and invalidates the MST
func (g *Graph) RemoveEdge(u, v int) error {
	if err := g.checkVertex(u); err != nil {
		return err
	}
	if err := g.checkVertex(v); err != nil {
		return err
	}
	if g.adj[u][v] == 0 {
		return fmt.Errorf("%w: %d-%d", ErrNoSuchEdge, u, v)
	}
	g.adj[u][v] = 0
	g.adj[v][u] = 0
	g.edges--
	g.invalidate()
	return nil
}

// Weight returns the weight of u-v, 0 when absent or out of range
func (g *Graph) Weight(u, v int) int {
	if g.checkVertex(u) != nil || g.checkVertex(v) != nil {
		return 0
	}
	return g.adj[u][v]
}

// Matrix returns a copy of the adjacency matrix
func (g *Graph) Matrix() [][]int {
	return copyMatrix(g.adj)
}

func (g *Graph) invalidate() {
	g.mst = nil
	g.algorithm = ""
	g.status = NotStarted
	g.stats = nil
}

// BeginMST marks the MST computation as started and drops the old tree
func (g *Graph) BeginMST() {
	g.invalidate()
	g.status = InProgress
}

// SetMST stores the tree computed by algorithm and marks it finished
func (g *Graph) SetMST(mst [][]int, algorithm string) error {
	if len(mst) != g.n {
		return fmt.Errorf("%w: %d rows for %d vertices", ErrShapeMismatch, len(mst), g.n)
	}
	for i, row := range mst {
		if len(row) != g.n {
			return fmt.Errorf("%w: row %d has %d columns", ErrShapeMismatch, i, len(row))
		}
	}
	g.mst = copyMatrix(mst)
	g.algorithm = algorithm
	g.status = Finished
	g.stats = nil
	return nil
}

// HasMST reports whether a finished MST is stored
func (g *Graph) HasMST() bool {
	return g.status == Finished && g.mst != nil
}

// Status returns the MST computation status
func (g *Graph) Status() Status { return g.status }

// Algorithm returns the name of the algorithm that built the current MST
func (g *Graph) Algorithm() string { return g.algorithm }

// MST returns a copy of the MST matrix
func (g *Graph) MST() ([][]int, error) {
	if !g.HasMST() {
		return nil, ErrNoMST
	}
	return copyMatrix(g.mst), nil
}

// MSTEdges lists the MST edges ordered by (U, V)
func (g *Graph) MSTEdges() ([]Edge, error) {
	if !g.HasMST() {
		return nil, ErrNoMST
	}
	var edges []Edge
	for i := 0; i < g.n; i++ {
		for j := i + 1; j < g.n; j++ {
			if w := g.mst[i][j]; w != 0 {
				edges = append(edges, Edge{U: i, V: j, W: w})
			}
		}
	}
	return edges, nil
}

// FormatMST renders the MST one edge per line as "Edge: u - v | Weight: w"
func (g *Graph) FormatMST() (string, error) {
	edges, err := g.MSTEdges()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range edges {
		fmt.Fprintf(&b, "Edge: %d - %d | Weight: %d\n", e.U, e.V, e.W)
	}
	return b.String(), nil
}

// Package mst computes minimum spanning trees over adjacency matrices.
// Strategies take an n×n matrix where 0 means "no edge" and return a matrix
// of the same shape holding only the tree edges. Disconnected graphs yield a
// minimum spanning forest.
package mst

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyGraph is returned for a matrix without vertices
	ErrEmptyGraph = errors.New("mst: graph has no vertices")

	// ErrNotSquare is returned when rows differ in length from the vertex count
	ErrNotSquare = errors.New("mst: adjacency matrix is not square")

	// ErrUnknownAlgorithm is returned by New and ParseAlgorithm
	ErrUnknownAlgorithm = errors.New("mst: unknown algorithm")
)

// Algorithm selects a strategy. Values match the client's menu choice.
type Algorithm int

const (
	Prim Algorithm = iota + 1
	Kruskal
)

// String returns the display name used in replies
func (a Algorithm) String() string {
	switch a {
	case Prim:
		return "Prim's"
	case Kruskal:
		return "Kruskal's"
	}
	return fmt.Sprintf("algorithm(%d)", int(a))
}

// Name returns the lower-case identifier used in config and metrics
func (a Algorithm) Name() string {
	switch a {
	case Prim:
		return "prim"
	case Kruskal:
		return "kruskal"
	}
	return "unknown"
}

// ParseAlgorithm maps a menu choice (1 or 2) to an Algorithm
func ParseAlgorithm(choice int) (Algorithm, error) {
	a := Algorithm(choice)
	if a != Prim && a != Kruskal {
		return 0, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, choice)
	}
	return a, nil
}

// ParseAlgorithmName maps "prim" or "kruskal" to an Algorithm
func ParseAlgorithmName(name string) (Algorithm, error) {
	switch name {
	case "prim":
		return Prim, nil
	case "kruskal":
		return Kruskal, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
}

// Strategy computes an MST
type Strategy interface {
	Algorithm() Algorithm
	Compute(adj [][]int) ([][]int, error)
}

// New returns the strategy for a
func New(a Algorithm) (Strategy, error) {
	switch a {
	case Prim:
		return primStrategy{}, nil
	case Kruskal:
		return kruskalStrategy{}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, int(a))
}

func validate(adj [][]int) (int, error) {
	n := len(adj)
	if n == 0 {
		return 0, ErrEmptyGraph
	}
	for i, row := range adj {
		if len(row) != n {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrNotSquare, i, len(row), n)
		}
	}
	return n, nil
}

func newMatrix(n int) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	return m
}

// Weight sums the tree edges of an MST matrix
func Weight(tree [][]int) int {
	total := 0
	for i := range tree {
		for j := i + 1; j < len(tree[i]); j++ {
			total += tree[i][j]
		}
	}
	return total
}

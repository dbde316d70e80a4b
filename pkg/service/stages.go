package service

import (
	"context"
	"fmt"

	"github.com/fluxorio/mstflow/pkg/core/concurrency"
	"github.com/fluxorio/mstflow/pkg/session"
)

// StageKind names one link of the graph pipeline
type StageKind int

const (
	StageCreateGraph StageKind = iota
	StageModifyGraph
	StageComputeMST
	StageQueryMST
	StageDisconnect
)

var stageNames = map[StageKind]string{
	StageCreateGraph: "create-graph",
	StageModifyGraph: "modify-graph",
	StageComputeMST:  "compute-mst",
	StageQueryMST:    "query-mst",
	StageDisconnect:  "disconnect",
}

func (k StageKind) String() string {
	if name, ok := stageNames[k]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(k))
}

// ParseStageKinds maps stage names such as "compute-mst" to kinds, keeping
// their order. A name may appear once.
func ParseStageKinds(names []string) ([]StageKind, error) {
	kinds := make([]StageKind, 0, len(names))
	seen := make(map[StageKind]bool, len(names))
	for _, name := range names {
		k, ok := stageKindOf(name)
		if !ok {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		if seen[k] {
			return nil, fmt.Errorf("stage %q listed twice", name)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func stageKindOf(name string) (StageKind, bool) {
	for k, n := range stageNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// DefaultStages is the full chain in commit order
func DefaultStages() []StageKind {
	return []StageKind{StageCreateGraph, StageModifyGraph, StageComputeMST, StageQueryMST, StageDisconnect}
}

// Stage describes one pipeline link. Client tasks run the
// operation; forwarded tasks run the stage's refresh, which brings the
// client's derived state up to date with what upstream committed and never
// writes a reply.
func (s *Service) Stage(k StageKind) concurrency.StageSpec {
	switch k {
	case StageCreateGraph:
		return concurrency.StageSpec{
			Name:    k.String(),
			Ops:     []concurrency.OpCode{concurrency.OpCreateGraph},
			Handler: s.stageHandler(nil),
		}
	case StageModifyGraph:
		return concurrency.StageSpec{
			Name:    k.String(),
			Ops:     []concurrency.OpCode{concurrency.OpAddEdge, concurrency.OpRemoveEdge},
			Handler: s.stageHandler(refreshGraph),
		}
	case StageComputeMST:
		return concurrency.StageSpec{
			Name:    k.String(),
			Ops:     []concurrency.OpCode{concurrency.OpComputeMST},
			Handler: s.stageHandler(refreshMST),
		}
	case StageQueryMST:
		return concurrency.StageSpec{
			Name: k.String(),
			Ops: []concurrency.OpCode{
				concurrency.OpLongestPath, concurrency.OpShortestPath,
				concurrency.OpAverageEdgeWeight, concurrency.OpTotalWeight, concurrency.OpPrintMST,
			},
			Handler: s.stageHandler(refreshStats),
		}
	case StageDisconnect:
		return concurrency.StageSpec{
			Name:    k.String(),
			Ops:     []concurrency.OpCode{concurrency.OpDisconnect},
			Handler: s.stageHandler(nil),
		}
	}
	panic(fmt.Sprintf("service: unknown stage kind %d", int(k)))
}

// Stages returns the specs of kinds in order
func (s *Service) Stages(kinds ...StageKind) []concurrency.StageSpec {
	specs := make([]concurrency.StageSpec, 0, len(kinds))
	for _, k := range kinds {
		specs = append(specs, s.Stage(k))
	}
	return specs
}

type refreshFunc func(st *session.State) error

func (s *Service) stageHandler(refresh refreshFunc) concurrency.Handler {
	return func(ctx context.Context, t concurrency.Task) error {
		if !t.Forwarded {
			return s.Execute(ctx, t)
		}
		if refresh == nil {
			return nil
		}
		sess, err := sessionOf(t)
		if err != nil {
			return err
		}
		return sess.Do(refresh)
	}
}

// refreshGraph checks the graph upstream created is in place
func refreshGraph(st *session.State) error {
	if !st.GraphCreated || st.Graph == nil {
		return ErrGraphNotCreated
	}
	return nil
}

// refreshMST recomputes an MST that an upstream edge change invalidated,
// using the algorithm the client chose last
func refreshMST(st *session.State) error {
	if st.Graph == nil || st.Algorithm == 0 || st.Graph.HasMST() {
		return nil
	}
	return computeLocked(st, st.Algorithm)
}

// refreshStats warms the statistics of a fresh MST
func refreshStats(st *session.State) error {
	if st.Graph == nil || !st.Graph.HasMST() {
		return nil
	}
	_, err := st.Graph.Stats()
	return err
}

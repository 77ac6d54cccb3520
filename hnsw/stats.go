package hnsw

import (
	"fmt"
	"io"
)

// LevelStats describes one level of the graph.
type LevelStats struct {
	Level          int
	Nodes          int
	Connections    int
	AvgConnections float64
}

// Stats summarizes the graph shape.
type Stats struct {
	Nodes     int
	MaxLevel  int
	M         int
	M0        int
	EfSearch  int
	Heuristic bool
	Levels    []LevelStats
}

// Stats returns statistics about the HNSW graph.
func (h *HNSW) Stats() Stats {
	st := Stats{
		Nodes:     len(h.ids),
		MaxLevel:  h.maxLevel,
		M:         h.mmax,
		M0:        h.mmax0,
		EfSearch:  h.opts.EfSearch,
		Heuristic: h.opts.Heuristic,
		Levels:    make([]LevelStats, h.maxLevel+1),
	}

	for l := range st.Levels {
		st.Levels[l].Level = l
	}

	for _, n := range h.nodes {
		if n == nil {
			continue
		}

		for l := 0; l <= n.level && l < len(st.Levels); l++ {
			st.Levels[l].Nodes++
			st.Levels[l].Connections += len(n.connections[l])
		}
	}

	for l := range st.Levels {
		if st.Levels[l].Nodes > 0 {
			st.Levels[l].AvgConnections = float64(st.Levels[l].Connections) / float64(st.Levels[l].Nodes)
		}
	}

	return st
}

// Print writes a human readable version of the statistics to w.
func (s Stats) Print(w io.Writer) {
	fmt.Fprintf(w, "Options:\n\tM = %d\n\tM0 = %d\n\tEfSearch = %d\n\tHeuristic = %v\n\n", s.M, s.M0, s.EfSearch, s.Heuristic)
	fmt.Fprintf(w, "Number of nodes = %d\nMax level = %d\n\n", s.Nodes, s.MaxLevel)
	fmt.Fprintln(w, "Node Levels:")

	for _, l := range s.Levels {
		fmt.Fprintf(w, "\tLevel %d:\n", l.Level)
		fmt.Fprintf(w, "\t\tNumber of nodes: %d\n", l.Nodes)
		fmt.Fprintf(w, "\t\tNumber of connections: %d\n", l.Connections)
		fmt.Fprintf(w, "\t\tAverage connections per node: %.2f\n", l.AvgConnections)
	}
}

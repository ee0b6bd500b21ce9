package hnsw

// Stats describes the shape of the graph.
type Stats struct {
	Nodes      int
	MaxLevel   int
	EntryPoint uint32
	// LevelCounts[i] is the number of nodes whose top level is i.
	LevelCounts []int
	// Edges is the total number of directed links.
	Edges int
}

// Stats returns a snapshot of graph statistics.
func (h *HNSW) Stats() Stats {
	st := Stats{
		Nodes:       len(h.nodes),
		MaxLevel:    h.maxLevel,
		EntryPoint:  h.entryPoint,
		LevelCounts: make([]int, h.maxLevel+1),
	}
	for _, n := range h.nodes {
		if n.level < len(st.LevelCounts) {
			st.LevelCounts[n.level]++
		}
		for _, links := range n.links {
			st.Edges += len(links)
		}
	}
	return st
}

package bayselm

type vocabJSON struct {
	Tokens []string `json:"tokens"` // index is the id
}

type trainerStateJSON struct {
	TrainSeqs             [][]ID  `json:"train"`
	TestSeqs              [][]ID  `json:"test"`
	SamplingDepthMemories [][]int `json:"depths"` // sampled depth of every training token, -1 if not seated
}

// Stats summarizes the size of a VPYLM.
type Stats struct {
	Nodes         int         `json:"nodes"`
	Customers     int         `json:"customers"`
	Tables        int         `json:"tables"`
	Depth         int         `json:"depth"`
	StopCounts    int         `json:"stop_counts"`
	PassCounts    int         `json:"pass_counts"`
	StopsByDepth  map[int]int `json:"stops_by_depth"`
	G0            float64     `json:"g0"`
	Discount      []float64   `json:"discount"`
	Concentration []float64   `json:"concentration"`
}

// Stats returns the current size of the tree and its parameters.
func (vpylm *VPYLM) Stats() Stats {
	depth := vpylm.Depth()
	stats := Stats{
		Nodes:         vpylm.NumNodes(),
		Customers:     vpylm.NumCustomers(),
		Tables:        vpylm.NumTables(),
		Depth:         depth,
		StopCounts:    vpylm.SumStopCounts(),
		PassCounts:    vpylm.SumPassCounts(),
		StopsByDepth:  vpylm.CountStopsByDepth(),
		G0:            vpylm.g0,
		Discount:      make([]float64, depth+1),
		Concentration: make([]float64, depth+1),
	}
	for m := 0; m <= depth; m++ {
		stats.Discount[m] = vpylm.hp.discount(m)
		stats.Concentration[m] = vpylm.hp.concentration(m)
	}
	return stats
}

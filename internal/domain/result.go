package domain

// CausalGraph is a discovered (or framed) causal graph
type CausalGraph struct {
	Variables     []CausalVariable       `json:"variables"`
	Relationships []Relationship         `json:"relationships"`
	Constraints   CausalGraphConstraints `json:"constraints"`
	Algorithm     Algorithm              `json:"algorithm"`
}

// CausalInferenceModel is a linear structural model fitted on a graph
type CausalInferenceModel struct {
	Intercepts   map[string]float64            `json:"intercepts"`
	Coefficients map[string]map[string]float64 `json:"coefficients"`
}

// DiscoveryResult is what a discovery algorithm returns
type DiscoveryResult struct {
	Variables            []CausalVariable       `json:"variables"`
	Relationships        []Relationship         `json:"relationships"`
	Constraints          CausalGraphConstraints `json:"constraints"`
	Algorithm            Algorithm              `json:"algorithm"`
	CausalInferenceModel *CausalInferenceModel  `json:"causalInferenceModel"`
}

// ResultState is the discovery result held in session state
type ResultState struct {
	Graph                CausalGraph           `json:"graph"`
	CausalInferenceModel *CausalInferenceModel `json:"causalInferenceModel"`
}

// EmptyResultState is the "no result" shape
func EmptyResultState() ResultState {
	return ResultState{
		Graph: CausalGraph{
			Variables:     []CausalVariable{},
			Relationships: []Relationship{},
			Constraints:   NewCausalGraphConstraints(),
			Algorithm:     AlgorithmNone,
		},
	}
}

// ResultStateFrom converts an algorithm result into result state
func ResultStateFrom(r *DiscoveryResult) ResultState {
	return ResultState{
		Graph: CausalGraph{
			Variables:     r.Variables,
			Relationships: r.Relationships,
			Constraints:   r.Constraints,
			Algorithm:     r.Algorithm,
		},
		CausalInferenceModel: r.CausalInferenceModel,
	}
}

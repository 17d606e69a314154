package domain

// CausalGraphConstraints holds the user's discovery constraints
type CausalGraphConstraints struct {
	// Causes are columns that cannot have incoming edges
	Causes []string `json:"causes"`

	// Effects are columns that cannot have outgoing edges
	Effects []string `json:"effects"`

	ManualRelationships []Relationship `json:"manualRelationships"`
}

// NewCausalGraphConstraints returns an empty constraint set
func NewCausalGraphConstraints() CausalGraphConstraints {
	return CausalGraphConstraints{
		Causes:              []string{},
		Effects:             []string{},
		ManualRelationships: []Relationship{},
	}
}

// Algorithm identifies a causal discovery algorithm
type Algorithm string

const (
	AlgorithmNone         Algorithm = "None"
	AlgorithmPC           Algorithm = "PC"
	AlgorithmDirectLiNGAM Algorithm = "DirectLiNGAM"
	AlgorithmNOTEARS      Algorithm = "NOTEARS"
	AlgorithmDECI         Algorithm = "DECI"
)

// Algorithms lists every known algorithm identifier
var Algorithms = []Algorithm{
	AlgorithmNone,
	AlgorithmPC,
	AlgorithmDirectLiNGAM,
	AlgorithmNOTEARS,
	AlgorithmDECI,
}

// Valid reports whether a is a known algorithm
func (a Algorithm) Valid() bool {
	for _, known := range Algorithms {
		if a == known {
			return true
		}
	}
	return false
}

// DECIParams configures the DECI algorithm
type DECIParams struct {
	ModelOptions    DECIModelOptions    `json:"modelOptions"`
	TrainingOptions DECITrainingOptions `json:"trainingOptions"`
	ATEOptions      DECIATEOptions      `json:"ateOptions"`
}

// DECIModelOptions configures the DECI model
type DECIModelOptions struct {
	BaseDistributionType string  `json:"baseDistributionType"`
	SparsityLambda       float64 `json:"sparsityLambda"`
	SpectralNorm         bool    `json:"spectralNorm"`
}

// DECITrainingOptions configures DECI training
type DECITrainingOptions struct {
	MaxSteps     int     `json:"maxSteps"`
	LearningRate float64 `json:"learningRate"`
	BatchSize    int     `json:"batchSize"`
}

// DECIATEOptions configures average treatment effect estimation
type DECIATEOptions struct {
	Samples int `json:"samples"`
}

// DefaultDECIParams returns the DECI defaults used when the user has not
// changed anything.
func DefaultDECIParams() DECIParams {
	return DECIParams{
		ModelOptions: DECIModelOptions{
			BaseDistributionType: "spline",
			SparsityLambda:       5,
		},
		TrainingOptions: DECITrainingOptions{
			MaxSteps:     5000,
			LearningRate: 0.03,
			BatchSize:    512,
		},
		ATEOptions: DECIATEOptions{
			Samples: 5000,
		},
	}
}

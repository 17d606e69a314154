// Package pc implements a constraint-based causal discovery algorithm in the
// style of PC, limited to order-0 and order-1 conditional independence tests.
//
// Skeleton edges are removed when a Fisher-z test on the (partial) Pearson
// correlation fails to reject independence at the configured significance
// level. Surviving edges are oriented using the request's constraints, and
// otherwise follow variable order. A linear structural model is then fitted
// by least squares on the oriented graph.
package pc

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

// Config holds PC parameters
type Config struct {
	// Alpha is the significance level of the independence tests
	Alpha float64

	// MaxConditioning is the largest conditioning set size (0 or 1)
	MaxConditioning int
}

// DefaultConfig returns the defaults used by the service
func DefaultConfig() Config {
	return Config{Alpha: 0.05, MaxConditioning: 1}
}

// Algorithm is the PC discovery algorithm
type Algorithm struct {
	cfg    Config
	logger *zap.Logger
}

// New creates the algorithm
func New(cfg Config, logger *zap.Logger) *Algorithm {
	if cfg.MaxConditioning > 1 {
		cfg.MaxConditioning = 1
	}
	if cfg.MaxConditioning < 0 {
		cfg.MaxConditioning = 0
	}
	return &Algorithm{cfg: cfg, logger: logger}
}

// Name implements algorithms.Algorithm
func (a *Algorithm) Name() domain.Algorithm {
	return domain.AlgorithmPC
}

// Discover implements algorithms.Algorithm
func (a *Algorithm) Discover(ctx context.Context, req ports.DiscoveryRequest, progress ports.ProgressFunc) (*domain.DiscoveryResult, error) {
	vars := req.Variables
	data, rows, err := columns(req.Dataset, vars)
	if err != nil {
		return nil, err
	}
	if len(vars) > 1 && rows < 4+a.cfg.MaxConditioning {
		return nil, fmt.Errorf("dataset has %d rows, at least %d are needed", rows, 4+a.cfg.MaxConditioning)
	}

	k := len(vars)
	corr := correlations(data)
	forbidden := forbiddenEdges(vars, req.Constraints)

	adj := make([][]bool, k)
	for i := range adj {
		adj[i] = make([]bool, k)
		for j := range adj[i] {
			adj[i][j] = i != j && !(forbidden[i][j] && forbidden[j][i])
		}
	}

	pairs := k * (k - 1) / 2
	total := pairs * (a.cfg.MaxConditioning + 1)
	tested := 0
	report := func() {
		tested++
		if progress != nil && total > 0 {
			progress(100*float64(tested)/float64(total), "")
		}
	}

	for order := 0; order <= a.cfg.MaxConditioning; order++ {
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if adj[i][j] && a.separated(corr, adj, rows, order, i, j) {
					adj[i][j], adj[j][i] = false, false
				}
				report()
			}
		}
	}

	relationships := make([]domain.Relationship, 0)
	parents := make([][]int, k)
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if !adj[i][j] {
				continue
			}
			src, dst := i, j
			if forbidden[i][j] {
				src, dst = j, i
			}
			weight := corr[src][dst]
			relationships = append(relationships, domain.Relationship{
				Source: vars[src],
				Target: vars[dst],
				Weight: &weight,
			})
			parents[dst] = append(parents[dst], src)
		}
	}

	model, err := fitModel(vars, data, parents)
	if err != nil {
		a.logger.Warn("failed to fit causal inference model", zap.Error(err))
		model = nil
	}

	a.logger.Debug("pc discovery finished",
		zap.Int("variables", k),
		zap.Int("rows", rows),
		zap.Int("relationships", len(relationships)))

	return &domain.DiscoveryResult{
		Variables:            vars,
		Relationships:        relationships,
		Constraints:          req.Constraints,
		Algorithm:            domain.AlgorithmPC,
		CausalInferenceModel: model,
	}, nil
}

// separated reports whether i and j are independent given some
// conditioning set of the given order drawn from their neighbours.
func (a *Algorithm) separated(corr [][]float64, adj [][]bool, rows, order, i, j int) bool {
	if order == 0 {
		return a.independent(corr[i][j], rows, 0)
	}

	for c := range adj {
		if c == i || c == j || !(adj[i][c] || adj[j][c]) {
			continue
		}
		r, ok := partialCorrelation(corr, i, j, c)
		if ok && a.independent(r, rows, 1) {
			return true
		}
	}
	return false
}

// independent runs a Fisher-z test on a (partial) correlation
func (a *Algorithm) independent(r float64, rows, conditioned int) bool {
	const limit = 1 - 1e-12
	r = math.Max(-limit, math.Min(limit, r))

	z := math.Atanh(r) * math.Sqrt(float64(rows-conditioned-3))
	p := 2 * (1 - distuv.UnitNormal.CDF(math.Abs(z)))
	return p > a.cfg.Alpha
}

func partialCorrelation(corr [][]float64, i, j, c int) (float64, bool) {
	denom := math.Sqrt((1 - corr[i][c]*corr[i][c]) * (1 - corr[j][c]*corr[j][c]))
	if denom < 1e-12 {
		return 0, false
	}
	return (corr[i][j] - corr[i][c]*corr[j][c]) / denom, true
}

// columns extracts the dataset column of every variable
func columns(ds domain.Dataset, vars []domain.CausalVariable) ([][]float64, int, error) {
	data := make([][]float64, len(vars))
	rows := -1
	for i, v := range vars {
		col, ok := ds.Column(v.ColumnName)
		if !ok {
			return nil, 0, fmt.Errorf("column %q not found in dataset", v.ColumnName)
		}
		if rows >= 0 && len(col.Values) != rows {
			return nil, 0, fmt.Errorf("column %q has %d rows, expected %d", v.ColumnName, len(col.Values), rows)
		}
		rows = len(col.Values)
		data[i] = col.Values
	}
	if rows < 0 {
		rows = 0
	}
	return data, rows, nil
}

// correlations returns the Pearson correlation matrix. Constant columns
// correlate 0 with everything.
func correlations(data [][]float64) [][]float64 {
	k := len(data)
	corr := make([][]float64, k)
	for i := range corr {
		corr[i] = make([]float64, k)
		corr[i][i] = 1
	}
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			r := stat.Correlation(data[i], data[j], nil)
			if math.IsNaN(r) {
				r = 0
			}
			corr[i][j], corr[j][i] = r, r
		}
	}
	return corr
}

// forbiddenEdges marks directed edges excluded by the constraints.
// A manual relationship forbids source->target; Removed forbids both
// directions. Causes take no incoming edges, effects no outgoing ones.
func forbiddenEdges(vars []domain.CausalVariable, c domain.CausalGraphConstraints) [][]bool {
	k := len(vars)
	index := make(map[string]int, k)
	for i, v := range vars {
		index[v.ColumnName] = i
	}

	forbidden := make([][]bool, k)
	for i := range forbidden {
		forbidden[i] = make([]bool, k)
	}

	for _, rel := range c.ManualRelationships {
		s, okS := index[rel.Source.ColumnName]
		t, okT := index[rel.Target.ColumnName]
		if !okS || !okT || s == t {
			continue
		}
		forbidden[s][t] = true
		if rel.Reason == domain.ManualRelationshipReasonRemoved {
			forbidden[t][s] = true
		}
	}

	for _, cause := range c.Causes {
		if t, ok := index[cause]; ok {
			for s := range forbidden {
				if s != t {
					forbidden[s][t] = true
				}
			}
		}
	}

	for _, effect := range c.Effects {
		if s, ok := index[effect]; ok {
			for t := range forbidden[s] {
				if s != t {
					forbidden[s][t] = true
				}
			}
		}
	}

	return forbidden
}

// fitModel regresses every variable on its parents
func fitModel(vars []domain.CausalVariable, data [][]float64, parents [][]int) (*domain.CausalInferenceModel, error) {
	model := &domain.CausalInferenceModel{
		Intercepts:   make(map[string]float64, len(vars)),
		Coefficients: make(map[string]map[string]float64, len(vars)),
	}

	for j, v := range vars {
		y := data[j]
		model.Coefficients[v.ColumnName] = make(map[string]float64)

		if len(y) == 0 {
			model.Intercepts[v.ColumnName] = 0
			continue
		}
		if len(parents[j]) == 0 {
			model.Intercepts[v.ColumnName] = stat.Mean(y, nil)
			continue
		}

		n, p := len(y), len(parents[j])+1
		x := mat.NewDense(n, p, nil)
		for r := 0; r < n; r++ {
			x.Set(r, 0, 1)
			for c, parent := range parents[j] {
				x.Set(r, c+1, data[parent][r])
			}
		}

		var beta mat.VecDense
		if err := beta.SolveVec(x, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
			return nil, fmt.Errorf("failed to fit %s: %w", v.ColumnName, err)
		}

		model.Intercepts[v.ColumnName] = beta.AtVec(0)
		for c, parent := range parents[j] {
			model.Coefficients[v.ColumnName][vars[parent].ColumnName] = beta.AtVec(c + 1)
		}
	}

	return model, nil
}

package pc

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

// orthogonalize centres v and removes its projection on each basis vector.
// The basis vectors must already be centred and mutually orthogonal.
func orthogonalize(v []float64, basis ...[]float64) []float64 {
	out := make([]float64, len(v))
	var mean float64
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	for i, x := range v {
		out[i] = x - mean
	}

	for _, b := range basis {
		var vb, bb float64
		for i := range out {
			vb += out[i] * b[i]
			bb += b[i] * b[i]
		}
		for i := range out {
			out[i] -= vb / bb * b[i]
		}
	}
	return out
}

func noise(r *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = r.NormFloat64()
	}
	return v
}

// chainDataset builds x -> y -> w plus an unrelated z, with the noise terms
// exactly orthogonal so the independence tests are unambiguous.
func chainDataset() (domain.Dataset, []domain.CausalVariable) {
	const n = 200
	r := rand.New(rand.NewSource(7))

	x := orthogonalize(noise(r, n))
	e1 := orthogonalize(noise(r, n), x)
	e2 := orthogonalize(noise(r, n), x, e1)
	z := orthogonalize(noise(r, n), x, e1, e2)

	y := make([]float64, n)
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		y[i] = x[i] + 0.5*e1[i]
		w[i] = y[i] + 0.5*e2[i]
	}

	ds := domain.Dataset{
		Name: "chain",
		Columns: []domain.Column{
			{Name: "x", Values: x},
			{Name: "y", Values: y},
			{Name: "w", Values: w},
			{Name: "z", Values: z},
		},
	}
	vars := []domain.CausalVariable{{ColumnName: "x"}, {ColumnName: "y"}, {ColumnName: "w"}, {ColumnName: "z"}}
	return ds, vars
}

func edges(result *domain.DiscoveryResult) []string {
	keys := make([]string, 0, len(result.Relationships))
	for _, rel := range result.Relationships {
		keys = append(keys, rel.Key())
	}
	return keys
}

func TestPC_RecoversChainSkeleton(t *testing.T) {
	ds, vars := chainDataset()
	alg := New(Config{Alpha: 0.01, MaxConditioning: 1}, zap.NewNop())

	var last float64
	result, err := alg.Discover(context.Background(), ports.DiscoveryRequest{
		Dataset:     ds,
		Variables:   vars,
		Constraints: domain.NewCausalGraphConstraints(),
		Algorithm:   domain.AlgorithmPC,
	}, func(percent float64, _ string) { last = percent })
	require.NoError(t, err)

	assert.Equal(t, []string{"x->y", "y->w"}, edges(result))
	assert.Equal(t, domain.AlgorithmPC, result.Algorithm)
	assert.InDelta(t, 100, last, 1e-9)

	for _, rel := range result.Relationships {
		require.NotNil(t, rel.Weight)
		assert.Greater(t, *rel.Weight, 0.5)
	}

	require.NotNil(t, result.CausalInferenceModel)
	assert.InDelta(t, 1.0, result.CausalInferenceModel.Coefficients["y"]["x"], 1e-9)
	assert.InDelta(t, 1.0, result.CausalInferenceModel.Coefficients["w"]["y"], 1e-9)
	assert.Empty(t, result.CausalInferenceModel.Coefficients["z"])
}

func TestPC_OrderZeroKeepsIndirectEdge(t *testing.T) {
	ds, vars := chainDataset()
	alg := New(Config{Alpha: 0.01, MaxConditioning: 0}, zap.NewNop())

	result, err := alg.Discover(context.Background(), ports.DiscoveryRequest{
		Dataset:     ds,
		Variables:   vars,
		Constraints: domain.NewCausalGraphConstraints(),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"x->y", "x->w", "y->w"}, edges(result))
}

func TestPC_HonoursConstraints(t *testing.T) {
	ds, vars := chainDataset()
	alg := New(DefaultConfig(), zap.NewNop())

	constraints := domain.CausalGraphConstraints{
		Causes: []string{"w"},
		ManualRelationships: []domain.Relationship{
			// forbids x->y, so the edge is oriented y->x
			{Source: vars[0], Target: vars[1], Reason: domain.ManualRelationshipReasonPinned},
		},
	}

	result, err := alg.Discover(context.Background(), ports.DiscoveryRequest{
		Dataset:     ds,
		Variables:   vars,
		Constraints: constraints,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"y->x", "w->y"}, edges(result))
	assert.Equal(t, constraints, result.Constraints)
}

func TestPC_RemovedRelationshipDropsEdge(t *testing.T) {
	ds, vars := chainDataset()
	alg := New(DefaultConfig(), zap.NewNop())

	result, err := alg.Discover(context.Background(), ports.DiscoveryRequest{
		Dataset:   ds,
		Variables: vars,
		Constraints: domain.CausalGraphConstraints{
			ManualRelationships: []domain.Relationship{
				{Source: vars[1], Target: vars[2], Reason: domain.ManualRelationshipReasonRemoved},
			},
		},
	}, nil)
	require.NoError(t, err)

	assert.NotContains(t, edges(result), "y->w")
	assert.NotContains(t, edges(result), "w->y")
}

func TestPC_MissingColumn(t *testing.T) {
	ds, vars := chainDataset()
	vars = append(vars, domain.CausalVariable{ColumnName: "missing"})

	_, err := New(DefaultConfig(), zap.NewNop()).Discover(context.Background(), ports.DiscoveryRequest{
		Dataset:   ds,
		Variables: vars,
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "missing" not found`)
}

func TestPC_TooFewRows(t *testing.T) {
	ds := domain.Dataset{Columns: []domain.Column{
		{Name: "a", Values: []float64{1, 2, 3}},
		{Name: "b", Values: []float64{2, 4, 7}},
	}}

	_, err := New(DefaultConfig(), zap.NewNop()).Discover(context.Background(), ports.DiscoveryRequest{
		Dataset:   ds,
		Variables: []domain.CausalVariable{{ColumnName: "a"}, {ColumnName: "b"}},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows")
}

func TestPC_Cancelled(t *testing.T) {
	ds, vars := chainDataset()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(DefaultConfig(), zap.NewNop()).Discover(ctx, ports.DiscoveryRequest{
		Dataset:   ds,
		Variables: vars,
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestForbiddenEdges(t *testing.T) {
	vars := []domain.CausalVariable{{ColumnName: "a"}, {ColumnName: "b"}, {ColumnName: "c"}}
	forbidden := forbiddenEdges(vars, domain.CausalGraphConstraints{
		Effects: []string{"c"},
		ManualRelationships: []domain.Relationship{
			{Source: vars[0], Target: vars[1]},
			{Source: vars[0], Target: vars[0]},
			{Source: vars[0], Target: domain.CausalVariable{ColumnName: "unknown"}},
		},
	})

	assert.True(t, forbidden[0][1])
	assert.False(t, forbidden[1][0])
	assert.False(t, forbidden[0][0])
	assert.True(t, forbidden[2][0])
	assert.True(t, forbidden[2][1])
	assert.False(t, forbidden[0][2])
}

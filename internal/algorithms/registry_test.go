package algorithms

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/ports"
)

type stubAlgorithm struct {
	name domain.Algorithm
}

func (s stubAlgorithm) Name() domain.Algorithm { return s.name }

func (s stubAlgorithm) Discover(ctx context.Context, req ports.DiscoveryRequest, progress ports.ProgressFunc) (*domain.DiscoveryResult, error) {
	return &domain.DiscoveryResult{Algorithm: s.name}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(stubAlgorithm{name: domain.AlgorithmPC}, stubAlgorithm{name: domain.AlgorithmDECI})

	a, err := r.Get(domain.AlgorithmPC)
	require.NoError(t, err)
	assert.Equal(t, domain.AlgorithmPC, a.Name())

	_, err = r.Get(domain.AlgorithmNOTEARS)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
	assert.Contains(t, err.Error(), "NOTEARS")

	assert.Equal(t, []domain.Algorithm{domain.AlgorithmDECI, domain.AlgorithmPC}, r.Names())
}

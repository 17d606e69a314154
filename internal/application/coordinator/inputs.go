package coordinator

import (
	"context"
	"fmt"
	"reflect"

	"github.com/showwhy/discoverd/internal/domain"
	"github.com/showwhy/discoverd/internal/state"
)

// Inputs is a snapshot of the session cells a discovery run depends on
type Inputs struct {
	Dataset     domain.Dataset
	Variables   []domain.CausalVariable
	Constraints domain.CausalGraphConstraints
	Algorithm   domain.Algorithm
	DECIParams  domain.DECIParams
	AutoRun     bool
}

// Params returns the algorithm parameters, only set for DECI
func (in Inputs) Params() *domain.DECIParams {
	if in.Algorithm != domain.AlgorithmDECI {
		return nil
	}
	params := in.DECIParams
	return &params
}

// Equal reports whether two snapshots hold the same inputs
func (in Inputs) Equal(other Inputs) bool {
	return reflect.DeepEqual(in, other)
}

// Action is the reaction to an input change
type Action struct {
	// Reset, when set, replaces the result before any run completes
	Reset *domain.ResultState

	ResetProgress bool
	Run           bool
}

// OnInputsChanged decides how the session reacts to new inputs
func OnInputsChanged(in Inputs) Action {
	var action Action

	if len(in.Variables) > 0 {
		action.Reset = &domain.ResultState{
			Graph: domain.CausalGraph{
				Variables:     in.Variables,
				Relationships: []domain.Relationship{},
				Constraints:   DeriveConstraints(in.Variables, in.Constraints),
				Algorithm:     in.Algorithm,
			},
		}
	}

	if in.AutoRun {
		action.ResetProgress = true
		action.Run = true
	}

	return action
}

// LoadInputs reads the input cells of a session
func LoadInputs(ctx context.Context, store *state.Store) (Inputs, error) {
	var in Inputs
	var err error

	if in.Dataset, err = state.Get(ctx, store, state.Dataset); err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}

	variables, err := state.Get(ctx, store, state.Variables)
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}
	inModel, err := state.Get(ctx, store, state.InModel)
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}
	in.Variables = state.InModelVariables(variables, inModel)

	if in.Constraints, err = state.Get(ctx, store, state.Constraints); err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}
	if in.Algorithm, err = state.Get(ctx, store, state.Algorithm); err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}
	if in.DECIParams, err = state.Get(ctx, store, state.DECIParams); err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}
	if in.AutoRun, err = state.Get(ctx, store, state.AutoRun); err != nil {
		return Inputs{}, fmt.Errorf("failed to load inputs: %w", err)
	}

	return in, nil
}

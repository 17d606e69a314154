package sessions

import (
	"errors"
	"fmt"
	"math"

	"github.com/showwhy/discoverd/internal/domain"
)

// ErrInvalidInput is wrapped by every validation failure
var ErrInvalidInput = errors.New("invalid input")

// baseDistributionTypes are the DECI noise models
var baseDistributionTypes = map[string]bool{
	"gaussian": true,
	"spline":   true,
}

// Validator validates session inputs
type Validator struct{}

// NewValidator creates a new input validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateDataset validates a dataset before it is stored
func (v *Validator) ValidateDataset(ds domain.Dataset) error {
	rows := ds.Rows()
	names := make(map[string]bool, len(ds.Columns))

	for i, col := range ds.Columns {
		if col.Name == "" {
			return fmt.Errorf("%w: column %d has no name", ErrInvalidInput, i)
		}
		if names[col.Name] {
			return fmt.Errorf("%w: duplicate column: %s", ErrInvalidInput, col.Name)
		}
		names[col.Name] = true

		if len(col.Values) != rows {
			return fmt.Errorf("%w: column %s has %d values, expected %d",
				ErrInvalidInput, col.Name, len(col.Values), rows)
		}
		for _, value := range col.Values {
			if math.IsInf(value, 0) {
				return fmt.Errorf("%w: column %s contains an infinite value", ErrInvalidInput, col.Name)
			}
		}
	}

	return nil
}

// ValidateInputs validates the merged inputs of a session update
func (v *Validator) ValidateInputs(
	variables []domain.CausalVariable,
	inModel []string,
	constraints domain.CausalGraphConstraints,
	algorithm domain.Algorithm,
	params domain.DECIParams,
) error {
	columns := make(map[string]bool, len(variables))
	for i, variable := range variables {
		if variable.ColumnName == "" {
			return fmt.Errorf("%w: variable %d has no column name", ErrInvalidInput, i)
		}
		if columns[variable.ColumnName] {
			return fmt.Errorf("%w: duplicate variable: %s", ErrInvalidInput, variable.ColumnName)
		}
		columns[variable.ColumnName] = true
	}

	for _, name := range inModel {
		if !columns[name] {
			return fmt.Errorf("%w: in-model variable %s is not defined", ErrInvalidInput, name)
		}
	}

	for _, rel := range constraints.ManualRelationships {
		if err := v.validateRelationship(rel); err != nil {
			return err
		}
	}

	if !algorithm.Valid() {
		return fmt.Errorf("%w: unknown algorithm: %s", ErrInvalidInput, algorithm)
	}

	return v.validateDECIParams(params)
}

// validateRelationship validates a single manual relationship
func (v *Validator) validateRelationship(rel domain.Relationship) error {
	if rel.Source.ColumnName == "" || rel.Target.ColumnName == "" {
		return fmt.Errorf("%w: relationship endpoints are required", ErrInvalidInput)
	}

	if rel.Source.ColumnName == rel.Target.ColumnName {
		return fmt.Errorf("%w: relationship %s relates a variable to itself", ErrInvalidInput, rel.Key())
	}

	if rel.Reason != "" && !rel.Reason.Valid() {
		return fmt.Errorf("%w: relationship %s has unknown reason %s", ErrInvalidInput, rel.Key(), rel.Reason)
	}

	return nil
}

func (v *Validator) validateDECIParams(p domain.DECIParams) error {
	if !baseDistributionTypes[p.ModelOptions.BaseDistributionType] {
		return fmt.Errorf("%w: unknown base distribution type: %s",
			ErrInvalidInput, p.ModelOptions.BaseDistributionType)
	}
	if p.ModelOptions.SparsityLambda < 0 {
		return fmt.Errorf("%w: sparsity lambda must not be negative", ErrInvalidInput)
	}
	if p.TrainingOptions.MaxSteps <= 0 {
		return fmt.Errorf("%w: max steps must be positive", ErrInvalidInput)
	}
	if p.TrainingOptions.LearningRate <= 0 {
		return fmt.Errorf("%w: learning rate must be positive", ErrInvalidInput)
	}
	if p.TrainingOptions.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidInput)
	}
	if p.ATEOptions.Samples <= 0 {
		return fmt.Errorf("%w: ATE samples must be positive", ErrInvalidInput)
	}
	return nil
}

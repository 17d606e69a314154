package state

import (
	"time"

	"github.com/showwhy/discoverd/internal/domain"
)

// Session cells
var (
	// CreatedAt marks the session as existing in the backend
	CreatedAt = NewCell("created_at", func() time.Time {
		return time.Time{}
	})

	Dataset = NewCell("dataset", func() domain.Dataset {
		return domain.Dataset{Columns: []domain.Column{}}
	})

	Variables = NewCell("variables", func() []domain.CausalVariable {
		return []domain.CausalVariable{}
	})

	// InModel holds the column names of variables included in the model
	InModel = NewCell("in_model", func() []string {
		return []string{}
	})

	Constraints = NewCell("constraints", domain.NewCausalGraphConstraints)

	Algorithm = NewCell("algorithm", func() domain.Algorithm {
		return domain.AlgorithmPC
	})

	DECIParams = NewCell("deci_params", domain.DefaultDECIParams)

	AutoRun = NewCell("auto_run", func() bool {
		return false
	})

	Result = NewCell("result", domain.EmptyResultState)

	// LoadingMessage is empty when nothing is loading
	LoadingMessage = NewCell("loading_message", func() string {
		return ""
	})

	// ErrorMessage is empty when there is no error
	ErrorMessage = NewCell("error_message", func() string {
		return ""
	})
)

// InModelVariables returns the variables whose column is in the model, in
// variable order.
func InModelVariables(variables []domain.CausalVariable, inModel []string) []domain.CausalVariable {
	included := make(map[string]bool, len(inModel))
	for _, name := range inModel {
		included[name] = true
	}

	result := make([]domain.CausalVariable, 0, len(inModel))
	for _, v := range variables {
		if included[v.ColumnName] {
			result = append(result, v)
		}
	}
	return result
}

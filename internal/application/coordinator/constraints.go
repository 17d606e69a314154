package coordinator

import "github.com/showwhy/discoverd/internal/domain"

// DerivedRelationships returns the structural constraints implied by
// variable lineage. For every ordered pair of distinct variables (a, b) and
// every column c that a is derived from, a->b is emitted when b is also
// derived from c or a disallows b's column. Duplicates are kept.
func DerivedRelationships(variables []domain.CausalVariable) []domain.Relationship {
	result := make([]domain.Relationship, 0)
	for i, source := range variables {
		for _, column := range source.DerivedFrom {
			for j, target := range variables {
				if i == j {
					continue
				}
				if target.IsDerivedFrom(column) || source.Disallows(target.ColumnName) {
					result = append(result, domain.Relationship{
						Source: source,
						Target: target,
					})
				}
			}
		}
	}
	return result
}

// DeriveConstraints builds the constraints handed to a discovery algorithm.
// Flipped and pinned manual relationships are inverted, other manual
// relationships pass through, and derived relationships follow them.
func DeriveConstraints(variables []domain.CausalVariable, user domain.CausalGraphConstraints) domain.CausalGraphConstraints {
	derived := DerivedRelationships(variables)

	manual := make([]domain.Relationship, 0, len(user.ManualRelationships)+len(derived))
	for _, rel := range user.ManualRelationships {
		if rel.IsFlippedOrPinned() {
			manual = append(manual, rel.Invert())
			continue
		}
		manual = append(manual, rel)
	}
	manual = append(manual, derived...)

	constraints := user
	constraints.ManualRelationships = manual
	return constraints
}

package domain

import "slices"

// CausalVariable is a dataset column taking part in causal discovery
type CausalVariable struct {
	ColumnName string `json:"columnName"`
	Name       string `json:"name,omitempty"`

	// DerivedFrom lists the raw columns this variable was computed from
	DerivedFrom []string `json:"derivedFrom,omitempty"`

	// DisallowedRelationships lists columns this variable must not be related to
	DisallowedRelationships []string `json:"disallowedRelationships,omitempty"`
}

// IsDerivedFrom reports whether column is part of the variable's lineage
func (v CausalVariable) IsDerivedFrom(column string) bool {
	return slices.Contains(v.DerivedFrom, column)
}

// Disallows reports whether the variable blocks relationships with column
func (v CausalVariable) Disallows(column string) bool {
	return slices.Contains(v.DisallowedRelationships, column)
}

// ManualRelationshipReason records why a user touched a relationship
type ManualRelationshipReason string

const (
	ManualRelationshipReasonRemoved ManualRelationshipReason = "Removed"
	ManualRelationshipReasonFlipped ManualRelationshipReason = "Flipped"
	ManualRelationshipReasonPinned  ManualRelationshipReason = "Pinned"
)

// Valid reports whether the reason is one of the known values
func (r ManualRelationshipReason) Valid() bool {
	switch r {
	case ManualRelationshipReasonRemoved, ManualRelationshipReasonFlipped, ManualRelationshipReasonPinned:
		return true
	}
	return false
}

// Relationship is a directed edge between two causal variables
type Relationship struct {
	Source CausalVariable           `json:"source"`
	Target CausalVariable           `json:"target"`
	Reason ManualRelationshipReason `json:"reason,omitempty"`
	Weight *float64                 `json:"weight,omitempty"`
}

// Invert returns the relationship with source and target swapped.
// Every other field is kept.
func (r Relationship) Invert() Relationship {
	inverted := r
	inverted.Source, inverted.Target = r.Target, r.Source
	return inverted
}

// IsFlippedOrPinned reports whether the relationship is stored inverted
// relative to the user's intent.
func (r Relationship) IsFlippedOrPinned() bool {
	return r.Reason == ManualRelationshipReasonFlipped || r.Reason == ManualRelationshipReasonPinned
}

// Key identifies the relationship direction by column names
func (r Relationship) Key() string {
	return r.Source.ColumnName + "->" + r.Target.ColumnName
}

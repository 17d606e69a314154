// Package domain defines the causal discovery data model.
//
// It contains:
//   - Causal variables, relationships and their manual reasons
//   - Discovery constraints and algorithm identifiers
//   - Datasets handed to discovery algorithms
//   - Discovery results and the session result state
//   - Events published on lifecycle transitions
package domain

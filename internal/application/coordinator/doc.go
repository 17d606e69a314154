// Package coordinator implements the discovery run coordinator of a session.
//
// The coordinator:
//   - Derives discovery constraints from variable lineage and user input
//   - Launches discovery runs, cancelling the previously tracked run first
//   - Tracks progress and reconciles results and errors into session state
//   - Reacts to input changes by reframing the result and, in auto-run
//     mode, starting a new run
//
// At most one run is tracked at a time. A superseded run may still be
// computing in the background, but it can no longer write session state.
package coordinator

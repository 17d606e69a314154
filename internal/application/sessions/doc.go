// Package sessions manages causal discovery sessions.
//
// Each session owns a state store and a discovery coordinator. The manager:
//   - Creates, restores, lists and deletes sessions
//   - Validates input updates and applies them to session state
//   - Launches discovery runs in the background, bound to the session
//   - Reaps sessions that have been idle for longer than the session TTL
package sessions

// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/sessions/:id/ws to receive the lifecycle
// events of one session: state changes, discovery progress and results.
package websocket

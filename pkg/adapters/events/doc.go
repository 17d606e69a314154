// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, fanned out to every subscriber
//   - memory: In-process subscribers for single-instance use and tests
package events

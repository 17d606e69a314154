// Package storage provides state cell backends.
//
// Implementations:
//   - redis: Redis strings with TTL
//   - memory: In-memory map for single-process use and tests
package storage

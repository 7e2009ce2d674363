//go:build integration

// Package containers provides testcontainers-based fixtures for integration tests.
package containers

import (
	"sync"
	"testing"
)

var (
	postgresOnce sync.Once
	shared       *PostgresContainer
)

// SharedPostgres starts one Postgres container per test binary and reuses it.
// Ryuk reaps the container when the process exits.
func SharedPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	postgresOnce.Do(func() {
		shared = NewPostgresContainer(t)
	})
	return shared
}

package scan

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// ScopedConnection is a live connection scope obtained for the duration of
// one scan. Concurrent column queries borrow child connections from the
// underlying pool; Release returns the scope without closing the pool.
type ScopedConnection interface {
	// DB returns the pooled handle used for all queries within the scope.
	DB() *sqlx.DB
	// Dialect identifies the SQL dialect of the target ("postgres", ...).
	Dialect() string
	// Release ends the scope. Safe to call once; usually deferred.
	Release()
}

// ConnectionProvider hands out connection scopes by connection id.
type ConnectionProvider interface {
	// Acquire opens a connection scope for the named connection.
	Acquire(ctx context.Context, connectionID string) (ScopedConnection, error)
	// IsValid reports whether the connection id is known to the provider.
	IsValid(connectionID string) bool
}

// NerEntity is one tagged value returned by the NER service.
type NerEntity struct {
	Value string  `json:"value"`
	Type  string  `json:"type"`
	Score float64 `json:"score"`
}

// NerClient calls the external named-entity-recognition service. Tag returns
// one entity per recognized value; values the service does not recognize are
// absent from the result.
type NerClient interface {
	Tag(ctx context.Context, values []string, piiTypes []string) ([]NerEntity, error)
}

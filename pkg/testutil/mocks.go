// Package testutil provides shared fakes for unit tests: connection scopes
// over sqlmock handles, a static connection provider, and a scriptable NER
// client.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	errs "github.com/dbsentinel/piiscan/internal/errors"
	"github.com/dbsentinel/piiscan/pkg/scan"
)

// MockScopedConnection wraps an existing handle (usually sqlmock-backed) as a
// scan.ScopedConnection.
type MockScopedConnection struct {
	Handle       *sqlx.DB
	DialectName  string
	ReleaseCount atomic.Int32
}

func (m *MockScopedConnection) DB() *sqlx.DB    { return m.Handle }
func (m *MockScopedConnection) Dialect() string { return m.DialectName }
func (m *MockScopedConnection) Release()        { m.ReleaseCount.Add(1) }

// NewMockConnection wraps a raw sqlx handle with the given dialect.
func NewMockConnection(db *sqlx.DB, dialect string) *MockScopedConnection {
	return &MockScopedConnection{Handle: db, DialectName: dialect}
}

// MockConnectionProvider serves pre-registered connections by id.
type MockConnectionProvider struct {
	mu          sync.Mutex
	connections map[string]*MockScopedConnection
	AcquireErr  error
}

// NewMockConnectionProvider creates an empty provider.
func NewMockConnectionProvider() *MockConnectionProvider {
	return &MockConnectionProvider{connections: make(map[string]*MockScopedConnection)}
}

// Register binds a connection id to a scope.
func (p *MockConnectionProvider) Register(id string, conn *MockScopedConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connections[id] = conn
}

func (p *MockConnectionProvider) IsValid(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.connections[id]
	return ok
}

func (p *MockConnectionProvider) Acquire(ctx context.Context, id string) (scan.ScopedConnection, error) {
	if p.AcquireErr != nil {
		return nil, p.AcquireErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	conn, ok := p.connections[id]
	if !ok {
		return nil, errs.Newf(errs.ErrorTypeInvalidRequest, "unknown connection id %q", id)
	}
	return conn, nil
}

// MockNerClient is a scriptable NER client that records every call.
type MockNerClient struct {
	mu       sync.Mutex
	calls    int
	batches  [][]string
	Entities []scan.NerEntity
	Err      error
	// TagFunc, when set, overrides the canned response.
	TagFunc func(values []string, piiTypes []string) ([]scan.NerEntity, error)
}

// NewMockNerClient creates a client returning the given entities.
func NewMockNerClient(entities ...scan.NerEntity) *MockNerClient {
	return &MockNerClient{Entities: entities}
}

func (m *MockNerClient) Tag(ctx context.Context, values []string, piiTypes []string) ([]scan.NerEntity, error) {
	m.mu.Lock()
	m.calls++
	batch := append([]string(nil), values...)
	m.batches = append(m.batches, batch)
	fn := m.TagFunc
	entities, err := m.Entities, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(values, piiTypes)
	}
	return entities, err
}

// Calls returns the number of Tag invocations.
func (m *MockNerClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Batches returns the recorded value batches.
func (m *MockNerClient) Batches() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.batches...)
}

var (
	_ scan.ConnectionProvider = (*MockConnectionProvider)(nil)
	_ scan.NerClient          = (*MockNerClient)(nil)
)

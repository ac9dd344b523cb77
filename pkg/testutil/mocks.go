package testutil

import (
	"context"
	"database/sql/driver"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// MockDB wraps sqlmock for easier testing
type MockDB struct {
	DB   *sqlx.DB
	Mock sqlmock.Sqlmock
}

// NewMockDB creates a new mock database for unit testing. The mock is
// closed and its expectations verified when the test finishes.
//
// Usage:
//
//	mockDB := testutil.NewMockDB(t)
//	mockDB.ExpectQuery("SELECT").WillReturnRows(...)
//	store := repository.NewPostgresStore(database.Wrap(mockDB.DB, log))
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	m := &MockDB{
		DB:   sqlx.NewDb(db, "postgres"),
		Mock: mock,
	}
	t.Cleanup(func() {
		m.ExpectationsWereMet(t)
		_ = m.DB.Close()
	})
	return m
}

// ExpectQuery sets up an expected query
func (m *MockDB) ExpectQuery(query string) *sqlmock.ExpectedQuery {
	return m.Mock.ExpectQuery(regexp.QuoteMeta(query))
}

// ExpectExec sets up an expected exec
func (m *MockDB) ExpectExec(query string) *sqlmock.ExpectedExec {
	return m.Mock.ExpectExec(regexp.QuoteMeta(query))
}

// ExpectBegin sets up an expected transaction begin
func (m *MockDB) ExpectBegin() *sqlmock.ExpectedBegin {
	return m.Mock.ExpectBegin()
}

// ExpectCommit sets up an expected commit
func (m *MockDB) ExpectCommit() *sqlmock.ExpectedCommit {
	return m.Mock.ExpectCommit()
}

// ExpectRollback sets up an expected rollback
func (m *MockDB) ExpectRollback() *sqlmock.ExpectedRollback {
	return m.Mock.ExpectRollback()
}

// ExpectItemLock expects the transaction start and per-item advisory lock
// that open every item unit of work.
func (m *MockDB) ExpectItemLock(itemID string) {
	m.Mock.ExpectBegin()
	m.Mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs(itemID).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

// ExpectationsWereMet verifies all expectations were met
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	if err := m.Mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled mock expectations: %v", err)
	}
}

// MockRows creates a new mock rows object
func MockRows(columns ...string) *sqlmock.Rows {
	return sqlmock.NewRows(columns)
}

// AnyTime is a matcher for any time.Time value
type AnyTime struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyTime) Match(v driver.Value) bool {
	_, ok := v.(time.Time)
	return ok
}

// AnyUUID is a matcher for any UUID string
type AnyUUID struct{}

// Match satisfies the sqlmock.Argument interface
func (a AnyUUID) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	matched, _ := regexp.MatchString(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`, s)
	return matched
}

// DecimalArg matches a decimal driver value numerically, regardless of scale.
type DecimalArg string

// Match satisfies the sqlmock.Argument interface
func (d DecimalArg) Match(v driver.Value) bool {
	want, err := decimal.NewFromString(string(d))
	if err != nil {
		return false
	}
	var got decimal.Decimal
	switch x := v.(type) {
	case string:
		got, err = decimal.NewFromString(x)
	case []byte:
		got, err = decimal.NewFromString(string(x))
	case float64:
		got = decimal.NewFromFloat(x)
	case int64:
		got = decimal.NewFromInt(x)
	default:
		return false
	}
	return err == nil && got.Equal(want)
}

// MockPublisher is a recording event publisher for testing. It is safe for
// concurrent use.
type MockPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
	Err    error
}

// PublishedEvent represents an event that was published
type PublishedEvent struct {
	Type    string
	Payload interface{}
}

// NewMockPublisher creates a new mock publisher
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// Publish records an event for later verification
func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, PublishedEvent{Type: eventType, Payload: payload})
	return nil
}

// Events returns the published events of the given type, or all events when
// eventType is empty.
func (m *MockPublisher) Events(eventType string) []PublishedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedEvent
	for _, e := range m.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// AssertEventPublished checks if an event of the given type was published
func (m *MockPublisher) AssertEventPublished(t *testing.T, eventType string) {
	t.Helper()
	if len(m.Events(eventType)) == 0 {
		t.Errorf("expected event %q to be published, but it wasn't", eventType)
	}
}

// AssertNoEventsPublished checks that no events were published
func (m *MockPublisher) AssertNoEventsPublished(t *testing.T) {
	t.Helper()
	if all := m.Events(""); len(all) > 0 {
		t.Errorf("expected no events, but got %d: %+v", len(all), all)
	}
}

package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock satisfying Provider, for exercising
// callers that depend on catalog persistence without a real database.
type MockProvider struct {
	mock.Mock
}

// SaveMap records the call and returns the configured error.
func (m *MockProvider) SaveMap(ctx context.Context, rec MapRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// SaveChanges records the call and returns the configured error.
func (m *MockProvider) SaveChanges(ctx context.Context, changes []ChangeRecord) error {
	args := m.Called(ctx, changes)
	return args.Error(0)
}

// ListMaps records the call and returns the configured records and error.
func (m *MockProvider) ListMaps(ctx context.Context, limit int) ([]MapRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]MapRecord)
	return recs, args.Error(1)
}

// Close records the call and returns the configured error.
func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

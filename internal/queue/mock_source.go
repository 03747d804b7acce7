package queue

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockSource is a testify mock of Source and LeaseExtender.
type MockSource struct {
	mock.Mock
}

// Receive records the call.
func (m *MockSource) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	args := m.Called(ctx, max, wait)
	msgs, _ := args.Get(0).([]Message)
	return msgs, args.Error(1)
}

// Delete records the call.
func (m *MockSource) Delete(ctx context.Context, ackToken string) error {
	args := m.Called(ctx, ackToken)
	return args.Error(0)
}

// Extend records the call.
func (m *MockSource) Extend(ctx context.Context, ackToken string, d time.Duration) error {
	args := m.Called(ctx, ackToken, d)
	return args.Error(0)
}

// Close records the call.
func (m *MockSource) Close() error {
	args := m.Called()
	return args.Error(0)
}

package stats

import "github.com/stretchr/testify/mock"

type MockUpdater struct {
	mock.Mock
}

func (m *MockUpdater) Incr(name string) {
	m.Called(name)
}
func (m *MockUpdater) Decr(name string) {
	m.Called(name)
}
func (m *MockUpdater) RegisterMetric(name string) {
	m.Called(name)
}
func (m *MockUpdater) Run() {
	m.Called()
}

// NopUpdater satisfies Provider for tests that don't care about metrics.
type NopUpdater struct{}

func (NopUpdater) Incr(string)           {}
func (NopUpdater) Decr(string)           {}
func (NopUpdater) RegisterMetric(string) {}
func (NopUpdater) Run()                  {}

package mocks

import "github.com/stretchr/testify/mock"

// Rand is a testify mock of poller.Rand.
type Rand struct {
	mock.Mock
}

func (m *Rand) Intn(n int) int {
	return m.Called(n).Int(0)
}

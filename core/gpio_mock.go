package core

import (
	"sync"

	"github.com/pkg/errors"
)

// MockGPIODriver is an in-memory GPIODriver used by tests and host simulation
type MockGPIODriver struct {
	mu      sync.Mutex
	pins    map[GPIOPin]bool
	outputs map[GPIOPin]bool
	rising  map[GPIOPin]int
}

// NewMockGPIODriver creates a driver with every pin low
func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{
		pins:    make(map[GPIOPin]bool),
		outputs: make(map[GPIOPin]bool),
		rising:  make(map[GPIOPin]int),
	}
}

func (m *MockGPIODriver) ConfigureOutput(pin GPIOPin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[pin] = true
	m.pins[pin] = false
	return nil
}

func (m *MockGPIODriver) ConfigureInputPullUp(pin GPIOPin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[pin] = true
	return nil
}

func (m *MockGPIODriver) ConfigureInputPullDown(pin GPIOPin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[pin] = false
	return nil
}

func (m *MockGPIODriver) SetPin(pin GPIOPin, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.outputs[pin] {
		return errors.Errorf("pin %d not configured as output", pin)
	}
	if value && !m.pins[pin] {
		m.rising[pin]++
	}
	m.pins[pin] = value
	return nil
}

func (m *MockGPIODriver) GetPin(pin GPIOPin) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[pin], nil
}

func (m *MockGPIODriver) ReadPin(pin GPIOPin) bool {
	v, _ := m.GetPin(pin)
	return v
}

// Drive sets an input level as the outside world would
func (m *MockGPIODriver) Drive(pin GPIOPin, value bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[pin] = value
}

// RisingEdges returns the number of low-to-high transitions written to pin
func (m *MockGPIODriver) RisingEdges(pin GPIOPin) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rising[pin]
}

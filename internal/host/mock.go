package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// MockCore is a thread-safe in-memory core for testing and development. Its
// whole execution state is a frame counter.
type MockCore struct {
	mu          sync.Mutex
	frame       uint64
	failSave    bool
	failRestore bool
}

// NewMockCore creates a mock core at frame 0.
func NewMockCore() *MockCore {
	return &MockCore{}
}

// Step advances the emulated frame counter by n.
func (m *MockCore) Step(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame += n
}

// Frame returns the current frame counter.
func (m *MockCore) Frame() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame
}

// SetFailSnapshot configures the mock to fail all snapshots.
func (m *MockCore) SetFailSnapshot(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSave = fail
}

// SetFailRestore configures the mock to fail all restores.
func (m *MockCore) SetFailRestore(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRestore = fail
}

// Snapshot encodes the frame counter.
func (m *MockCore) Snapshot(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return nil, errors.New("mock core: simulated snapshot failure")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, m.frame)
	return buf, nil
}

// Restore decodes a frame counter written by Snapshot.
func (m *MockCore) Restore(_ context.Context, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRestore {
		return errors.New("mock core: simulated restore failure")
	}
	if len(payload) != 8 {
		return fmt.Errorf("mock core: payload is %d bytes, want 8", len(payload))
	}
	m.frame = binary.BigEndian.Uint64(payload)
	return nil
}

// Ensure MockCore implements Core
var _ Core = (*MockCore)(nil)

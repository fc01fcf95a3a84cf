// Package memory implements the chain storage interface in process memory.
// Used by tests and by nodes running without persistence.
package memory

import (
	"errors"
	"sync"

	"github.com/consortia/blockchain/foundation/blockchain/chain"
)

// Memory keeps the raw block stream in a map keyed by sequence.
type Memory struct {
	mu     sync.RWMutex
	blocks map[uint64][]byte
	last   uint64
	empty  bool
}

// New constructs an empty in-memory storage.
func New() (*Memory, error) {
	return &Memory{
		blocks: make(map[uint64][]byte),
		empty:  true,
	}, nil
}

// Write stores a block's serialization under its sequence.
func (m *Memory) Write(sequence uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.blocks[sequence] = buf
	if m.empty || sequence > m.last {
		m.last = sequence
		m.empty = false
	}
	return nil
}

// Read returns the serialization stored under the sequence.
func (m *Memory) Read(sequence uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, exists := m.blocks[sequence]
	if !exists {
		return nil, errors.New("block not found")
	}
	return data, nil
}

// ForEach returns an iterator over the stored blocks in sequence order.
func (m *Memory) ForEach() chain.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return &Iterator{storage: m, next: 0, last: m.last, empty: m.empty}
}

// Close releases nothing; the interface requires it.
func (m *Memory) Close() error {
	return nil
}

// Reset drops all stored blocks.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = make(map[uint64][]byte)
	m.empty = true
	m.last = 0
	return nil
}

// Iterator walks the in-memory stream.
type Iterator struct {
	storage *Memory
	next    uint64
	last    uint64
	empty   bool
}

// Next returns the block at the cursor and advances.
func (it *Iterator) Next() (uint64, []byte, error) {
	seq := it.next
	data, err := it.storage.Read(seq)
	it.next++
	return seq, data, err
}

// Done reports whether the cursor passed the last stored block.
func (it *Iterator) Done() bool {
	return it.empty || it.next > it.last
}

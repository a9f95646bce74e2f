// Package cache stores embedding vectors so repeated texts and queries do not
// hit the model server twice.
package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// VectorCache is a key -> vector store. Get reports a miss with ok=false and
// a nil error.
type VectorCache interface {
	Get(ctx context.Context, key string) (vec []float32, ok bool, err error)
	Set(ctx context.Context, key string, vec []float32) error
}

// Memory is an in-process VectorCache
type Memory struct {
	mu   sync.RWMutex
	data map[string][]float32
}

// NewMemory creates an empty in-process cache
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]float32)}
}

func (m *Memory) Get(_ context.Context, key string) ([]float32, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]float32(nil), v...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]float32(nil), vec...)
	return nil
}

// Len returns the number of cached vectors
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("cached vector has %d bytes, not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

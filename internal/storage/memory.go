package storage

import (
	"context"
	"strconv"
	"sync"

	logx "pbpwatch/pkg/logx"
)

// Memory is an in-process Store. It backs -dry-run and tests.
type Memory struct {
	mu  sync.Mutex
	log logx.Logger
	doc []byte
	rev int
	n   int
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) SetLogger(log logx.Logger) {
	m.mu.Lock()
	m.log = log
	m.mu.Unlock()
}

func (m *Memory) Load(ctx context.Context) (State, Version, error) {
	if err := ctx.Err(); err != nil {
		return State{}, NoVersion, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return Empty(), NoVersion, nil
	}
	return decodeOrEmpty(m.doc, m.log), m.version(), nil
}

func (m *Memory) Save(ctx context.Context, st State, expected Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := Encode(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if expected != m.version() {
		return ErrConflict
	}
	m.doc = b
	m.rev++
	m.n++
	return nil
}

// Put replaces the stored bytes verbatim, as another writer would.
func (m *Memory) Put(raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = append([]byte(nil), raw...)
	m.rev++
}

// Raw returns the stored bytes (nil if never saved).
func (m *Memory) Raw() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.doc...)
}

// Saves counts successful writes.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.n
}

func (m *Memory) Close() error { return nil }

func (m *Memory) version() Version {
	if m.doc == nil {
		return NoVersion
	}
	return Version(strconv.Itoa(m.rev))
}

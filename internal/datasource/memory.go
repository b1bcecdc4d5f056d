package datasource

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wesleyorama2/volley/internal/record"
)

// Memory is a Source over records held in memory. It backs inline plan
// records and tests.
type Memory struct {
	mu          sync.Mutex
	records     []record.Value
	cursors     []*memoryCursor
	unreachable error
	expireAfter int
	closed      bool
}

// NewMemory returns a source yielding records in the given order.
func NewMemory(records ...record.Value) *Memory {
	return &Memory{records: append([]record.Value(nil), records...)}
}

// SetUnreachable makes Probe and Open fail with a ConnectionError wrapping
// err. A nil err makes the source reachable again.
func (m *Memory) SetUnreachable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = err
}

// Expire invalidates every open cursor, as a store-side timeout would.
func (m *Memory) Expire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.cursors {
		c.expire()
	}
}

// ExpireAfter makes cursors opened later expire once they have delivered
// pages pages.
func (m *Memory) ExpireAfter(pages int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireAfter = pages
}

// Cursors returns the cursors opened so far.
func (m *Memory) Cursors() []Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Cursor, len(m.cursors))
	for i, c := range m.cursors {
		out[i] = c
	}
	return out
}

func (m *Memory) Probe(context.Context) (record.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable != nil {
		return record.Value{}, &ConnectionError{Source: "memory", Err: m.unreachable}
	}
	if len(m.records) == 0 {
		return record.Value{}, ErrNoRecords
	}
	return m.records[0], nil
}

func (m *Memory) Open(context.Context) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unreachable != nil {
		return nil, &ConnectionError{Source: "memory", Err: m.unreachable}
	}
	if m.closed {
		return nil, &ConnectionError{Source: "memory", Err: errors.New("source closed")}
	}
	c := &memoryCursor{records: m.records, expireAfter: m.expireAfter}
	m.cursors = append(m.cursors, c)
	return c, nil
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	cursors := append([]*memoryCursor(nil), m.cursors...)
	m.mu.Unlock()
	for _, c := range cursors {
		_ = c.Close(ctx)
	}
	return nil
}

type memoryCursor struct {
	mu          sync.Mutex
	records     []record.Value
	pos         int
	pages       int
	expireAfter int
	expired     bool
	closed      bool
}

func (c *memoryCursor) expire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = true
}

func (c *memoryCursor) NextPage(ctx context.Context, size int) ([]record.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrCursorClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if size < 1 {
		return nil, false, fmt.Errorf("page size must be at least 1, got %d", size)
	}
	if c.expireAfter > 0 && c.pages >= c.expireAfter {
		c.expired = true
	}
	if c.expired {
		return nil, false, &CursorExpiredError{Source: "memory"}
	}

	end := c.pos + size
	if end > len(c.records) {
		end = len(c.records)
	}
	page := c.records[c.pos:end:end]
	c.pos = end
	c.pages++
	return page, c.pos < len(c.records), nil
}

func (c *memoryCursor) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *memoryCursor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

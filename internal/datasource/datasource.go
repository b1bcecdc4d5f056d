// Package datasource streams records from an external store in bounded pages.
//
// A Source yields one probe record for cataloguing and opens forward-only
// cursors. Backends register themselves by kind, the way database/sql
// drivers do; import a backend package for its side effect to enable it.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wesleyorama2/volley/internal/record"
)

// Source is a queryable external data store bound to one query.
type Source interface {
	// Probe returns one representative record. It returns ErrNoRecords when
	// the query matches nothing.
	Probe(ctx context.Context) (record.Value, error)
	// Open starts a forward-only cursor over the query results.
	Open(ctx context.Context) (Cursor, error)
	// Close releases the connection. It is idempotent.
	Close(ctx context.Context) error
}

// Cursor yields records in the store's natural order. No page is delivered
// twice.
type Cursor interface {
	// NextPage returns up to size records and whether more may follow.
	NextPage(ctx context.Context, size int) ([]record.Value, bool, error)
	// Close releases the server-side cursor. It is idempotent and safe after
	// exhaustion or error.
	Close(ctx context.Context) error
	// Closed reports whether Close has been called.
	Closed() bool
}

var (
	// ErrCursorExpired matches any CursorExpiredError.
	ErrCursorExpired = errors.New("cursor expired")
	// ErrCursorClosed is returned by NextPage after Close.
	ErrCursorClosed = errors.New("cursor closed")
	// ErrNoRecords is returned by Probe when the query matches nothing.
	ErrNoRecords = errors.New("data source has no records")
)

// ConnectionError reports that the backing store could not be reached.
type ConnectionError struct {
	Source string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Source, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CursorExpiredError reports that the store invalidated an open cursor.
// Resuming is unsafe because the read offset is unknown.
type CursorExpiredError struct {
	Source string
	Err    error
}

func (e *CursorExpiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: cursor expired: %v", e.Source, e.Err)
	}
	return e.Source + ": cursor expired"
}

func (e *CursorExpiredError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrCursorExpired) match.
func (e *CursorExpiredError) Is(target error) bool { return target == ErrCursorExpired }

// IsFatal reports whether err must end a run: the store is unreachable or
// the cursor is gone.
func IsFatal(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) || errors.Is(err, ErrCursorExpired)
}

// Query selects records from a store. Which fields matter depends on Kind.
type Query struct {
	Kind       string         `yaml:"kind" json:"kind"`
	URI        string         `yaml:"uri,omitempty" json:"uri,omitempty"`
	Database   string         `yaml:"database,omitempty" json:"database,omitempty"`
	Collection string         `yaml:"collection,omitempty" json:"collection,omitempty"`
	Filter     record.Value   `yaml:"filter,omitempty" json:"filter,omitempty"`
	Records    []record.Value `yaml:"records,omitempty" json:"records,omitempty"`
	// Path is the file read by the file source.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Root is a JSONPath to the records array inside a JSON file.
	Root string `yaml:"root,omitempty" json:"root,omitempty"`
	// BatchSize hints the store's network batch size.
	BatchSize int `yaml:"batchSize,omitempty" json:"batchSize,omitempty"`
}

// Factory creates a Source for a query.
type Factory func(ctx context.Context, q Query) (Source, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available under kind. It panics on duplicates.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	kind = strings.ToLower(kind)
	if _, dup := registry[kind]; dup {
		panic("datasource: Register called twice for kind " + kind)
	}
	registry[kind] = f
}

// Kinds lists the registered backend kinds.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Open creates the Source for q using the backend registered for q.Kind.
func Open(ctx context.Context, q Query) (Source, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(q.Kind)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown data source kind %q (available: %s)", q.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, q)
}

func init() {
	memory := func(_ context.Context, q Query) (Source, error) {
		return NewMemory(q.Records...), nil
	}
	Register("inline", memory)
	Register("memory", memory)
	Register("file", func(_ context.Context, q Query) (Source, error) {
		return NewFile(q.Path, q.Root)
	})
}

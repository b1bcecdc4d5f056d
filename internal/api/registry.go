package api

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/output"
	"github.com/wesleyorama2/volley/internal/runner"
)

// ErrTooManyRuns is returned when the registry is full of active runs.
var ErrTooManyRuns = errors.New("too many runs in progress")

// runEntry tracks one submitted run.
type runEntry struct {
	id        string
	name      string
	createdAt time.Time
	prepared  *runner.Prepared

	done chan struct{}
	mu   sync.Mutex
	doc  *output.Document
	err  error
}

func (e *runEntry) finished() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *runEntry) result() (*output.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doc, e.err
}

// registry holds runs by id. Finished runs are evicted oldest first once
// the cap is reached.
type registry struct {
	mu      sync.Mutex
	runs    map[string]*runEntry
	maxRuns int
}

func newRegistry(maxRuns int) *registry {
	if maxRuns <= 0 {
		maxRuns = 100
	}
	return &registry{runs: make(map[string]*runEntry), maxRuns: maxRuns}
}

// add registers a prepared run under a fresh id.
func (r *registry) add(name string, p *runner.Prepared) (*runEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.runs) >= r.maxRuns && !r.evictLocked() {
		return nil, ErrTooManyRuns
	}
	e := &runEntry{
		id:        uuid.NewString(),
		name:      name,
		createdAt: time.Now(),
		prepared:  p,
		done:      make(chan struct{}),
	}
	r.runs[e.id] = e
	return e, nil
}

func (r *registry) evictLocked() bool {
	var oldest *runEntry
	for _, e := range r.runs {
		if !e.finished() {
			continue
		}
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return false
	}
	delete(r.runs, oldest.id)
	return true
}

func (r *registry) get(id string) (*runEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	return e, ok
}

// list returns runs newest first.
func (r *registry) list() []*runEntry {
	r.mu.Lock()
	out := make([]*runEntry, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.After(out[j].createdAt) })
	return out
}

// start executes the run in the background. The document is built when it
// finishes.
func (r *registry) start(ctx context.Context, e *runEntry) {
	go func() {
		defer close(e.done)
		res, err := e.prepared.Execute(ctx)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.err = err
		if res != nil {
			e.doc = e.prepared.Document(res, false)
			e.doc.RunID = e.id
		}
	}()
}

// stopAll stops every active run and waits for them until ctx is done.
func (r *registry) stopAll(ctx context.Context) {
	for _, e := range r.list() {
		if e.finished() {
			continue
		}
		e.prepared.Run.Stop()
		select {
		case <-e.done:
		case <-ctx.Done():
			return
		}
	}
}

func stateOf(e *runEntry) engine.State {
	return e.prepared.Run.State()
}

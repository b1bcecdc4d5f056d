// Package mongo registers the "mongo" data source kind backed by a MongoDB
// collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/record"
)

// codeCursorNotFound is the server error code for a cursor that timed out or
// was killed.
const codeCursorNotFound = 43

// ConnectTimeout bounds server selection when opening a source.
var ConnectTimeout = 10 * time.Second

func init() {
	datasource.Register("mongo", New)
	datasource.Register("mongodb", New)
}

// Source reads records from one collection.
type Source struct {
	client *mongo.Client
	coll   *mongo.Collection
	filter bson.D
	batch  int32
	name   string

	closeOnce sync.Once
	closeErr  error
}

// New connects to q.URI and pings the server. Unreachable servers yield a
// datasource.ConnectionError.
func New(ctx context.Context, q datasource.Query) (datasource.Source, error) {
	if q.Database == "" || q.Collection == "" {
		return nil, fmt.Errorf("mongo source needs database and collection")
	}
	name := fmt.Sprintf("mongo %s.%s", q.Database, q.Collection)

	filter, err := FilterToBSON(q.Filter)
	if err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(q.URI).
		SetServerSelectionTimeout(ConnectTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &datasource.ConnectionError{Source: name, Err: err}
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, &datasource.ConnectionError{Source: name, Err: err}
	}

	return &Source{
		client: client,
		coll:   client.Database(q.Database).Collection(q.Collection),
		filter: filter,
		batch:  int32(q.BatchSize),
		name:   name,
	}, nil
}

func (s *Source) Probe(ctx context.Context) (record.Value, error) {
	raw, err := s.coll.FindOne(ctx, s.filter).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return record.Value{}, datasource.ErrNoRecords
		}
		return record.Value{}, mapError(s.name, err)
	}
	return FromBSON(raw)
}

func (s *Source) Open(ctx context.Context) (datasource.Cursor, error) {
	opts := options.Find()
	if s.batch > 0 {
		opts.SetBatchSize(s.batch)
	}
	cur, err := s.coll.Find(ctx, s.filter, opts)
	if err != nil {
		return nil, mapError(s.name, err)
	}
	return &cursor{cur: cur, name: s.name}, nil
}

func (s *Source) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Disconnect(ctx)
	})
	return s.closeErr
}

type cursor struct {
	mu     sync.Mutex
	cur    *mongo.Cursor
	name   string
	done   bool
	closed bool
}

func (c *cursor) NextPage(ctx context.Context, size int) ([]record.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, datasource.ErrCursorClosed
	}
	if size < 1 {
		return nil, false, fmt.Errorf("page size must be at least 1, got %d", size)
	}
	if c.done {
		return nil, false, nil
	}

	page := make([]record.Value, 0, size)
	for len(page) < size && c.cur.Next(ctx) {
		v, err := FromBSON(c.cur.Current)
		if err != nil {
			return page, false, err
		}
		page = append(page, v)
	}
	if err := c.cur.Err(); err != nil {
		return page, false, mapError(c.name, err)
	}
	if len(page) < size {
		c.done = true
		return page, false, nil
	}
	// A live server cursor id means another batch may follow.
	return page, c.cur.RemainingBatchLength() > 0 || c.cur.ID() != 0, nil
}

func (c *cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.cur.Close(ctx)
}

func (c *cursor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mapError classifies driver errors into the data source taxonomy. A
// cancelled context is returned as is so a stopped run is not fatal.
func mapError(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorCode(codeCursorNotFound) {
		return &datasource.CursorExpiredError{Source: name, Err: err}
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return &datasource.ConnectionError{Source: name, Err: err}
	}
	return fmt.Errorf("%s: %w", name, err)
}

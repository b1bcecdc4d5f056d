// Package sqlsource registers the "postgres", "mysql" and "sqlite" data
// source kinds. The collection names a table; the filter becomes equality
// predicates.
package sqlsource

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wesleyorama2/volley/internal/datasource"
	"github.com/wesleyorama2/volley/internal/record"
)

// Dialect describes the SQL differences between supported stores.
type Dialect struct {
	Kind   string
	Driver string
	// Positional reports $1-style placeholders instead of ?.
	Positional bool
	quote      byte
}

var dialects = map[string]Dialect{
	"postgres": {Kind: "postgres", Driver: "postgres", Positional: true, quote: '"'},
	"mysql":    {Kind: "mysql", Driver: "mysql", quote: '`'},
	"sqlite":   {Kind: "sqlite", Driver: "sqlite3", quote: '"'},
}

// PingTimeout bounds the connectivity check when opening a source.
var PingTimeout = 5 * time.Second

func init() {
	for kind := range dialects {
		kind := kind
		datasource.Register(kind, func(ctx context.Context, q datasource.Query) (datasource.Source, error) {
			return New(ctx, kind, q)
		})
	}
	datasource.Register("postgresql", func(ctx context.Context, q datasource.Query) (datasource.Source, error) {
		return New(ctx, "postgres", q)
	})
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (d Dialect) quoteIdent(name string) (string, error) {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if !identRe.MatchString(p) {
			return "", fmt.Errorf("invalid identifier %q", name)
		}
		parts[i] = string(d.quote) + p + string(d.quote)
	}
	return strings.Join(parts, "."), nil
}

func (d Dialect) placeholder(n int) string {
	if d.Positional {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// BuildQuery renders the SELECT for a table and filter. Object filter
// fields become ANDed equality predicates; null values become IS NULL.
func BuildQuery(d Dialect, table string, filter record.Value, limit int) (string, []any, error) {
	qt, err := d.quoteIdent(table)
	if err != nil {
		return "", nil, err
	}

	var (
		preds []string
		args  []any
	)
	switch filter.Kind() {
	case record.KindNull:
	case record.KindObject:
		for _, f := range filter.Fields() {
			col, err := d.quoteIdent(f.Key)
			if err != nil {
				return "", nil, err
			}
			arg, ok := sqlArg(f.Value)
			if !ok {
				return "", nil, fmt.Errorf("filter field %q: %s values are not supported", f.Key, f.Value.Kind())
			}
			if arg == nil {
				preds = append(preds, col+" IS NULL")
				continue
			}
			args = append(args, arg)
			preds = append(preds, col+" = "+d.placeholder(len(args)))
		}
	default:
		return "", nil, fmt.Errorf("sql filter must be an object, got %s", filter.Kind())
	}

	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(qt)
	if len(preds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(preds, " AND "))
	}
	if limit > 0 {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	return b.String(), args, nil
}

func sqlArg(v record.Value) (any, bool) {
	switch v.Kind() {
	case record.KindNull:
		return nil, true
	case record.KindString:
		s, _ := v.AsString()
		return s, true
	case record.KindBool:
		b, _ := v.AsBool()
		return b, true
	case record.KindNumber:
		if i, err := strconv.ParseInt(v.Text(), 10, 64); err == nil {
			return i, true
		}
		f, _ := v.AsFloat()
		return f, true
	default:
		return nil, false
	}
}

// Source reads rows from one table.
type Source struct {
	db      *sql.DB
	dialect Dialect
	query   string
	args    []any
	probe   string
	name    string

	closeOnce sync.Once
	closeErr  error
}

// New opens a pool for the given kind and pings it. An unreachable database
// yields a datasource.ConnectionError.
func New(ctx context.Context, kind string, q datasource.Query) (*Source, error) {
	d, ok := dialects[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported sql kind %q", kind)
	}
	if q.Collection == "" {
		return nil, fmt.Errorf("%s source needs a table in collection", kind)
	}
	query, args, err := BuildQuery(d, q.Collection, q.Filter, 0)
	if err != nil {
		return nil, err
	}
	probe, _, err := BuildQuery(d, q.Collection, q.Filter, 1)
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s table %s", kind, q.Collection)
	db, err := sql.Open(d.Driver, q.URI)
	if err != nil {
		return nil, &datasource.ConnectionError{Source: name, Err: err}
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &datasource.ConnectionError{Source: name, Err: err}
	}

	slog.Debug("connected to sql data source", "kind", kind, "table", q.Collection)

	return &Source{db: db, dialect: d, query: query, args: args, probe: probe, name: name}, nil
}

func (s *Source) Probe(ctx context.Context) (record.Value, error) {
	rows, err := s.db.QueryContext(ctx, s.probe, s.args...)
	if err != nil {
		return record.Value{}, s.mapError(err)
	}
	defer rows.Close()

	sc, err := newScanner(rows)
	if err != nil {
		return record.Value{}, s.mapError(err)
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return record.Value{}, s.mapError(err)
		}
		return record.Value{}, datasource.ErrNoRecords
	}
	return sc.scan(rows)
}

func (s *Source) Open(ctx context.Context) (datasource.Cursor, error) {
	rows, err := s.db.QueryContext(ctx, s.query, s.args...)
	if err != nil {
		return nil, s.mapError(err)
	}
	sc, err := newScanner(rows)
	if err != nil {
		rows.Close()
		return nil, s.mapError(err)
	}
	return &cursor{rows: rows, scanner: sc, src: s}, nil
}

func (s *Source) Close(context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Source) mapError(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return &datasource.ConnectionError{Source: s.name, Err: err}
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

type cursor struct {
	mu      sync.Mutex
	rows    *sql.Rows
	scanner *scanner
	src     *Source
	pending *record.Value
	done    bool
	closed  bool
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
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var page []record.Value
	if c.pending != nil {
		page = append(page, *c.pending)
		c.pending = nil
	}
	for !c.done && len(page) < size {
		v, ok, err := c.next()
		if err != nil {
			return page, false, err
		}
		if !ok {
			break
		}
		page = append(page, v)
	}
	if c.done {
		return page, false, nil
	}

	// Read one row ahead so hasMore is exact.
	v, ok, err := c.next()
	if err != nil {
		return page, false, err
	}
	if !ok {
		return page, false, nil
	}
	c.pending = &v
	return page, true, nil
}

func (c *cursor) next() (record.Value, bool, error) {
	if !c.rows.Next() {
		c.done = true
		if err := c.rows.Err(); err != nil {
			return record.Value{}, false, c.src.mapError(err)
		}
		return record.Value{}, false, nil
	}
	v, err := c.scanner.scan(c.rows)
	if err != nil {
		return record.Value{}, false, c.src.mapError(err)
	}
	return v, true, nil
}

func (c *cursor) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rows.Close()
}

func (c *cursor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

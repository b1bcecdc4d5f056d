package datasource

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/wesleyorama2/volley/internal/record"
	"github.com/wesleyorama2/volley/pkg/jsonpath"
)

// File is a Source over a JSON file. A file whose content is a JSON array
// (or whose Root points at one) yields the array elements; anything else is
// read as newline-delimited JSON, one record per line.
type File struct {
	path string
	root string
}

// NewFile returns a file source. It fails with a ConnectionError when the
// file cannot be read.
func NewFile(path, root string) (*File, error) {
	if path == "" {
		return nil, &ConnectionError{Source: "file", Err: fmt.Errorf("no path given")}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &ConnectionError{Source: "file " + path, Err: err}
	}
	return &File{path: path, root: root}, nil
}

func (f *File) Probe(ctx context.Context) (record.Value, error) {
	cur, err := f.Open(ctx)
	if err != nil {
		return record.Value{}, err
	}
	defer cur.Close(ctx)
	page, _, err := cur.NextPage(ctx, 1)
	if err != nil {
		return record.Value{}, err
	}
	if len(page) == 0 {
		return record.Value{}, ErrNoRecords
	}
	return page[0], nil
}

func (f *File) Open(context.Context) (Cursor, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, &ConnectionError{Source: "file " + f.path, Err: err}
	}

	br := bufio.NewReader(fh)
	first, err := peekNonSpace(br)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	if f.root == "" && first != '[' {
		sc := bufio.NewScanner(br)
		sc.Buffer(make([]byte, 64*1024), 16<<20)
		return &lineCursor{file: fh, scanner: sc, name: f.path}, nil
	}

	dec := json.NewDecoder(br)
	if err := descend(dec, f.root); err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	tok, err := dec.Token()
	if d, ok := tok.(json.Delim); err != nil || !ok || d != '[' {
		fh.Close()
		return nil, fmt.Errorf("%s: records at %q are not an array", f.path, f.root)
	}
	return &arrayCursor{file: fh, dec: dec, name: f.path}, nil
}

func (f *File) Close(context.Context) error { return nil }

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return 0, nil
			}
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

// descend moves dec to the value at root, skipping sibling values one at a
// time so only the records array itself is ever decoded.
func descend(dec *json.Decoder, root string) error {
	path := jsonpath.Normalize(root)
	if path == "" {
		return nil
	}
	for _, seg := range strings.Split(path, ".") {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		d, _ := tok.(json.Delim)
		switch d {
		case '{':
			found := false
			for dec.More() {
				key, err := dec.Token()
				if err != nil {
					return err
				}
				if key == seg {
					found = true
					break
				}
				if err := skipValue(dec); err != nil {
					return err
				}
			}
			if !found {
				return fmt.Errorf("path not found: %s", root)
			}
		case '[':
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 {
				return fmt.Errorf("path not found: %s", root)
			}
			for i := 0; i < idx; i++ {
				if !dec.More() {
					return fmt.Errorf("path not found: %s", root)
				}
				if err := skipValue(dec); err != nil {
					return err
				}
			}
			if !dec.More() {
				return fmt.Errorf("path not found: %s", root)
			}
		default:
			return fmt.Errorf("path not found: %s", root)
		}
	}
	return nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	return dec.Decode(&raw)
}

// arrayCursor decodes one array element per record, so a page holds only
// its own records.
type arrayCursor struct {
	mu     sync.Mutex
	file   *os.File
	dec    *json.Decoder
	name   string
	index  int
	closed bool
}

func (c *arrayCursor) NextPage(ctx context.Context, size int) ([]record.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrCursorClosed
	}
	if size < 1 {
		return nil, false, fmt.Errorf("page size must be at least 1, got %d", size)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var page []record.Value
	for len(page) < size && c.dec.More() {
		var raw json.RawMessage
		if err := c.dec.Decode(&raw); err != nil {
			return page, false, fmt.Errorf("%s: element %d: %w", c.name, c.index, err)
		}
		v, err := record.ParseJSON(raw)
		if err != nil {
			return page, false, fmt.Errorf("%s: element %d: %w", c.name, c.index, err)
		}
		page = append(page, v)
		c.index++
	}
	return page, c.dec.More(), nil
}

func (c *arrayCursor) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.file.Close()
}

func (c *arrayCursor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type lineCursor struct {
	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	name    string
	line    int
	pending *record.Value
	done    bool
	closed  bool
}

// next returns the next non-blank line as a record.
func (c *lineCursor) next() (record.Value, bool, error) {
	for c.scanner.Scan() {
		c.line++
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		v, err := record.ParseJSON(line)
		if err != nil {
			return record.Value{}, false, fmt.Errorf("%s:%d: %w", c.name, c.line, err)
		}
		return v, true, nil
	}
	return record.Value{}, false, c.scanner.Err()
}

func (c *lineCursor) NextPage(ctx context.Context, size int) ([]record.Value, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrCursorClosed
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
			c.done = true
			break
		}
		page = append(page, v)
	}
	if c.done {
		return page, false, nil
	}

	// Look one record ahead so hasMore is exact.
	v, ok, err := c.next()
	if err != nil {
		return page, false, err
	}
	if !ok {
		c.done = true
		return page, false, nil
	}
	c.pending = &v
	return page, true, nil
}

func (c *lineCursor) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.file.Close()
}

func (c *lineCursor) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

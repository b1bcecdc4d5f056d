package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrLocalPath marks a plan that reaches for a local file it may not use.
var ErrLocalPath = errors.New("local file access not allowed")

// PrepareSubmitted is Prepare for a plan received over the network.
// {{env.NAME}} is left unresolved, export is refused and every local file
// must live under dataDir. An empty dataDir refuses local files altogether.
func (p *Plan) PrepareSubmitted(dataDir string) error {
	p.ResolveVariables(nil)
	ApplyDefaults(p)
	if p.Export.File != "" || p.Export.S3 != nil {
		return errors.New("export is not supported for submitted plans; fetch the result from the run")
	}
	if err := p.Confine(dataDir); err != nil {
		return err
	}
	return p.Validate()
}

// Confine checks that every local file the plan reads lies under dir, and
// anchors relative paths there. Symlinks are resolved before the check.
func (p *Plan) Confine(dir string) error {
	type ref struct{ field, path string }
	var refs []ref
	if p.Request.CurlFile != "" {
		refs = append(refs, ref{"request.curlFile", p.Request.CurlFile})
	}
	if p.Request.ResponseSchema != "" {
		refs = append(refs, ref{"request.responseSchema", p.Request.ResponseSchema})
	}
	if p.Source.Kind == "file" && p.Source.Path != "" {
		refs = append(refs, ref{"source.path", p.Source.Path})
	}
	var sqlitePrefix, sqliteQuery string
	if p.Source.Kind == "sqlite" {
		var path string
		sqlitePrefix, path, sqliteQuery = splitSQLiteURI(p.Source.URI)
		if path != "" {
			refs = append(refs, ref{"source.uri", path})
		}
	}
	if len(refs) == 0 {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("%w: %s needs a data directory on the server", ErrLocalPath, refs[0].field)
	}

	root, err := filepath.Abs(dir)
	if err == nil {
		root, err = filepath.EvalSymlinks(root)
	}
	if err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	p.dir = root

	for _, r := range refs {
		if !within(root, p.Path(r.path)) {
			return fmt.Errorf("%w: %s %q is outside the data directory", ErrLocalPath, r.field, r.path)
		}
		if r.field == "source.uri" {
			p.Source.URI = sqlitePrefix + p.Path(r.path) + sqliteQuery
		}
	}
	return nil
}

// splitSQLiteURI splits a sqlite DSN into its "file:" prefix, the database
// path and the query string. In-memory databases have no path.
func splitSQLiteURI(uri string) (prefix, path, query string) {
	path = uri
	if rest, ok := strings.CutPrefix(path, "file:"); ok {
		prefix, path = "file:", rest
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i:]
	}
	if path == ":memory:" || strings.Contains(query, "mode=memory") {
		return prefix, "", query
	}
	return prefix, path, query
}

// within reports whether path, with symlinks resolved, is root or below it.
// A path that does not exist yet is judged by its parent directory.
func within(root, path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if errors.Is(err, os.ErrNotExist) {
		var parent string
		parent, err = filepath.EvalSymlinks(filepath.Dir(abs))
		resolved = filepath.Join(parent, filepath.Base(abs))
	}
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

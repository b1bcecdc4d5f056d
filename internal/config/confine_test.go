package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareSubmitted_EnvNotResolved(t *testing.T) {
	t.Setenv("VOLLEY_TEST_TOKEN", "secret-token")

	plan, err := ParsePlan([]byte(yamlPlan), "plan.yaml")
	require.NoError(t, err)
	require.NoError(t, plan.PrepareSubmitted(""))

	assert.Contains(t, plan.Request.Curl, "https://api.example.com/users")
	assert.Contains(t, plan.Request.Curl, "{{env.VOLLEY_TEST_TOKEN}}")
	assert.NotContains(t, plan.Request.Curl, "secret-token")
}

func TestPrepareSubmitted_RefusesExport(t *testing.T) {
	for _, extra := range []string{"export: {file: out.json}\n", "export: {s3: {bucket: b}}\n"} {
		plan, err := ParsePlan([]byte(yamlPlan+extra), "plan.yaml")
		require.NoError(t, err)
		err = plan.PrepareSubmitted("")
		assert.ErrorContains(t, err, "export is not supported")
		assert.NotErrorIs(t, err, ErrLocalPath)
	}
}

func TestConfine_NoDataDir(t *testing.T) {
	tests := []struct {
		name  string
		plan  Plan
		field string
	}{
		{"file source", Plan{Source: SourceConfig{Kind: "file", Path: "/etc/passwd"}}, "source.path"},
		{"sqlite source", Plan{Source: SourceConfig{Kind: "sqlite", URI: "file:/var/lib/app.db?mode=ro"}}, "source.uri"},
		{"curl file", Plan{Request: RequestConfig{CurlFile: "req.sh"}}, "request.curlFile"},
		{"response schema", Plan{Request: RequestConfig{ResponseSchema: "schema.json"}}, "request.responseSchema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Confine("")
			assert.ErrorIs(t, err, ErrLocalPath)
			assert.ErrorContains(t, err, tt.field)
		})
	}

	inline := Plan{Source: SourceConfig{Kind: "inline"}}
	assert.NoError(t, inline.Confine(""))
	memory := Plan{Source: SourceConfig{Kind: "sqlite", URI: ":memory:"}}
	assert.NoError(t, memory.Confine(""))
}

func TestConfine_DataDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "data")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "records.ndjson"), []byte(`{"id":1}`+"\n"), 0o600))
	secret := filepath.Join(base, "secret.ndjson")
	require.NoError(t, os.WriteFile(secret, []byte(`{"password":"hunter2"}`+"\n"), 0o600))

	plan := Plan{Source: SourceConfig{Kind: "file", Path: "records.ndjson"}}
	require.NoError(t, plan.Confine(dir))
	resolvedDir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolvedDir, "records.ndjson"), plan.Query().Path)

	for _, path := range []string{secret, "../secret.ndjson", filepath.Join(dir, "..", "secret.ndjson")} {
		p := Plan{Source: SourceConfig{Kind: "file", Path: path}}
		assert.ErrorIs(t, p.Confine(dir), ErrLocalPath, path)
	}

	link := filepath.Join(dir, "link.ndjson")
	if err := os.Symlink(secret, link); err == nil {
		p := Plan{Source: SourceConfig{Kind: "file", Path: "link.ndjson"}}
		assert.ErrorIs(t, p.Confine(dir), ErrLocalPath)
	}

	db := Plan{Source: SourceConfig{Kind: "sqlite", URI: "file:app.db?cache=shared"}}
	require.NoError(t, db.Confine(dir))
	assert.Equal(t, "file:"+filepath.Join(resolvedDir, "app.db")+"?cache=shared", db.Source.URI)
}

func TestSplitSQLiteURI(t *testing.T) {
	tests := []struct {
		in, prefix, path, query string
	}{
		{"app.db", "", "app.db", ""},
		{"file:app.db?mode=ro", "file:", "app.db", "?mode=ro"},
		{":memory:", "", "", ""},
		{"file:mem?mode=memory&cache=shared", "file:", "", "?mode=memory&cache=shared"},
	}
	for _, tt := range tests {
		prefix, path, query := splitSQLiteURI(tt.in)
		assert.Equal(t, tt.prefix, prefix, tt.in)
		assert.Equal(t, tt.path, path, tt.in)
		assert.Equal(t, tt.query, query, tt.in)
	}
}

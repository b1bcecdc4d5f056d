package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/volley/internal/metrics"
)

// execute runs a fresh command tree and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func writePlan(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const testPlan = `
name: users
request:
  curl: >-
    curl -X POST '{{target}}/users' -H 'Content-Type: application/json'
    -d '{"name":"${user.name}"}'
source:
  records:
    - user: {name: Ada, age: 36}
    - user: {name: Grace, age: 45}
    - user: {name: Linus, age: 28}
run:
  totalRequests: 3
  batchSize: 2
thresholds:
  http_req_failed: ["rate == 0"]
`

func countingTarget(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestRootHelp(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	assert.Contains(t, out, "volley")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "serve")
}

func TestRoot_BadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "parse", "curl", "https://example.com")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestParseCmd(t *testing.T) {
	out, err := execute(t, "parse", "--json",
		"curl", "-X", "POST", "https://api.example.com/users",
		"-H", "Content-Type: application/json",
		"-d", `{"name":"${name}"}`)
	require.NoError(t, err)

	var tmpl map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &tmpl), out)
	assert.Equal(t, "POST", tmpl["method"])
	assert.Equal(t, "https://api.example.com/users", tmpl["url"])

	out, err = execute(t, "parse", "--no-color", "curl", "https://api.example.com/users/${id}")
	require.NoError(t, err)
	assert.Contains(t, out, "▶ GET https://api.example.com/users/${id}")

	_, err = execute(t, "parse")
	assert.Error(t, err)

	_, err = execute(t, "parse", "curl", "-X", "POST", "https://api.example.com/users")
	assert.Error(t, err)
}

func TestParseCmd_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.sh")
	require.NoError(t, os.WriteFile(path, []byte("curl 'https://api.example.com/items' \\\n  -H 'Accept: application/json'\n"), 0o644))

	out, err := execute(t, "parse", "--format", "yaml", "--file", path)
	require.NoError(t, err)
	var tmpl map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &tmpl), out)
	assert.Equal(t, "https://api.example.com/items", tmpl["url"])
}

func TestReadCapture(t *testing.T) {
	raw, err := readCapture(strings.NewReader("curl https://x"), "-", nil)
	require.NoError(t, err)
	assert.Equal(t, "curl https://x", raw)

	raw, err = readCapture(nil, "", []string{"curl", "-d", `{"a": "it's"}`, "https://x"})
	require.NoError(t, err)
	assert.Equal(t, `curl -d '{"a": "it'\''s"}' https://x`, raw)

	_, err = readCapture(nil, filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestCatalogCmd(t *testing.T) {
	out, err := execute(t, "catalog", "--json", "--record", `{"user":{"name":"Ada","tags":["a"]},"id":7}`)
	require.NoError(t, err)
	var fields []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &fields), out)
	require.NotEmpty(t, fields)
	assert.Equal(t, "user.name", fields[0]["path"])
	assert.Equal(t, "Ada", fields[0]["sample"])

	out, err = execute(t, "catalog", "--no-color", writePlan(t, testPlan))
	require.NoError(t, err)
	assert.Contains(t, out, "user.name")
	assert.Contains(t, out, "user.age")

	_, err = execute(t, "catalog", "--record", "{not json")
	assert.ErrorContains(t, err, "invalid record")

	_, err = execute(t, "catalog")
	assert.Error(t, err)
}

func TestValidateCmd(t *testing.T) {
	path := writePlan(t, testPlan)
	out, err := execute(t, "validate", "--no-color", "--probe", path)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ request capture")
	assert.Contains(t, out, "✓ field user.name")

	bad := writePlan(t, testPlan+`
bindings:
  - slot: header:X-Team
    field: user.team
`)
	out, err = execute(t, "validate", "--no-color", "--probe", bad)
	assert.ErrorIs(t, err, errInvalidPlan)
	assert.Contains(t, out, "✗ field user.team")

	out, err = execute(t, "validate", "--no-color", writePlan(t, "request: {}\n"))
	assert.ErrorIs(t, err, errInvalidPlan)
	assert.Contains(t, out, "✗")
}

func TestRunCmd(t *testing.T) {
	srv, hits := countingTarget(t, http.StatusCreated)
	path := writePlan(t, testPlan)
	exported := filepath.Join(t.TempDir(), "result.yaml")

	out, err := execute(t, "run", path, "--var", "target="+srv.URL, "--json", "--output", exported)
	require.NoError(t, err, out)
	assert.Equal(t, int32(3), hits.Load())

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	assert.Equal(t, "users", doc["name"])
	assert.Equal(t, "completed", doc["state"])
	assert.Equal(t, true, doc["passed"])
	assert.Equal(t, float64(3), doc["report"].(map[string]any)["total"])

	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(data, &y))
	assert.Equal(t, "completed", y["state"])
}

func TestRunCmd_TextAndOverrides(t *testing.T) {
	srv, hits := countingTarget(t, http.StatusOK)
	path := writePlan(t, testPlan)

	out, err := execute(t, "run", path, "--var", "target="+srv.URL, "--no-color", "--requests", "1", "--mode", "Concurrent")
	require.NoError(t, err, out)
	assert.Equal(t, int32(1), hits.Load())
	assert.Contains(t, out, "users")

	_, err = execute(t, "run", path, "--var", "target="+srv.URL, "--batch-size", "0")
	assert.ErrorContains(t, err, "invalid run override")

	_, err = execute(t, "run", path, "--format", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRunCmd_ThresholdFailure(t *testing.T) {
	srv, _ := countingTarget(t, http.StatusInternalServerError)
	path := writePlan(t, testPlan)

	out, err := execute(t, "run", path, "--var", "target="+srv.URL, "--format", "junit")
	assert.ErrorIs(t, err, errRunFailed)
	assert.Contains(t, out, "<testsuites")
	assert.Contains(t, out, "<failure")
}

func TestServeMetrics(t *testing.T) {
	c := metrics.NewCollector()
	c.Observe(metrics.Outcome{StatusCode: http.StatusCreated, Latency: time.Millisecond})

	addr, stop, err := serveMetrics("127.0.0.1:0", c)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `volley_requests_total{code="201"} 1`)
	assert.Contains(t, string(body), "volley_requests_in_flight 0")

	stop()
	_, err = http.Get("http://" + addr.String() + "/metrics")
	assert.Error(t, err)
}

func TestRunCmd_MetricsAddr(t *testing.T) {
	srv, hits := countingTarget(t, http.StatusOK)
	path := writePlan(t, testPlan)

	_, err := execute(t, "run", path, "--var", "target="+srv.URL, "--quiet", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	_, err = execute(t, "run", path, "--var", "target="+srv.URL, "--metrics-addr", "not-an-address")
	assert.ErrorContains(t, err, "metrics listener")
}

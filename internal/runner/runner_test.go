package runner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
)

func loadPlan(t *testing.T, body string) *config.Plan {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	plan, err := config.LoadPlan(path)
	require.NoError(t, err)
	return plan
}

func TestPrepareAndExecute(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
		agents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		w.Header().Set("X-Trace-Id", "abc123")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	plan := loadPlan(t, fmt.Sprintf(`
name: users
request:
  curl: >-
    curl -X POST '%s/users' -H 'Content-Type: application/json'
    -d '{"name":"${user.name}","age":0}'
bindings:
  - slot: body:age
    field: user.age
source:
  records:
    - user: {name: Ada, age: 36}
    - user: {name: Grace, age: 45}
    - user: {name: Linus}
run:
  totalRequests: 5
  batchSize: 2
thresholds:
  http_req_failed: ["rate == 0"]
  http_reqs: ["count >= 5"]
`, srv.URL))

	collector := metrics.NewCollector()
	p, err := Prepare(context.Background(), plan, Options{Collector: collector})
	require.NoError(t, err)

	res, err := p.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, engine.StateCompleted, res.State)
	assert.True(t, res.Exhausted)
	require.Len(t, res.Outcomes, 3)
	assert.Equal(t, []string{
		`{"name":"Ada","age":36}`,
		`{"name":"Grace","age":45}`,
		`{"name":"Linus","age":""}`,
	}, bodies)
	assert.Equal(t, config.DefaultUserAgent, agents[0])
	assert.Equal(t, "abc123", res.Outcomes[0].TraceID)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.InFlight()))
	assert.Equal(t, 3.0, requestsTotal(t, collector, "201"))

	doc := p.Document(res, true)
	assert.Equal(t, "users", doc.Name)
	require.Len(t, doc.Thresholds, 2)
	assert.True(t, doc.Thresholds[0].Passed)
	assert.False(t, doc.Thresholds[1].Passed)
	assert.False(t, doc.Passed)
	assert.Len(t, doc.Outcomes, 3)

	assert.NoError(t, p.Close(context.Background()))
}

func requestsTotal(t *testing.T, c *metrics.Collector, code string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "volley_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "code" && l.GetValue() == code {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestPrepare_BadSchema(t *testing.T) {
	plan := loadPlan(t, `
request:
  curl: curl https://example.com
  responseSchema: missing.json
source:
  records: [{id: 1}]
run:
  totalRequests: 1
`)
	_, err := Prepare(context.Background(), plan, Options{})
	assert.ErrorContains(t, err, "response schema")
}

func TestProbe(t *testing.T) {
	plan := loadPlan(t, `
request:
  curl: curl https://example.com/${id}
source:
  records:
    - {id: 1, user: {name: Ada, admin: true}}
run:
  totalRequests: 1
`)
	cat, err := Probe(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "user.name", "user.admin"}, cat.Paths())

	plan.Source = config.SourceConfig{Kind: "file", Path: filepath.Join(t.TempDir(), "empty.json")}
	require.NoError(t, os.WriteFile(plan.Source.Path, []byte(`[]`), 0o644))
	cat, err = Probe(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, cat)
}

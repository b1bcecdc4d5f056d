package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/metrics"
	"github.com/wesleyorama2/volley/internal/output"
)

func testDocument() *output.Document {
	outcomes := []metrics.Outcome{
		{Sequence: 1, StatusCode: 200, Latency: 12 * time.Millisecond},
		{Sequence: 2, StatusCode: 404, Latency: 8 * time.Millisecond},
	}
	res := &engine.Result{
		Outcomes: outcomes,
		Report:   metrics.Aggregate(outcomes),
		State:    engine.StateCompleted,
		Complete: true,
		Pages:    1,
		Duration: time.Second,
	}
	doc := output.NewDocument("users", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), res, nil, false)
	doc.RunID = "run-1"
	return doc
}

func TestFileExporter(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "nested", "result.json")
	loc, err := (&FileExporter{Path: jsonPath}).Export(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, jsonPath, loc)

	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1", decoded["runId"])

	yamlPath := filepath.Join(dir, "result.yaml")
	_, err = (&FileExporter{Path: yamlPath}).Export(context.Background(), testDocument())
	require.NoError(t, err)
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var y map[string]any
	require.NoError(t, yaml.Unmarshal(data, &y))
	assert.Equal(t, "users", y["name"])
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Exporter_WithClient(t *testing.T) {
	fake := &fakePutter{}
	e := NewS3ExporterWithClient(fake, "results", "")

	loc, err := e.Export(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, "s3://results/volley/users.json", loc)
	assert.Equal(t, "results", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "application/json", aws.ToString(fake.input.ContentType))
	assert.Equal(t, "run-1", fake.input.Metadata["run-id"])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(fake.body, &decoded))
	assert.Equal(t, "completed", decoded["state"])

	fake.err = errors.New("access denied")
	_, err = NewS3ExporterWithClient(fake, "results", "/k.json").Export(context.Background(), testDocument())
	assert.ErrorContains(t, err, "s3://results/k.json")
}

func TestS3Exporter_Endpoint(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			gotBody, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, err := NewS3Exporter(context.Background(), S3Options{
		Bucket:          "results",
		Key:             "runs/users.json",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	loc, err := e.Export(context.Background(), testDocument())
	require.NoError(t, err)
	assert.Equal(t, "s3://results/runs/users.json", loc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/results/runs/users.json", gotPath)
	assert.Contains(t, string(gotBody), `"runId": "run-1"`)
}

func TestNewS3Exporter_NeedsBucket(t *testing.T) {
	_, err := NewS3Exporter(context.Background(), S3Options{})
	assert.Error(t, err)
}

func TestFromPlan(t *testing.T) {
	dir := t.TempDir()
	plan := &config.Plan{
		Name: "users",
		Export: config.ExportConfig{
			File: filepath.Join(dir, "a.json"),
			S3:   &config.S3Config{Bucket: "results", Key: "k.json"},
		},
	}
	settings := config.S3Settings{Region: "eu-west-1", AccessKeyID: "x", SecretAccessKey: "y"}

	exporters, err := FromPlan(context.Background(), plan, settings, filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	require.Len(t, exporters, 3)
	assert.IsType(t, &FileExporter{}, exporters[0])
	assert.IsType(t, &FileExporter{}, exporters[1])
	assert.IsType(t, &S3Exporter{}, exporters[2])

	none, err := FromPlan(context.Background(), &config.Plan{}, settings, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

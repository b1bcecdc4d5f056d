// Package export writes finished run documents to files and object storage.
package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/output"
)

// Exporter delivers a run document and returns where it went.
type Exporter interface {
	Export(ctx context.Context, doc *output.Document) (string, error)
}

// FileExporter writes the document to a local file. The format follows the
// extension: .yaml/.yml for YAML, .xml for JUnit, anything else JSON.
type FileExporter struct {
	Path string
}

// Export implements Exporter.
func (e *FileExporter) Export(_ context.Context, doc *output.Document) (string, error) {
	var buf bytes.Buffer
	if err := output.Encode(&buf, output.FormatForPath(e.Path), doc); err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	if dir := filepath.Dir(e.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	if err := os.WriteFile(e.Path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write result file: %w", err)
	}
	return e.Path, nil
}

// FromPlan builds the exporters a plan asks for. S3 credentials and
// endpoint fall back to the process settings when the plan omits them.
// extraFile, if set, is added as another file destination.
func FromPlan(ctx context.Context, plan *config.Plan, settings config.S3Settings, extraFile string) ([]Exporter, error) {
	var exporters []Exporter

	if plan.Export.File != "" {
		exporters = append(exporters, &FileExporter{Path: plan.Path(plan.Export.File)})
	}
	if extraFile != "" {
		exporters = append(exporters, &FileExporter{Path: extraFile})
	}

	if s := plan.Export.S3; s != nil {
		opts := S3Options{
			Bucket:          s.Bucket,
			Key:             s.Key,
			Region:          firstNonEmpty(s.Region, settings.Region),
			Endpoint:        firstNonEmpty(s.Endpoint, settings.Endpoint),
			AccessKeyID:     settings.AccessKeyID,
			SecretAccessKey: settings.SecretAccessKey,
			UsePathStyle:    settings.UsePathStyle,
		}
		e, err := NewS3Exporter(ctx, opts)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, e)
	}
	return exporters, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

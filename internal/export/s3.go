package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wesleyorama2/volley/internal/output"
)

// PutObjectAPI is the slice of the S3 client the exporter needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3 or S3-compatible destination.
type S3Options struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle is forced on when Endpoint is set.
	UsePathStyle bool
}

// S3Exporter uploads the document as JSON.
type S3Exporter struct {
	client PutObjectAPI
	bucket string
	key    string
}

// NewS3Exporter creates an S3 client from the default AWS config chain.
// Static credentials are used when both keys are given.
func NewS3Exporter(ctx context.Context, opts S3Options) (*S3Exporter, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 export needs a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
		if opts.UsePathStyle {
			o.UsePathStyle = true
		}
	})
	return NewS3ExporterWithClient(client, opts.Bucket, opts.Key), nil
}

// NewS3ExporterWithClient wraps an existing client.
func NewS3ExporterWithClient(client PutObjectAPI, bucket, key string) *S3Exporter {
	return &S3Exporter{client: client, bucket: bucket, key: strings.TrimPrefix(key, "/")}
}

// Export implements Exporter. An empty key becomes volley/<name>.json.
func (e *S3Exporter) Export(ctx context.Context, doc *output.Document) (string, error) {
	key := e.key
	if key == "" {
		key = "volley/" + doc.Name + ".json"
	}

	var buf bytes.Buffer
	if err := output.Encode(&buf, output.FormatJSON, doc); err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	meta := map[string]string{"state": doc.State}
	if doc.RunID != "" {
		meta["run-id"] = doc.RunID
	}
	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json"),
		Metadata:    meta,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload result to s3://%s/%s: %w", e.bucket, key, err)
	}

	location := fmt.Sprintf("s3://%s/%s", e.bucket, key)
	slog.Info("Exported run result", "location", location, "bytes", buf.Len())
	return location, nil
}

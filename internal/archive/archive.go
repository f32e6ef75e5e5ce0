// Package archive uploads run reports to S3-compatible storage so that a
// record of every migration run outlives the terminal it ran in.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/legacygrant/internal/config"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes reports to a bucket. A nil *Archiver is valid and
// stores nothing.
type Archiver struct {
	client      s3Client
	bucket      string
	passphrase  string
	environment string
	logger      *slog.Logger
}

// New returns nil when cfg has no usable S3 settings.
func New(cfg *config.Config, logger *slog.Logger) *Archiver {
	if !cfg.ReportS3.Enabled() {
		return nil
	}
	return &Archiver{
		client:      newS3Client(cfg.ReportS3),
		bucket:      cfg.ReportS3.Bucket,
		passphrase:  cfg.ReportPassphrase,
		environment: cfg.Environment,
		logger:      logger,
	}
}

func newS3Client(cfg config.S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Key returns the object key for a report.
func Key(environment, mode, runID string, encrypted bool) string {
	name := fmt.Sprintf("%s-%s.json", mode, runID)
	if encrypted {
		name += ".enc"
	}
	return path.Join("reports", environment, name)
}

// Store uploads report and returns the key it was written to. The report
// is encrypted first when a passphrase is configured.
func (a *Archiver) Store(ctx context.Context, mode, runID string, report []byte) (string, error) {
	if a == nil {
		return "", nil
	}

	body := report
	encrypted := a.passphrase != ""
	if encrypted {
		sealed, err := Seal(report, a.passphrase)
		if err != nil {
			return "", fmt.Errorf("encrypt report: %w", err)
		}
		body = sealed
	}

	key := Key(a.environment, mode, runID, encrypted)
	contentType := "application/json"
	if encrypted {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload report %s: %w", key, err)
	}

	a.logger.Info("report archived", "bucket", a.bucket, "key", key, "bytes", len(body), "encrypted", encrypted)
	return key, nil
}

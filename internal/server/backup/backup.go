// Package backup exports the stored records of every user to an S3 bucket.
// Records stay encrypted end to end; the export only carries what the
// server already holds.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/server/config"
	"github.com/dmitrijs2005/chatvault/internal/server/models"
	"github.com/google/uuid"
)

var (
	loadDefaultAWSConfig  = awsconfig.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Uploader is the part of *s3.Client the exporter needs.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Source yields every stored record. records.Repository satisfies it.
type Source interface {
	All(ctx context.Context) ([]*models.Record, error)
}

type Observer interface {
	ObserveBackup(records int, err error)
}

// NewS3Client builds a client for the configured endpoint using static
// credentials. Path-style addressing keeps MinIO endpoints working.
func NewS3Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	return newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	}), nil
}

type entry struct {
	UserID    string          `json:"user_id"`
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Doc       json.RawMessage `json:"doc"`
}

type document struct {
	ExportedAt time.Time `json:"exported_at"`
	Records    []entry   `json:"records"`
}

type Exporter struct {
	uploader Uploader
	bucket   string
	source   Source
	observer Observer
	logger   logging.Logger
	now      func() time.Time
}

// NewExporter returns an exporter writing to bucket. observer may be nil.
func NewExporter(u Uploader, bucket string, src Source, obs Observer, l logging.Logger) *Exporter {
	return &Exporter{
		uploader: u,
		bucket:   bucket,
		source:   src,
		observer: obs,
		logger:   logging.OrNop(l).With("module", "backup"),
		now:      time.Now,
	}
}

func objectKey(t time.Time) string {
	return fmt.Sprintf("backups/%d/%02d/%02d/%d-%s.json", t.Year(), t.Month(), t.Day(), t.Unix(), uuid.NewString())
}

// Export uploads one snapshot and returns its object key.
func (e *Exporter) Export(ctx context.Context) (string, error) {
	key, n, err := e.export(ctx)
	if e.observer != nil {
		e.observer.ObserveBackup(n, err)
	}
	if err != nil {
		e.logger.Error(ctx, "backup failed", "error", err)
		return "", err
	}
	e.logger.Info(ctx, "backup uploaded", "key", key, "records", n)
	return key, nil
}

func (e *Exporter) export(ctx context.Context) (string, int, error) {
	rows, err := e.source.All(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("load records: %w", err)
	}

	now := e.now().UTC()
	doc := document{ExportedAt: now, Records: make([]entry, 0, len(rows))}
	for _, r := range rows {
		doc.Records = append(doc.Records, entry{
			UserID:    r.UserID,
			Kind:      r.Kind,
			ID:        r.ID,
			Version:   r.Version,
			UpdatedAt: r.UpdatedAt,
			Doc:       json.RawMessage(r.Doc),
		})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return "", 0, fmt.Errorf("encode backup: %w", err)
	}

	key := objectKey(now)
	_, err = e.uploader.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload backup: %w", err)
	}
	return key, len(rows), nil
}

// Run exports once and then every interval until ctx is done. Failures are
// logged and retried on the next tick. A non-positive interval exports once.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) {
	_, _ = e.Export(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = e.Export(ctx)
		}
	}
}

// Package archive writes pruned ledger rows to S3-compatible object storage.
package archive

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
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GearMarket/app/models"
	"github.com/ManuelReschke/GearMarket/internal/pkg/config"
)

// Archiver persists a batch of ledger rows before they are deleted.
type Archiver interface {
	ArchiveEvents(ctx context.Context, events []models.ProcessedEvent) (string, error)
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores batches as JSON lines objects.
type S3Archiver struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver creates an archiver from the archive configuration
func NewS3Archiver(ctx context.Context, cfg config.Archive) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible stores (MinIO, B2) need path-style URLs
			o.UsePathStyle = true
		}
	})

	log.Infof("[Archive] Ledger archive enabled for bucket: %s", cfg.Bucket)
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, now: time.Now}, nil
}

// ObjectKey returns the key a batch is stored under.
func (a *S3Archiver) ObjectKey(events []models.ProcessedEvent) string {
	t := a.now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/processed-events-%d-%d.jsonl",
		a.prefix, t.Year(), t.Month(), t.Day(), events[0].ID, events[len(events)-1].ID)
}

func (a *S3Archiver) ArchiveEvents(ctx context.Context, events []models.ProcessedEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return "", fmt.Errorf("encode ledger row %d: %w", events[i].ID, err)
		}
	}

	key := a.ObjectKey(events)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	log.Infof("[Archive] Archived %d ledger rows to s3://%s/%s", len(events), a.bucket, key)
	return key, nil
}

package audit

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantguard/pkg/observability"
	"github.com/platinummonkey/tenantguard/pkg/tenancy"
)

var tracer = observability.Tracer("audit")

// ObjectPutter is the subset of the S3 client used by the archiver
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config configures the archive bucket
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
}

// NewS3Client builds an S3 client from cfg, using static credentials when given
// and the default credential chain otherwise
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// S3Archiver uploads a tenant's audit trail as NDJSON, used when offboarding
type S3Archiver struct {
	store  *Store
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
}

// NewS3Archiver creates an archiver
func NewS3Archiver(store *Store, client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		store:  store,
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

// ArchiveResult describes an uploaded archive
type ArchiveResult struct {
	Key      string `json:"key"`
	Entries  int    `json:"entries"`
	Checksum string `json:"checksum_sha256"`
}

// ArchiveTenant uploads every entry of tenantID and returns the object key
func (a *S3Archiver) ArchiveTenant(ctx context.Context, tenantID string) (result *ArchiveResult, err error) {
	ctx, span := tracer.Start(ctx, "audit.ArchiveTenant")
	span.SetAttributes(attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	if tenantID == "" {
		return nil, tenancy.Invalidf("tenant id is required")
	}

	var buf bytes.Buffer
	n, err := a.store.Export(ctx, &buf, SearchFilter{TenantID: tenantID}, ExportFormatNDJSON)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(buf.Bytes())
	checksum := hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s%s/audit-%s.ndjson", a.prefix, tenantID, a.now().UTC().Format("20060102T150405Z"))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(ExportFormatNDJSON.ContentType()),
		Metadata: map[string]string{
			"checksum-sha256": checksum,
			"tenant-id":       tenantID,
			"entry-count":     fmt.Sprintf("%d", n),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload audit archive: %w", err)
	}

	span.SetAttributes(attribute.Int("entries", n))
	return &ArchiveResult{Key: key, Entries: n, Checksum: checksum}, nil
}

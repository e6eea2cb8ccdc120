package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/Avishek-7/eplq-backend/interfaces"
)

// S3Backend stores each record as one JSON object under a key prefix in an
// S3 or compatible bucket.
//
// S3 has no multi-object transaction, so PutBatch is sequential with
// per-object atomicity only; the factory logs this on creation and the
// engine's batching still bounds the partial-visibility window. Single-key
// reads and writes are atomic, which preserves the no-torn-record
// invariant.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 POI store. Credentials are optional; without
// them the backend works against buckets the instance role can reach.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		locationURI: fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region),
	}, nil
}

// Put stores or replaces one record.
func (b *S3Backend) Put(ctx context.Context, rec interfaces.POIRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
	}

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.objectKey(rec.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// PutBatch stores records sequentially; see the type comment for the
// atomicity caveat.
func (b *S3Backend) PutBatch(ctx context.Context, recs []interfaces.POIRecord) error {
	for _, rec := range recs {
		if err := b.Put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a record by id.
func (b *S3Backend) Get(ctx context.Context, id string) (interfaces.POIRecord, error) {
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return interfaces.POIRecord{}, interfaces.ErrPOINotFound
		}
		return interfaces.POIRecord{}, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("failed to read object body: %w", err)
	}

	var rec interfaces.POIRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return interfaces.POIRecord{}, fmt.Errorf("corrupt record %s: %w", id, err)
	}
	return rec, nil
}

// Delete removes one record.
func (b *S3Backend) Delete(ctx context.Context, id string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.objectKey(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Clear removes every record under the prefix.
func (b *S3Backend) Clear(ctx context.Context) error {
	return b.forEachKey(ctx, func(key string) error {
		_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(b.bucketName),
			Key:    aws.String(key),
		})
		return err
	})
}

// Snapshot lists and fetches every record under the prefix.
func (b *S3Backend) Snapshot(ctx context.Context) ([]interfaces.POIRecord, error) {
	var out []interfaces.POIRecord
	err := b.forEachKey(ctx, func(key string) error {
		id := strings.TrimSuffix(path.Base(key), ".json")
		rec, err := b.Get(ctx, id)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// List returns up to limit records, most recently uploaded first.
func (b *S3Backend) List(ctx context.Context, limit int) ([]interfaces.POIRecord, error) {
	recs, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	sortByUploadedAtDesc(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Available checks bucket reachability.
func (b *S3Backend) Available(ctx context.Context) bool {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Debug("S3 backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns the backend identifier.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

func (b *S3Backend) objectKey(id string) string {
	return path.Join(b.prefix, "pois", id+".json")
}

func (b *S3Backend) forEachKey(ctx context.Context, fn func(key string) error) error {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(path.Join(b.prefix, "pois") + "/"),
	}

	var inner error
	err := b.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			if inner = fn(aws.StringValue(obj.Key)); inner != nil {
				return false
			}
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return inner
}

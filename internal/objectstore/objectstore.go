// Package objectstore adapts the S3-compatible object store: listing,
// copy-up, copy-down, and deletion, plus the placeholder and metadata
// operations the webhook router needs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/vaultsync/vaultsync/internal/config"
)

// Entry is one object observed by ListRecursive.
type Entry struct {
	RelOriginal  string // original-case suffix, relative to the listed prefix
	LastModified time.Time
	RealKey      string // full object key including project prefix
}

// Adapter is the blocking Object Store Adapter described by the design:
// every method here does synchronous network I/O and returns a plain
// error on failure so callers can log-and-skip per key.
type Adapter struct {
	client *s3.Client
	bucket string
}

// NewAdapter builds an S3 client against cfg.S3Endpoint (an S3-compatible
// endpoint, not necessarily AWS) using static credentials, following the
// same config.LoadDefaultConfig + custom BaseEndpoint recipe used to talk
// to MinIO-style backends elsewhere in the retrieval pack.
func NewAdapter(ctx context.Context, cfg *config.Config) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3AccessKey, cfg.S3SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = true
	})

	return &Adapter{client: client, bucket: cfg.S3Bucket}, nil
}

// ListRecursive lists every object under prefix and reports its
// original-case relative key (the suffix after prefix), last-modified
// time, and full key.
func (a *Adapter) ListRecursive(ctx context.Context, prefix string) ([]Entry, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var entries []Entry
	var token *string
	for {
		out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(a.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("objectstore: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			rel := strings.TrimPrefix(key, prefix)
			if rel == "" {
				continue
			}
			lm := time.Now().UTC()
			if obj.LastModified != nil {
				lm = obj.LastModified.UTC()
			}
			entries = append(entries, Entry{
				RelOriginal:  rel,
				LastModified: lm,
				RealKey:      key,
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RealKey < entries[j].RealKey })
	return entries, nil
}

// CopyUp uploads localPath to the given object key.
func (a *Adapter) CopyUp(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("objectstore: open %s: %w", localPath, err)
	}
	defer f.Close()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

// CopyDown downloads the object key to localPath, creating parent
// directories as needed. The download lands in a uniquely named temp
// file first so a concurrent download of the same key, or a crash
// mid-transfer, never leaves a corrupt file at localPath.
func (a *Adapter) CopyDown(ctx context.Context, key, localPath string) error {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	tmpPath := filepath.Join(filepath.Dir(localPath), ".vaultsync-dl-"+uuid.New().String())
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, localPath)
}

// Remove deletes the object at key. A missing key is treated as success,
// matching the idempotent-delete requirement.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return fmt.Errorf("objectstore: delete %s: %w", key, err)
	}
	return nil
}

// PutPlaceholder writes a zero-byte object at key, representing an
// otherwise-empty folder.
func (a *Adapter) PutPlaceholder(ctx context.Context, key string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("objectstore: placeholder %s: %w", key, err)
	}
	return nil
}

// IsPrefixEmpty reports whether no objects exist under prefix, used by
// the webhook router's first-touch auto-seed check.
func (a *Adapter) IsPrefixEmpty(ctx context.Context, prefix string) (bool, error) {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(a.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("objectstore: check prefix %s: %w", prefix, err)
	}
	return len(out.Contents) == 0, nil
}

// StampMetadataAndTags re-copies an object onto itself with replaced
// user metadata and tag set, used to record provenance on documents the
// webhook router uploads from Origin.
func (a *Adapter) StampMetadataAndTags(ctx context.Context, key string, metadata map[string]string, tags map[string]string) error {
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(a.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(a.bucket + "/" + key),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return fmt.Errorf("objectstore: stamp metadata %s: %w", key, err)
	}

	if len(tags) == 0 {
		return nil
	}
	tagSet := make([]types.Tag, 0, len(tags))
	for k, v := range tags {
		tagSet = append(tagSet, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, err = a.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket:  aws.String(a.bucket),
		Key:     aws.String(key),
		Tagging: &types.Tagging{TagSet: tagSet},
	})
	if err != nil {
		return fmt.Errorf("objectstore: tag %s: %w", key, err)
	}
	return nil
}

// FindKeysByDocumentID lists objects under prefix and returns any whose
// tags carry the given fv_docid, skipping placeholder objects. Used by
// the webhook router's delete handler to resolve a documentId to keys.
func (a *Adapter) FindKeysByDocumentID(ctx context.Context, prefix, documentID string) ([]string, error) {
	entries, err := a.ListRecursive(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, e := range entries {
		if strings.HasSuffix(e.RealKey, ".placeholder") {
			continue
		}
		out, err := a.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(e.RealKey),
		})
		if err != nil {
			log.Printf("objectstore: get tags for %s: %v", e.RealKey, err)
			continue
		}
		for _, tag := range out.TagSet {
			if aws.ToString(tag.Key) == "fv_docid" && aws.ToString(tag.Value) == documentID {
				matches = append(matches, e.RealKey)
				break
			}
		}
	}
	return matches, nil
}

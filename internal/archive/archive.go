// Package archive keeps a copy of every submitted receipt image in Cloud
// Storage so the ledger row can be traced back to the original photo.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"pettycash/internal/core"
	"pettycash/internal/gcp"
	"pettycash/internal/ocr"
)

// Archiver stores a receipt image and returns its URI.
type Archiver interface {
	Archive(ctx context.Context, image []byte, sub core.Submission) (uri string, err error)
}

// Discard is used when no bucket is configured. It stores nothing.
type Discard struct{}

func (Discard) Archive(context.Context, []byte, core.Submission) (string, error) {
	return "", nil
}

// GCS writes images to a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	now    func() time.Time
}

var _ Archiver = (*GCS)(nil)

// NewGCS creates a client for bucket.
func NewGCS(ctx context.Context, bucket string, creds gcp.Credentials) (*GCS, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("missing bucket name")
	}
	opts, err := creds.ClientOptions(ctx, storage.ScopeReadWrite)
	if err != nil {
		return nil, fmt.Errorf("google credentials: %w", err)
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, now: time.Now}, nil
}

// Archive uploads image under receipts/<period>/<date>-<uuid>.<ext>. The
// write is conditioned on the object not existing, so an object is never
// replaced.
func (g *GCS) Archive(ctx context.Context, image []byte, sub core.Submission) (string, error) {
	contentType := ocr.ContentType(image)
	name := objectName(sub.Month, g.now(), uuid.NewString(), contentType)

	w := g.client.Bucket(g.bucket).Object(name).
		If(storage.Conditions{DoesNotExist: true}).
		NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{
		"pid":       sub.PID,
		"id_number": sub.IDNumber,
		"month":     sub.Month,
	}
	if _, err := w.Write(image); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gs://%s/%s: %w", g.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gs://%s/%s: %w", g.bucket, name, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", g.bucket, name)
	slog.InfoContext(ctx, "Receipt image archived", "uri", uri, "bytes", len(image))
	return uri, nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func objectName(period string, at time.Time, id, contentType string) string {
	segment := strings.Trim(unsafeSegment.ReplaceAllString(strings.TrimSpace(period), "-"), "-.")
	if segment == "" {
		segment = "unknown"
	}
	return fmt.Sprintf("receipts/%s/%s-%s%s", segment, at.UTC().Format("20060102T150405Z"), id, extension(contentType))
}

func extension(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	default:
		return ".jpg"
	}
}

// Package storage archives resolved article text to S3-compatible object
// storage. The archive is optional: with no endpoint configured, uploads
// become no-ops and the pipeline runs without it.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/newsloom/newsloom/internal/config"
)

// Client wraps an S3-compatible object storage client.
type Client struct {
	s3     *s3.Client
	bucket string
}

// Snapshot is an archived full-text capture for one source item.
type Snapshot struct {
	Text []byte
	Meta *SnapshotMeta
}

// SnapshotMeta records where the text came from and how it was resolved.
type SnapshotMeta struct {
	ItemID      uuid.UUID `json:"item_id"`
	URL         string    `json:"url"`
	Method      string    `json:"method"`
	ContentType string    `json:"content_type,omitempty"`
	CapturedAt  time.Time `json:"captured_at"`
	TextHash    string    `json:"text_hash_sha256"`
}

// NewClient creates an S3-compatible storage client. Works against any
// S3-compatible endpoint (MinIO, Oracle Object Storage, AWS).
func NewClient(ctx context.Context, cfg config.S3Config) (*Client, error) {
	if cfg.Endpoint == "" {
		slog.Warn("storage: S3 endpoint not configured, snapshot archive disabled")
		return &Client{bucket: cfg.Bucket}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &cfg.Endpoint
		o.UsePathStyle = true
	})

	return &Client{
		s3:     client,
		bucket: cfg.Bucket,
	}, nil
}

// Configured reports whether uploads will actually go anywhere.
func (c *Client) Configured() bool {
	return c.s3 != nil
}

// StoreSnapshot compresses and uploads the resolved text for a source item,
// alongside a small metadata object describing the capture.
func (c *Client) StoreSnapshot(ctx context.Context, itemID uuid.UUID, articleURL, method, contentType string, text []byte) error {
	if c.s3 == nil {
		return nil
	}

	meta := SnapshotMeta{
		ItemID:      itemID,
		URL:         articleURL,
		Method:      method,
		ContentType: contentType,
		CapturedAt:  time.Now().UTC(),
		TextHash:    sha256sum(text),
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal meta: %w", err)
	}

	compressed, err := gzipCompress(text)
	if err != nil {
		return fmt.Errorf("storage: compress text: %w", err)
	}

	prefix := "snapshots/" + itemID.String()
	uploads := map[string][]byte{
		prefix + "/text.txt.gz": compressed,
		prefix + "/meta.json":   metaJSON,
	}
	for key, body := range uploads {
		_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &c.bucket,
			Key:    &key,
			Body:   bytes.NewReader(body),
		})
		if err != nil {
			return fmt.Errorf("storage: upload %s: %w", key, err)
		}
		slog.Debug("storage: snapshot uploaded", "key", key, "size", len(body))
	}
	return nil
}

// GetSnapshot retrieves the archived text and metadata for a source item.
func (c *Client) GetSnapshot(ctx context.Context, itemID uuid.UUID) (*Snapshot, error) {
	if c.s3 == nil {
		return nil, fmt.Errorf("storage: not configured")
	}

	prefix := "snapshots/" + itemID.String()

	compressed, err := c.getObject(ctx, prefix+"/text.txt.gz")
	if err != nil {
		return nil, err
	}
	text, err := gzipDecompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress text: %w", err)
	}

	metaData, err := c.getObject(ctx, prefix+"/meta.json")
	if err != nil {
		return nil, err
	}
	var meta SnapshotMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("storage: unmarshal meta: %w", err)
	}

	return &Snapshot{Text: text, Meta: &meta}, nil
}

func (c *Client) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

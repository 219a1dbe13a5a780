// Package archive persists a record for each escrow contract that reaches a
// terminal state. Records are write-once; a contract that closed stays closed
// and its archived snapshot never changes.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	recordContentType = "application/json"

	maxRecordSize int64 = 1 << 20
)

var (
	ErrInvalidConfig = errors.New("archive: invalid config")
	ErrInvalidKey    = errors.New("archive: invalid key")
	ErrNotFound      = errors.New("archive: not found")
)

// Store is the durable backend for closure records.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

type Config struct {
	Driver string
	Prefix string

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

func New(cfg Config) (Store, error) {
	switch strings.TrimSpace(strings.ToLower(cfg.Driver)) {
	case DriverMemory:
		return newMemoryStore(cfg.Prefix), nil
	case DriverS3, "":
		return newS3Store(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeKey(key string) (string, error) {
	if key != strings.TrimSpace(key) {
		return "", fmt.Errorf("%w: key has surrounding whitespace", ErrInvalidKey)
	}
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return "", fmt.Errorf("%w: key contains control characters", ErrInvalidKey)
		}
	}
	return key, nil
}

func normalizePrefix(prefix string) string {
	return strings.Trim(strings.TrimSpace(prefix), "/")
}

func joinPrefix(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

type memoryStore struct {
	mu      sync.RWMutex
	prefix  string
	records map[string][]byte
}

func newMemoryStore(prefix string) Store {
	return &memoryStore{
		prefix:  normalizePrefix(prefix),
		records: make(map[string][]byte),
	}
}

func (m *memoryStore) Put(_ context.Context, key string, payload []byte) error {
	logical, err := normalizeKey(key)
	if err != nil {
		return err
	}
	full := joinPrefix(m.prefix, logical)

	m.mu.Lock()
	m.records[full] = append([]byte(nil), payload...)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	logical, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	full := joinPrefix(m.prefix, logical)

	m.mu.RLock()
	rec, ok := m.records[full]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, logical)
	}
	return append([]byte(nil), rec...), nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	logical, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	full := joinPrefix(m.prefix, logical)

	m.mu.RLock()
	_, ok := m.records[full]
	m.mu.RUnlock()
	return ok, nil
}

type s3Store struct {
	client S3Client
	bucket string
	prefix string
}

func newS3Store(cfg Config) (Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}
	return &s3Store{
		client: cfg.S3Client,
		bucket: bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, payload []byte) error {
	logical, err := normalizeKey(key)
	if err != nil {
		return err
	}
	full := joinPrefix(s.prefix, logical)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(full),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(recordContentType),
	})
	if err != nil {
		return fmt.Errorf("archive/s3: put %q: %w", logical, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) ([]byte, error) {
	logical, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	full := joinPrefix(s.prefix, logical)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, logical)
		}
		return nil, fmt.Errorf("archive/s3: get %q: %w", logical, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxRecordSize))
	if err != nil {
		return nil, fmt.Errorf("archive/s3: read %q: %w", logical, err)
	}
	return data, nil
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	logical, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	full := joinPrefix(s.prefix, logical)

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(full),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("archive/s3: head %q: %w", logical, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}

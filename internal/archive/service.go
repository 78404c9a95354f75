// Package archive copies fairness reports and audit exports to R2-compatible
// object storage and issues pre-signed download URLs for them.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/discovery/internal/fairness"
)

// Content types.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCSV  = "text/csv"
)

// Validation errors
var (
	ErrInvalidKey      = errors.New("invalid archive key")
	ErrInvalidReportID = errors.New("invalid report ID")
)

// ObjectPutter writes objects. *s3.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SignedURL is a pre-signed GET URL for an archived object.
type SignedURL struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service archives objects to one bucket.
type Service struct {
	putter        ObjectPutter
	presignClient *s3.PresignClient
	bucketName    string
	prefix        string
	urlExpiry     time.Duration
	timeNow       func() time.Time
}

// ServiceConfig holds configuration for the archive service.
type ServiceConfig struct {
	BucketName       string
	AccessKeyID      string
	SecretAccessKey  string
	Endpoint         string
	Prefix           string // Default: "fairness"
	URLExpiryMinutes int    // Default: 15 minutes
}

// NewService creates an archive service with the given configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("access key ID is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("secret access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "fairness"
	}
	if cfg.URLExpiryMinutes <= 0 {
		cfg.URLExpiryMinutes = 15
	}

	s3Client := s3.New(s3.Options{
		Region: "auto",
		Credentials: aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		BaseEndpoint: aws.String(cfg.Endpoint),
		UsePathStyle: true,
	})

	return &Service{
		putter:        s3Client,
		presignClient: s3.NewPresignClient(s3Client),
		bucketName:    cfg.BucketName,
		prefix:        sanitizePath(cfg.Prefix),
		urlExpiry:     time.Duration(cfg.URLExpiryMinutes) * time.Minute,
		timeNow:       time.Now,
	}, nil
}

// ReportKey returns the object key for a report.
// Pattern: {prefix}/reports/{yyyy}/{mm}/{dd}/{id}.json
func (s *Service) ReportKey(r *fairness.Report) (string, error) {
	id := sanitizePathComponent(r.ID)
	if id == "" || id != r.ID {
		return "", ErrInvalidReportID
	}
	return fmt.Sprintf("%s/reports/%s/%s.json", s.prefix, r.CreatedAt.UTC().Format("2006/01/02"), id), nil
}

// ArchiveReport writes the report as JSON and returns its key.
func (s *Service) ArchiveReport(ctx context.Context, r *fairness.Report) (string, error) {
	key, err := s.ReportKey(r)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}
	if err := s.put(ctx, key, ContentTypeJSON, body); err != nil {
		return "", err
	}
	return key, nil
}

// ArchiveAuditExport writes an audit log export and returns its key.
// Pattern: {prefix}/audit/{timestamp}.{ext}
func (s *Service) ArchiveAuditExport(ctx context.Context, contentType string, data []byte) (string, error) {
	ext := "json"
	if contentType == ContentTypeCSV {
		ext = "csv"
	}
	key := fmt.Sprintf("%s/audit/%s.%s", s.prefix, s.timeNow().UTC().Format("20060102T150405Z"), ext)
	if err := s.put(ctx, key, contentType, data); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// SignedURL generates a pre-signed GET URL for an archived key.
func (s *Service) SignedURL(ctx context.Context, key string) (*SignedURL, error) {
	if !strings.HasPrefix(key, s.prefix+"/") || strings.Contains(key, "..") {
		return nil, ErrInvalidKey
	}
	req, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.urlExpiry
	})
	if err != nil {
		return nil, fmt.Errorf("failed to presign request: %w", err)
	}
	return &SignedURL{
		URL:       req.URL,
		Key:       key,
		ExpiresAt: s.timeNow().Add(s.urlExpiry),
	}, nil
}

// sanitizePathComponent removes potentially dangerous characters from path components.
func sanitizePathComponent(s string) string {
	var result strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// sanitizePath sanitizes each segment of a slash-separated prefix.
func sanitizePath(p string) string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg = sanitizePathComponent(seg); seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		return "fairness"
	}
	return strings.Join(parts, "/")
}

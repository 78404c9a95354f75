package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/onnwee/discovery/internal/fairness"
)

type capturedPut struct {
	bucket, key, contentType string
	body                     []byte
}

type fakePutter struct {
	puts []capturedPut
	err  error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, capturedPut{
		bucket:      *in.Bucket,
		key:         *in.Key,
		contentType: *in.ContentType,
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

func newTestService(t *testing.T, putter ObjectPutter) *Service {
	t.Helper()
	s, err := NewService(ServiceConfig{
		BucketName:      "audit-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		Endpoint:        "https://test.r2.cloudflarestorage.com",
		Prefix:          "discovery/fairness",
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	s.putter = putter
	s.timeNow = func() time.Time { return time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC) }
	return s
}

func TestNewService(t *testing.T) {
	valid := ServiceConfig{
		BucketName:      "b",
		AccessKeyID:     "k",
		SecretAccessKey: "s",
		Endpoint:        "https://test.r2.cloudflarestorage.com",
	}
	tests := []struct {
		name     string
		mutate   func(*ServiceConfig)
		errorMsg string
	}{
		{"valid configuration", func(*ServiceConfig) {}, ""},
		{"missing bucket name", func(c *ServiceConfig) { c.BucketName = "" }, "bucket name is required"},
		{"missing access key", func(c *ServiceConfig) { c.AccessKeyID = "" }, "access key ID is required"},
		{"missing secret", func(c *ServiceConfig) { c.SecretAccessKey = "" }, "secret access key is required"},
		{"missing endpoint", func(c *ServiceConfig) { c.Endpoint = "" }, "endpoint is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			s, err := NewService(cfg)
			if tt.errorMsg == "" {
				if err != nil || s == nil {
					t.Fatalf("NewService() = %v, %v", s, err)
				}
				if s.prefix != "fairness" || s.urlExpiry != 15*time.Minute {
					t.Errorf("defaults not applied: prefix=%q expiry=%v", s.prefix, s.urlExpiry)
				}
				return
			}
			if err == nil || err.Error() != tt.errorMsg {
				t.Errorf("NewService() error = %v, want %q", err, tt.errorMsg)
			}
		})
	}
}

func TestArchiveReport(t *testing.T) {
	putter := &fakePutter{}
	s := newTestService(t, putter)
	report := &fairness.Report{
		ID:        "3f2a9c1e-7d4b-4e8a-9b1c-2d3e4f5a6b7c",
		CreatedAt: time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC),
		Verdict:   fairness.VerdictPass,
		Hash:      "abc",
	}

	key, err := s.ArchiveReport(context.Background(), report)
	if err != nil {
		t.Fatalf("ArchiveReport() error = %v", err)
	}
	want := "discovery/fairness/reports/2026/05/04/3f2a9c1e-7d4b-4e8a-9b1c-2d3e4f5a6b7c.json"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
	if len(putter.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(putter.puts))
	}
	put := putter.puts[0]
	if put.bucket != "audit-bucket" || put.contentType != ContentTypeJSON {
		t.Errorf("put = %+v", put)
	}
	var decoded fairness.Report
	if err := json.Unmarshal(put.body, &decoded); err != nil {
		t.Fatalf("archived body is not JSON: %v", err)
	}
	if decoded.ID != report.ID || decoded.Hash != "abc" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestArchiveReport_Errors(t *testing.T) {
	s := newTestService(t, &fakePutter{})
	if _, err := s.ArchiveReport(context.Background(), &fairness.Report{ID: "../etc/passwd"}); !errors.Is(err, ErrInvalidReportID) {
		t.Errorf("traversal id error = %v, want ErrInvalidReportID", err)
	}

	s = newTestService(t, &fakePutter{err: errors.New("503 slow down")})
	_, err := s.ArchiveReport(context.Background(), &fairness.Report{ID: "r1"})
	if err == nil || !strings.Contains(err.Error(), "503 slow down") {
		t.Errorf("put failure error = %v", err)
	}
}

func TestArchiveAuditExport(t *testing.T) {
	putter := &fakePutter{}
	s := newTestService(t, putter)

	key, err := s.ArchiveAuditExport(context.Background(), ContentTypeCSV, []byte("id,action\n"))
	if err != nil {
		t.Fatal(err)
	}
	if key != "discovery/fairness/audit/20260504T083000Z.csv" {
		t.Errorf("key = %q", key)
	}
	if string(putter.puts[0].body) != "id,action\n" {
		t.Errorf("body = %q", putter.puts[0].body)
	}
}

func TestSignedURL(t *testing.T) {
	s := newTestService(t, &fakePutter{})
	key := "discovery/fairness/reports/2026/05/04/r1.json"

	signed, err := s.SignedURL(context.Background(), key)
	if err != nil {
		t.Fatalf("SignedURL() error = %v", err)
	}
	if !strings.Contains(signed.URL, "/audit-bucket/"+key) || !strings.Contains(signed.URL, "X-Amz-Signature") {
		t.Errorf("url = %q", signed.URL)
	}
	if !signed.ExpiresAt.Equal(time.Date(2026, 5, 4, 8, 45, 0, 0, time.UTC)) {
		t.Errorf("expires = %v", signed.ExpiresAt)
	}

	for _, bad := range []string{"other/r1.json", "discovery/fairness/../secrets"} {
		if _, err := s.SignedURL(context.Background(), bad); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("SignedURL(%q) error = %v, want ErrInvalidKey", bad, err)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"fairness", "fairness"},
		{"/a//b/", "a/b"},
		{"../x", "x"},
		{"", "fairness"},
	}
	for _, tt := range tests {
		if got := sanitizePath(tt.in); got != tt.want {
			t.Errorf("sanitizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

package blob

import (
	"context"
	"errors"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		path    string
		wantErr bool
	}{
		{"gs://docs/2026/file.pdf", "docs", "2026/file.pdf", false},
		{"gs://docs/a", "docs", "a", false},
		{"gs://docs/", "", "", true},
		{"gs://docs", "", "", true},
		{"s3://docs/file.pdf", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		bucket, path, err := ParseURI(tt.uri)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURI(%q) err = %v, wantErr %v", tt.uri, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || path != tt.path {
			t.Errorf("ParseURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, path, tt.bucket, tt.path)
		}
	}
}

func TestMakeParseRoundTrip(t *testing.T) {
	uri := MakeURI("docs", "loans/abc.pdf")
	bucket, path, err := ParseURI(uri)
	if err != nil {
		t.Fatalf("ParseURI(%q): %v", uri, err)
	}
	if bucket != "docs" || path != "loans/abc.pdf" {
		t.Errorf("round trip = (%q, %q)", bucket, path)
	}
}

func TestMemoryBucketLifecycle(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("docs")

	uri, err := b.Upload(ctx, []byte("pdf-bytes"), "loans/a.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if uri != "gs://docs/loans/a.pdf" {
		t.Errorf("uri = %q", uri)
	}
	if ct := b.ContentType("loans/a.pdf"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}

	data, err := b.Download(ctx, "loans/a.pdf")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(data) != "pdf-bytes" {
		t.Errorf("data = %q", data)
	}

	ok, err := b.Exists(ctx, "loans/a.pdf")
	if err != nil || !ok {
		t.Errorf("Exists = (%v, %v), want (true, nil)", ok, err)
	}

	if err := b.Delete(ctx, "loans/a.pdf"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Download(ctx, "loans/a.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Download after delete = %v, want ErrObjectNotFound", err)
	}
	if err := b.Delete(ctx, "loans/a.pdf"); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
}

func TestDownloadURIChecksBucket(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("docs")
	if _, err := b.Upload(ctx, []byte("x"), "p", "text/plain"); err != nil {
		t.Fatal(err)
	}

	if _, err := DownloadURI(ctx, b, "gs://docs/p"); err != nil {
		t.Errorf("matching bucket: %v", err)
	}
	if _, err := DownloadURI(ctx, b, "gs://other/p"); err == nil {
		t.Error("foreign bucket URI should fail")
	}
	if _, err := DownloadURI(ctx, b, "docs/p"); err == nil {
		t.Error("schemeless URI should fail")
	}
}

func TestMemoryBucketCopiesData(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBucket("docs")
	src := []byte("original")
	if _, err := b.Upload(ctx, src, "p", ""); err != nil {
		t.Fatal(err)
	}
	src[0] = 'X'

	got, err := b.Download(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Errorf("stored data aliased caller buffer: %q", got)
	}
}

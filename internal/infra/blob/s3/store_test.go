package s3

import (
	"bytes"
	"cicdcopilot/internal/blob/core"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
)

func TestStore_MockedBasicFlow(t *testing.T) { //nolint:cyclop
	store := NewMockForTests()
	ctx := context.Background()
	info, err := store.Put(ctx, "mop-files/u1/runbook.txt", bytes.NewReader([]byte("hello")), core.PutOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"filename": "runbook.txt"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "mop-files/u1/runbook.txt" || info.ContentType != "text/plain" || info.Size != 5 {
		t.Fatalf("unexpected info %#v", info)
	}
	if _, err := store.Put(ctx, "mop-files/u1/runbook.txt", bytes.NewReader([]byte("ignored")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	head, err := store.Head(ctx, "mop-files/u1/runbook.txt")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Metadata["filename"] != "runbook.txt" {
		t.Fatalf("expected metadata round trip, got %+v", head.Metadata)
	}
	_, rc, err := store.Get(ctx, "mop-files/u1/runbook.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", string(data))
	}
	list, err := store.List(ctx, "mop-files/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	url, err := store.PresignURL(ctx, "mop-files/u1/runbook.txt", core.SignedURLOptions{Expiry: 30 * time.Second})
	if err != nil || !strings.Contains(url, "mop-files/u1/runbook.txt") {
		t.Fatalf("presign: %v %s", err, url)
	}
	if ok, err := store.Delete(ctx, "mop-files/u1/runbook.txt"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := store.Delete(ctx, "mop-files/u1/runbook.txt"); err != nil || ok {
		t.Fatalf("expected second delete false: %v %v", ok, err)
	}
}

func TestStore_MissingKeysReportNotFound(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected head ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected get ErrNotFound, got %v", err)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: http.MethodPut}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected presign unsupported error")
	}
	if _, err := store.Put(ctx, "", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestStore_ListPaginates(t *testing.T) {
	store := newMock(1)
	ctx := context.Background()
	for _, key := range []string{"k3.txt", "k1.txt", "k2.txt", "other.txt"} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte(key)), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	list, err := store.List(ctx, "k")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Key != "k1.txt" || list[2].Key != "k3.txt" {
		t.Fatalf("expected three sorted items across pages, got %+v", list)
	}
	if empty, err := store.List(ctx, "no-such-prefix/"); err != nil || len(empty) != 0 {
		t.Fatalf("expected empty list: %v %+v", err, empty)
	}
}

func TestNew(t *testing.T) {
	s, err := New(context.Background(), Config{
		Bucket:          "bkt",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Driver() != core.DriverS3 || s.Bucket() != "bkt" {
		t.Fatalf("unexpected store %+v", s)
	}
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestFromHeadNilFields(t *testing.T) {
	store := NewMockForTests()
	info := store.fromHead("k", 10, nil, aws.String("\"etagval\""), map[string]string{"x": "y"}, nil)
	if info.ETag != "etagval" || info.ContentType != "" || info.Key != "k" || info.Size != 10 || info.LastModified.IsZero() {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestDecodeChunked(t *testing.T) {
	if _, ok := decodeChunked([]byte("not-chunked")); ok {
		t.Fatalf("expected plain payload to be rejected")
	}
	if _, ok := decodeChunked([]byte("5\r\nabc\r\n0\r\n")); ok {
		t.Fatalf("size mismatch should fail")
	}
	if b, ok := decodeChunked([]byte("5;chunk-signature=abc\r\nhello\r\n0\r\n")); !ok || string(b) != "hello" {
		t.Fatalf("expected decode hello")
	}
}

func TestMockRoundTripperUnsupported(t *testing.T) {
	rt := &mockRoundTripper{objects: make(map[string]mockObject)}
	req, _ := http.NewRequest(http.MethodPatch, "https://mock.s3.local/bucket/key", nil)
	resp, _ := rt.RoundTrip(req)
	if resp.StatusCode != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", resp.StatusCode)
	}
}

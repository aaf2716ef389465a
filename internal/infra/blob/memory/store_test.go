package memory

import (
	"cicdcopilot/internal/blob/core"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

const deployMop = "1. Deploy\nrun deploy.sh"

func TestMissingKeys(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: want ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: want ErrNotFound, got %v", err)
	}
	if existed, err := store.Delete(ctx, "missing"); err != nil || existed {
		t.Fatalf("delete: want false, got %v %v", existed, err)
	}
}

func TestPutIsCreateOnlyAndIsolatesCallers(t *testing.T) {
	store := New()
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()
	md := map[string]string{"filename": "deploy.txt"}

	info, err := store.Put(ctx, "mop-files/a/deploy.txt", strings.NewReader(deployMop), core.PutOptions{ContentType: "text/plain", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	sum := sha256.Sum256([]byte(deployMop))
	if info.Size != int64(len(deployMop)) || info.ETag != hex.EncodeToString(sum[:]) || !info.LastModified.Equal(fixed) {
		t.Fatalf("unexpected info %+v", info)
	}
	md["filename"] = "mutated"
	info.Metadata["filename"] = "mutated too"

	if _, err := store.Put(ctx, "mop-files/a/deploy.txt", strings.NewReader("v2"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("want ErrExists, got %v", err)
	}
	got, rc, err := store.Get(ctx, "mop-files/a/deploy.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != deployMop || got.Metadata["filename"] != "deploy.txt" {
		t.Fatalf("unexpected get result %q %+v", body, got)
	}
}

func TestListDeleteAndPresign(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, key := range []string{"other/b.txt", "mop-files/z.txt", "mop-files/a.txt"} {
		if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 3 || all[0].Key != "mop-files/a.txt" || all[2].Key != "other/b.txt" {
		t.Fatalf("list all: %v %+v", err, all)
	}
	if mops, _ := store.List(ctx, "mop-files/"); len(mops) != 2 {
		t.Fatalf("list prefix: got %d", len(mops))
	}
	if existed, err := store.Delete(ctx, "other/b.txt"); err != nil || !existed {
		t.Fatalf("delete: want true, got %v %v", existed, err)
	}
	if _, err := store.PresignURL(ctx, "mop-files/a.txt", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("presign: want ErrUnsupported, got %v", err)
	}
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestPutRejections(t *testing.T) {
	store := New()
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	ctx := context.Background()
	if _, err := store.Put(ctx, "bad", brokenReader{}, core.PutOptions{}); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("want read error, got %v", err)
	}
	if _, err := store.Put(ctx, " ", strings.NewReader("x"), core.PutOptions{}); err == nil {
		t.Fatal("want empty key error")
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := store.Put(cancelled, "late", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context error, got %v", err)
	}
}

// Package core defines the blob storage contract shared by the driver
// implementations under internal/infra/blob.
package core

import (
	"context"
	"errors"
	"io"
	"maps"
	"time"
)

// Driver names the backend that holds MOP bodies. It is the value of the
// blob.driver config key.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// Valid reports whether d names a known driver.
func (d Driver) Valid() bool {
	switch d {
	case DriverFilesystem, DriverS3, DriverMemory:
		return true
	default:
		return false
	}
}

type PutOptions struct {
	ContentType string
	// Metadata carries the original filename and uploader of a MOP.
	Metadata map[string]string
}

// SignedURLOptions configures PresignURL. Only GET links are issued and a
// zero Expiry means fifteen minutes.
type SignedURLOptions struct {
	Method string
	Expiry time.Duration
}

// Info describes a stored MOP body.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store holds uploaded document bodies. Put is create-only; List is sorted by key.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	// ErrUnsupported is returned when an optional capability is not available.
	ErrUnsupported = errors.New("blobstore: unsupported operation")
	// ErrNotFound is returned by Get and Head for missing keys.
	ErrNotFound = errors.New("blobstore: not found")
	// ErrExists is returned by Put when the key is already taken.
	ErrExists = errors.New("blobstore: already exists")
)

// CloneMetadata copies user metadata so callers cannot mutate stored state.
func CloneMetadata(in map[string]string) map[string]string {
	return maps.Clone(in)
}

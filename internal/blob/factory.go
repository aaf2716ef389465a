package blob

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Config selects and configures a blob driver.
type Config struct {
	Driver Driver   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// Open builds the Store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// MopFilePrefix is the key prefix under which uploaded MOP bodies are stored.
const MopFilePrefix = "mop-files/"

// MopFileKey returns a fresh key for an uploaded file: mop-files/<uuid>/<base name>.
func MopFileKey(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." || strings.TrimSpace(base) == "" {
		base = "upload"
	}
	return MopFilePrefix + uuid.NewString() + "/" + base
}

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// FileSystemArchive writes raw records under
// root/{tenant_id}/{stream_id}/{timestamp}-{uuid}.json, one file per event.
// The uuid suffix keeps concurrent writes for the same millisecond from
// colliding.
type FileSystemArchive struct {
	rootDir string
}

// NewFileSystemArchive creates a filesystem-backed archive rooted at rootDir.
func NewFileSystemArchive(rootDir string) *FileSystemArchive {
	return &FileSystemArchive{rootDir: rootDir}
}

// Archive persists one raw record. The tenant/stream directory is created on
// first use.
func (a *FileSystemArchive) Archive(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(a.rootDir, record.Event.TenantID, record.Event.StreamID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir %s: %w", dir, err)
	}

	name := strconv.FormatInt(record.Event.TimestampMs, 10) + "-" + uuid.New().String() + ".json"
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal archive record: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write archive record %s: %w", path, err)
	}
	return nil
}

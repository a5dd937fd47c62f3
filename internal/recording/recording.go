// Package recording stores finished call recordings as WAV files under the
// path scheme {tenant_id}/{campaign_id}/{call_id}.wav.
package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dialcast/dialcast/pkg/audio"
)

// ContentType is the MIME type of every stored recording.
const ContentType = "audio/wav"

// BlobStore writes rendered WAV bytes to durable storage and returns the
// stored path.
type BlobStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) error
}

// sanitizeID strips path separators from an identifier so it cannot escape
// its directory level.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	return id
}

// Path builds the blob key for one call's recording.
func Path(tenantID, campaignID, callID string) string {
	return fmt.Sprintf("%s/%s/%s.wav",
		sanitizeID(tenantID), sanitizeID(campaignID), sanitizeID(callID))
}

// Uploader renders recording buffers to WAV and stores them.
type Uploader struct {
	blobs BlobStore
}

// NewUploader creates an uploader over the given blob store.
func NewUploader(blobs BlobStore) *Uploader {
	return &Uploader{blobs: blobs}
}

// Upload renders the buffer at its native sample rate and stores it under
// the call's path. An empty buffer stores nothing and returns "".
func (u *Uploader) Upload(ctx context.Context, tenantID, campaignID, callID string, buf *audio.RecordingBuffer) (string, error) {
	if buf == nil || buf.Len() == 0 {
		return "", nil
	}
	path := Path(tenantID, campaignID, callID)
	if err := u.blobs.Put(ctx, path, ContentType, buf.Render()); err != nil {
		return "", fmt.Errorf("recording: upload %s: %w", path, err)
	}
	return path, nil
}

// DirStore is a BlobStore over a local directory, for single-node
// deployments and tests.
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("recording: create root %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

// Put writes the blob under root/path, creating intermediate directories.
func (d *DirStore) Put(_ context.Context, path, _ string, data []byte) error {
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("recording: mkdir for %s: %w", path, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("recording: write %s: %w", path, err)
	}
	return nil
}

var _ BlobStore = (*DirStore)(nil)

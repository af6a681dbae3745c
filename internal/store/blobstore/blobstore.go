// Package blobstore keeps document contents in a content-addressed directory tree.
//
// A blob's ID is the SHA-256 of its uncompressed bytes. Blobs are stored zstd-compressed
// under dir/{first 2 hex chars}/{id} and verified against their ID when read.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

var (
	ErrNotFound  = errors.New("blob not found")
	ErrInvalidID = errors.New("invalid blob id")
	ErrCorrupt   = errors.New("blob integrity check failed")
)

// Blobstore is safe for concurrent use.
type Blobstore struct {
	dir     string
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates the directory if needed and returns a Blobstore rooted at it. A relative
// dir is resolved against the working directory once, here.
func New(dir string) (*Blobstore, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blobs directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(256<<20),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Blobstore{dir: dir, encoder: enc, decoder: dec}, nil
}

// ID returns the content address of data.
func ID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its ID. Storing the same content twice is a no-op.
func (b *Blobstore) Put(data []byte) (string, error) {
	id := ID(data)
	if _, err := os.Stat(filepath.Join(b.dir, b.name(id))); err == nil {
		return id, nil
	}

	var stored []byte
	if len(data) > 0 {
		stored = b.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	if err := writeFileAtomic(b.dir, b.name(id), stored, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return id, nil
}

// Get returns the content stored under id.
func (b *Blobstore) Get(id string) ([]byte, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	raw, err := os.ReadFile(filepath.Join(b.dir, b.name(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	var data []byte
	if len(raw) > 0 {
		data, err = b.decoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, id, err)
		}
	}
	if got := ID(data); got != id {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrCorrupt, id, got)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Close releases the compression state.
func (b *Blobstore) Close() error {
	b.decoder.Close()
	return b.encoder.Close()
}

// Dir returns the absolute root of the store.
func (b *Blobstore) Dir() string {
	return b.dir
}

// name is the location of id relative to the root.
func (b *Blobstore) name(id string) string {
	return filepath.Join(id[:2], id)
}

// validID accepts lowercase SHA-256 hex only, which also keeps ids out of path syntax.
func validID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

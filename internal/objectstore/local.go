// Package objectstore keeps uploaded avatars on local disk.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidName = errors.New("invalid object name")
	ErrTooLarge    = errors.New("object too large")
)

const DefaultMaxBytes = 5 << 20

// Local writes objects under Dir/<bucket>/ and reports public URLs under
// BaseURL/storage/<bucket>/.
type Local struct {
	dir      string
	bucket   string
	baseURL  string
	maxBytes int64
}

func NewLocal(dir, bucket, baseURL string, maxBytes int64) (*Local, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := validName(bucket); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, bucket), 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: %w", err)
	}
	return &Local{
		dir:      dir,
		bucket:   bucket,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
	}, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) || len(name) > 200 {
		return ErrInvalidName
	}
	return nil
}

func (l *Local) MaxBytes() int64 { return l.maxBytes }

// Dir is the directory objects of this bucket live in.
func (l *Local) Dir() string { return filepath.Join(l.dir, l.bucket) }

func (l *Local) PublicURL(name string) string {
	return l.baseURL + "/storage/" + l.bucket + "/" + url.PathEscape(name)
}

// Upload stores data under name, replacing any existing object, and returns
// its public URL. The write goes through a temp file so readers never see a
// partial object.
func (l *Local) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	if int64(len(data)) > l.maxBytes {
		return "", ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(l.Dir(), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("objectstore: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objectstore: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objectstore: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(l.Dir(), name)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("objectstore: %w", err)
	}
	return l.PublicURL(name), nil
}

// Open returns the path of an existing object.
func (l *Local) Open(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	p := filepath.Join(l.Dir(), name)
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

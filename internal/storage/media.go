package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
)

const defaultMediaPrefix = "posts"

// ErrNotDataURL is returned by ParseDataURL for anything but a base64 data URL.
var ErrNotDataURL = errors.New("not a base64 data url")

// StoredMedia locates a saved proof photo.
// Key is empty when the photo is inlined into URL as a data URL. Uploaded
// is false when an identical object already existed, in which case a
// rollback must not delete it.
type StoredMedia struct {
	Key      string
	URL      string
	SHA256   string
	MIME     string
	Uploaded bool
}

// KeyedStorage is an ObjectStorage that decides its own object keys.
type KeyedStorage interface {
	ObjectKey(sha string) string
}

// MediaStore saves proof photos to object storage, or inlines them as data
// URLs when no bucket is configured.
type MediaStore struct {
	objects ObjectStorage
	prefix  string
}

// NewMediaStore creates a MediaStore. objects may be nil.
func NewMediaStore(objects ObjectStorage, prefix string) *MediaStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = defaultMediaPrefix
	}
	return &MediaStore{objects: objects, prefix: prefix}
}

// Remote reports whether media goes to object storage.
func (m *MediaStore) Remote() bool {
	return m.objects != nil
}

// MediaKey returns the content-addressed object key <prefix>/<sha[:2]>/<sha>.
func MediaKey(prefix, sha string) string {
	if len(sha) < 2 {
		return path.Join(prefix, sha)
	}
	return path.Join(prefix, sha[:2], sha)
}

// objectKey asks the bucket for the key when it owns the layout.
func (m *MediaStore) objectKey(sha string) string {
	if keyed, ok := m.objects.(KeyedStorage); ok {
		return keyed.ObjectKey(sha)
	}
	return MediaKey(m.prefix, sha)
}

// SHA256Hex returns the hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectMIME returns declared if set, otherwise sniffs data.
func DetectMIME(declared string, data []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return http.DetectContentType(data)
}

// Save stores data and returns where it lives.
func (m *MediaStore) Save(ctx context.Context, data []byte, mime string) (StoredMedia, error) {
	mime = DetectMIME(mime, data)
	sha := SHA256Hex(data)
	if m.objects == nil {
		return StoredMedia{URL: DataURL(mime, data), SHA256: sha, MIME: mime}, nil
	}

	key := m.objectKey(sha)
	stored := StoredMedia{Key: key, URL: m.objects.GetURL(key), SHA256: sha, MIME: mime}

	exists, err := m.objects.Exists(ctx, key)
	if err != nil {
		return StoredMedia{}, fmt.Errorf("failed to check media existence: %w", err)
	}
	if exists {
		return stored, nil
	}
	if err := m.objects.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), mime); err != nil {
		return StoredMedia{}, fmt.Errorf("failed to store media: %w", err)
	}
	stored.Uploaded = true
	return stored, nil
}

// Load reads a photo back, from the bucket when key is set, otherwise from
// the data URL.
func (m *MediaStore) Load(ctx context.Context, key, url string) ([]byte, error) {
	if key == "" {
		data, _, err := ParseDataURL(url)
		return data, err
	}
	if m.objects == nil {
		return nil, fmt.Errorf("media %s is in object storage but storage is disabled", key)
	}
	rc, err := m.objects.Download(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Delete removes an uploaded object; inlined media needs no cleanup.
func (m *MediaStore) Delete(ctx context.Context, key string) error {
	if key == "" || m.objects == nil {
		return nil
	}
	return m.objects.Delete(ctx, key)
}

// DataURL encodes data as data:<mime>;base64,<payload>.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ParseDataURL decodes a URL produced by DataURL.
func ParseDataURL(url string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data url: %w", err)
	}
	return data, mime, nil
}

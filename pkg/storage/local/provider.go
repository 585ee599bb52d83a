// Package local provides a filesystem implementation of storage.Provider for
// development and self-hosted deployments.
//
// Every object is stored as two files under the base directory: the data file at
// the key and a JSON sidecar at "{key}.meta.json" carrying content type, size,
// pseudo-ETag, upload time and caller metadata.
package local

import (
	"context"
	"crypto/md5" // #nosec G501 -- used as a content fingerprint, not for security
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dukex/nodelog/pkg/models"
	"github.com/dukex/nodelog/pkg/storage"
)

const (
	metaSuffix   = ".meta.json"
	uploadPrefix = ".upload-"
)

type Config struct {
	BasePath string `yaml:"base_path" validate:"required"`
}

// Provider implements storage.Provider on top of a base directory.
type Provider struct {
	basePath string
	logger   *slog.Logger
}

type sidecar struct {
	ContentType    string            `json:"contentType"`
	Size           int64             `json:"size"`
	ETag           string            `json:"etag"`
	UploadedAt     time.Time         `json:"uploadedAt"`
	CustomMetadata map[string]string `json:"customMetadata,omitempty"`
}

// NewProvider creates the base directory if needed and returns a provider rooted there.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("local storage base path is required")
	}

	basePath, err := filepath.Abs(strings.Replace(cfg.BasePath, "file://", "", 1))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve local storage base path: %w", err)
	}

	err = os.MkdirAll(basePath, 0750)
	if err != nil {
		return nil, fmt.Errorf("failed to create local storage directory: %w", err)
	}

	return &Provider{
		basePath: basePath,
		logger:   logger.With("module", "local_storage", "base_path", basePath),
	}, nil
}

func (p *Provider) Backend() models.StorageBackend {
	return models.StorageBackendLocal
}

// BasePath returns the absolute directory objects are stored under.
func (p *Provider) BasePath() string {
	return p.basePath
}

// SanitizeKey removes empty, "." and ".." segments and leading slashes so that a key
// can never address anything outside the base directory.
func SanitizeKey(key string) string {
	parts := strings.Split(strings.ReplaceAll(key, "\\", "/"), "/")
	clean := make([]string, 0, len(parts))

	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}

		clean = append(clean, part)
	}

	return strings.Join(clean, "/")
}

// ResolvePath maps a key to the absolute path of its data file.
func (p *Provider) ResolvePath(key string) (string, error) {
	clean := SanitizeKey(key)
	if clean == "" {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidKey, key)
	}

	path := filepath.Join(p.basePath, filepath.FromSlash(clean))
	if !strings.HasPrefix(path, p.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes base directory", storage.ErrInvalidKey, key)
	}

	return path, nil
}

func (p *Provider) Upload(ctx context.Context, key string, data any, opts *storage.UploadOptions) (*storage.UploadResult, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, err)
	}

	if strings.HasSuffix(path, metaSuffix) {
		return nil, storage.NewOpError("upload", p.Backend(), key,
			fmt.Errorf("%w: %s suffix is reserved", storage.ErrInvalidKey, metaSuffix))
	}

	body, contentType, err := storage.Encode(data)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, err)
	}

	sum := md5.Sum(body) // #nosec G401
	meta := sidecar{
		ContentType: storage.UploadContentType(opts, contentType),
		Size:        int64(len(body)),
		ETag:        hex.EncodeToString(sum[:]),
		UploadedAt:  time.Now().UTC(),
	}

	if opts != nil {
		meta.CustomMetadata = opts.CustomMetadata
	}

	err = os.MkdirAll(filepath.Dir(path), 0750)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, fmt.Errorf("failed to create directory: %w", err))
	}

	err = writeFileAtomic(path, body)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, fmt.Errorf("failed to marshal metadata: %w", err))
	}

	err = writeFileAtomic(path+metaSuffix, metaJSON)
	if err != nil {
		return nil, storage.NewOpError("upload", p.Backend(), key, err)
	}

	return &storage.UploadResult{
		Key:  key,
		Size: meta.Size,
		ETag: meta.ETag,
	}, nil
}

func (p *Provider) Download(ctx context.Context, key string, opts *storage.DownloadOptions) (*storage.DownloadResult, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return nil, storage.NewOpError("download", p.Backend(), key, err)
	}

	body, err := os.ReadFile(path) // #nosec G304 -- path is sanitized and confined to basePath
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.NewOpError("download", p.Backend(), key, storage.ErrNotFound)
		}

		return nil, storage.NewOpError("download", p.Backend(), key, err)
	}

	raw := opts != nil && opts.Raw

	meta, ok := p.readSidecar(ctx, path)
	if !ok {
		// Without a sidecar the content type is unknown: prefer JSON, fall back to text.
		contentType := storage.ContentTypeText
		if json.Valid(body) {
			contentType = storage.ContentTypeJSON
		}

		value, err := storage.Decode(body, contentType, raw)
		if err != nil {
			return nil, storage.NewOpError("download", p.Backend(), key, err)
		}

		return &storage.DownloadResult{Data: value, Size: int64(len(body)), ContentType: contentType}, nil
	}

	value, err := storage.Decode(body, meta.ContentType, raw)
	if err != nil {
		return nil, storage.NewOpError("download", p.Backend(), key, err)
	}

	return &storage.DownloadResult{
		Data:        value,
		Size:        int64(len(body)),
		ContentType: meta.ContentType,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, key string) error {
	path, err := p.ResolvePath(key)
	if err != nil {
		return storage.NewOpError("delete", p.Backend(), key, err)
	}

	for _, target := range []string{path, path + metaSuffix} {
		err := os.Remove(target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storage.NewOpError("delete", p.Backend(), key, err)
		}
	}

	return nil
}

func (p *Provider) DeleteMany(ctx context.Context, keys []string) []storage.DeleteResult {
	results := make([]storage.DeleteResult, 0, len(keys))

	for _, key := range keys {
		results = append(results, storage.DeleteResult{Key: key, Err: p.Delete(ctx, key)})
	}

	return results
}

func (p *Provider) Exists(ctx context.Context, key string) bool {
	path, err := p.ResolvePath(key)
	if err != nil {
		return false
	}

	info, err := os.Stat(path)

	return err == nil && !info.IsDir()
}

func (p *Provider) GetMetadata(ctx context.Context, key string) (*storage.ObjectMetadata, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return nil, storage.NewOpError("get_metadata", p.Backend(), key, err)
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, storage.NewOpError("get_metadata", p.Backend(), key, storage.ErrNotFound)
	}

	metadata := &storage.ObjectMetadata{
		Key:          key,
		Size:         info.Size(),
		ContentType:  storage.ContentTypeJSON,
		LastModified: info.ModTime().UTC(),
	}

	if meta, ok := p.readSidecar(ctx, path); ok {
		metadata.ContentType = meta.ContentType
		metadata.ETag = meta.ETag
		metadata.LastModified = meta.UploadedAt
		metadata.CustomMetadata = meta.CustomMetadata
	}

	return metadata, nil
}

// List walks the directory tree under the prefix in lexical order. The continuation
// token is the last key of the previous page.
func (p *Provider) List(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 || maxKeys > storage.DefaultMaxKeys {
		maxKeys = storage.DefaultMaxKeys
	}

	// Prefixes match keys as plain strings; a trailing slash limits the walk to that directory.
	prefix := SanitizeKey(opts.Prefix)
	root := p.basePath

	if prefix != "" {
		if strings.HasSuffix(opts.Prefix, "/") {
			prefix += "/"
			root = filepath.Join(p.basePath, filepath.FromSlash(prefix))
		} else {
			root = filepath.Dir(filepath.Join(p.basePath, filepath.FromSlash(prefix)))
		}
	}

	result := &storage.ListResult{Objects: []storage.ObjectInfo{}}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}

			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(p.basePath, path)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)

		if entry.IsDir() {
			if path != root && !strings.HasPrefix(key+"/", prefix) && !strings.HasPrefix(prefix, key+"/") {
				return fs.SkipDir
			}

			return nil
		}

		name := entry.Name()
		if strings.HasSuffix(name, metaSuffix) || strings.HasPrefix(name, uploadPrefix) {
			return nil
		}

		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		if opts.ContinuationToken != "" && !keyAfter(key, opts.ContinuationToken) {
			return nil
		}

		if len(result.Objects) == maxKeys {
			result.IsTruncated = true
			result.ContinuationToken = result.Objects[len(result.Objects)-1].Key

			return fs.SkipAll
		}

		fileInfo, err := entry.Info()
		if err != nil {
			return err
		}

		result.Objects = append(result.Objects, storage.ObjectInfo{
			Key:          key,
			Size:         fileInfo.Size(),
			LastModified: fileInfo.ModTime().UTC(),
		})

		return nil
	})
	if err != nil {
		return nil, storage.NewOpError("list", p.Backend(), opts.Prefix, err)
	}

	return result, nil
}

// SignedURL returns a file:// URI for the key. It carries no credentials and is only
// meaningful on this host.
func (p *Provider) SignedURL(ctx context.Context, key string, expires time.Duration) (string, error) {
	path, err := p.ResolvePath(key)
	if err != nil {
		return "", storage.NewOpError("signed_url", p.Backend(), key, err)
	}

	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(), nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(p.basePath)
	if err != nil {
		return storage.NewOpError("health_check", p.Backend(), "", err)
	}

	if !info.IsDir() {
		return storage.NewOpError("health_check", p.Backend(), "", fmt.Errorf("%s is not a directory", p.basePath))
	}

	return nil
}

func (p *Provider) readSidecar(ctx context.Context, path string) (*sidecar, bool) {
	data, err := os.ReadFile(path + metaSuffix) // #nosec G304 -- derived from a sanitized path
	if err != nil {
		return nil, false
	}

	var meta sidecar

	err = json.Unmarshal(data, &meta)
	if err != nil {
		p.logger.WarnContext(ctx, "Ignoring unreadable metadata sidecar", "path", path+metaSuffix, "error", err)

		return nil, false
	}

	return &meta, true
}

// writeFileAtomic writes through a temporary file in the same directory so readers
// never observe a partially written object.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), uploadPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	return nil
}

// keyAfter orders keys segment by segment, which matches the lexical walk order.
func keyAfter(key, token string) bool {
	a := strings.Split(key, "/")
	b := strings.Split(token, "/")

	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}

	return len(a) > len(b)
}

package filesystem

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// blobStore writes blobs under a base directory, mirroring the blob keys as
// relative paths. Public URLs are served from baseURL under /files/.
type blobStore struct {
	basePath string
	baseURL  string
}

// NewBlobStore creates a new filesystem-based blob store.
func NewBlobStore(basePath, baseURL string) *blobStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		log.Fatalf("failed to create base directory: %v", err)
	}
	return &blobStore{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

// BasePath returns the directory blobs are written to, for static serving.
func (s *blobStore) BasePath() string {
	return s.basePath
}

// resolve validates a key and maps it to an absolute path below basePath.
func (s *blobStore) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("blob key cannot be empty")
	}
	filePath := filepath.Join(s.basePath, filepath.FromSlash(key))

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", err
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absFile, absBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid blob key %q: access denied", key)
	}
	return absFile, nil
}

func (s *blobStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	filePath, err := s.resolve(key)
	if err != nil {
		return err
	}
	fields := logrus.WithFields(logrus.Fields{"key": key, "file_path": filePath})

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		fields.WithError(err).Error("Failed to create blob directory")
		return err
	}

	// os.WriteFile truncates an existing file, which gives the upsert
	// semantics the callers rely on.
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		fields.WithError(err).Error("Failed to write blob")
		return err
	}

	fields.WithField("data_length", len(data)).Info("Blob uploaded")
	return nil
}

func (s *blobStore) Download(ctx context.Context, key string) ([]byte, error) {
	filePath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s not found", key)
		}
		logrus.WithField("key", key).WithError(err).Error("Failed to read blob")
		return nil, err
	}
	return data, nil
}

func (s *blobStore) PublicURL(key string) string {
	return s.baseURL + "/files/" + key
}

// Package storage provides the object storage collaborator documents are read from and uploaded to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no object exists under the key. It is permanent for the unit being processed.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for empty or malformed keys. It is permanent for the unit being processed.
var ErrInvalidKey = errors.New("invalid storage key")

// Storage reads and writes document bytes by key.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key and returns the key it was stored under.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// IsPermanent reports whether err will fail again on every retry.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidKey)
}

// ValidateKey rejects empty keys, absolute paths and keys that escape their prefix.
func ValidateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("%w: %q escapes its prefix", ErrInvalidKey, key)
		}
	}
	return nil
}

// DocumentKey builds the key an uploaded document is stored under.
func DocumentKey(subjectID, documentID uuid.UUID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = "document"
	}
	return fmt.Sprintf("subjects/%s/documents/%s/%s", subjectID, documentID, name)
}

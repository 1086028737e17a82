// Package artifacts stores final report documents produced for a session.
package artifacts

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws-samples/sample-agentic-cost-optimizer/pkg/schema"
)

// Storage persists named artifacts per session.
type Storage interface {
	Put(ctx context.Context, sessionID, name string, content []byte) error
	Get(ctx context.Context, sessionID, name string) ([]byte, error)
}

// FSStorage stores artifacts on the local filesystem under
// <root>/<session_id>/<name>.
type FSStorage struct {
	root string
}

// NewFSStorage creates a filesystem-backed Storage rooted at dir.
func NewFSStorage(dir string) (*FSStorage, error) {
	if dir == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "artifact directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "create artifact root: %v", err).WithCause(err)
	}
	return &FSStorage{root: dir}, nil
}

func (s *FSStorage) path(sessionID, name string) (string, error) {
	if sessionID == "" || name == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "session_id and artifact name are required")
	}
	// Both components become path segments; reject traversal outright.
	for _, part := range []string{sessionID, name} {
		if strings.Contains(part, "..") || strings.ContainsAny(part, `/\`) {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid artifact path component %q", part)
		}
	}
	return filepath.Join(s.root, sessionID, name), nil
}

func (s *FSStorage) Put(ctx context.Context, sessionID, name string, content []byte) error {
	p, err := s.path(sessionID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create session artifact dir: %v", err).WithCause(err)
	}
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "write artifact %s: %v", name, err).WithCause(err)
	}
	return nil
}

func (s *FSStorage) Get(ctx context.Context, sessionID, name string) ([]byte, error) {
	p, err := s.path(sessionID, name)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "artifact %q not found for session %q", name, sessionID)
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read artifact %s: %v", name, err).WithCause(err)
	}
	return content, nil
}

var _ Storage = (*FSStorage)(nil)

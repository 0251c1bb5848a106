// Package attach stores conversation attachments on the local
// filesystem, one directory per channel.
package attach

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store writes attachment bytes under {baseDir}/{channel}/ and returns
// the stored path reference kept on the ticket.
type Store struct {
	baseDir string
}

// NewStore creates an attachment store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Save streams one attachment to disk. ext may be passed with or
// without the leading dot; an empty ext stores the file bare.
func (s *Store) Save(channelID, ext string, r io.Reader) (string, error) {
	dir := filepath.Join(s.baseDir, sanitize(channelID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("attach: mkdir: %w", err)
	}

	name := uuid.NewString()
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("attach: create: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("attach: write: %w", err)
	}
	return path, nil
}

// sanitize keeps channel ids usable as directory names.
func sanitize(s string) string {
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

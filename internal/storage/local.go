// Package storage keeps attachment bytes on the local filesystem under a media root.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore saves and removes attachment files. Paths it returns are relative to its root.
type FileStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Remove(ctx context.Context, rel string) error
}

type Local struct {
	root string
}

func NewLocal(root string) *Local {
	return &Local{root: root}
}

// Save writes r to attachments/<uuid>-<name> and returns that relative path.
func (l *Local) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := cleanName(name)
	rel := path.Join("attachments", uuid.NewString()+"-"+base)
	full := filepath.Join(l.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", rel, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(full)
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", rel, err)
	}
	return rel, nil
}

// Remove deletes a stored file; a missing file is not an error.
func (l *Local) Remove(ctx context.Context, rel string) error {
	full := filepath.Join(l.root, filepath.FromSlash(path.Clean("/" + rel)))
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DisplayName strips the uuid prefix from a stored path.
func DisplayName(rel string) string {
	base := path.Base(rel)
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

func cleanName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Map(func(r rune) rune {
		if r < 0x20 || r == '/' || r == 0x7f {
			return -1
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		return "file"
	}
	return base
}

package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aelexs/authclient/internal/domain"
)

const (
	tokenFileMode = 0o600
	tokenDirMode  = 0o700
)

// tokenFile is the on-disk layout.
type tokenFile struct {
	AccessToken  string `yaml:"accessToken,omitempty"`
	RefreshToken string `yaml:"refreshToken,omitempty"`
}

// FileBackend stores the pair as a YAML document readable only by the owner.
type FileBackend struct {
	path string
}

// NewFileBackend returns a FileBackend writing to path. The parent directory
// is created on first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the file the backend writes to.
func (b *FileBackend) Path() string {
	return b.path
}

// Load implements Backend.
func (b *FileBackend) Load(_ context.Context) (TokenPair, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return TokenPair{}, domain.ErrNotFound
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("read token file: %w", err)
	}

	var f tokenFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return TokenPair{}, fmt.Errorf("decode token file %s: %w", b.path, err)
	}
	if f.AccessToken == "" && f.RefreshToken == "" {
		return TokenPair{}, domain.ErrNotFound
	}
	return NewTokenPair(f.AccessToken, f.RefreshToken), nil
}

// Save implements Backend. The document is written to a temp file in the
// same directory and renamed over the old one, so readers see both keys or
// neither.
func (b *FileBackend) Save(_ context.Context, pair TokenPair) error {
	data, err := yaml.Marshal(tokenFile{
		AccessToken:  pair.Access.Expose(),
		RefreshToken: pair.Refresh.Expose(),
	})
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, tokenDirMode); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if err := tmp.Chmod(tokenFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp token file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp token file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context) error {
	err := os.Remove(b.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}

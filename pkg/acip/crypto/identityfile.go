package crypto

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultIdentityPath resolves the platform identity-file location:
// ~/.config/ascii-chat/discovery_identity on Unix,
// %APPDATA%\ascii-chat\discovery_identity on Windows.
func DefaultIdentityPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "ascii-chat", "discovery_identity"), nil
}

// LoadOrCreateIdentity reads the identity file at path, generating and
// persisting a fresh Ed25519 key pair on first run. The file is written
// with 0600 permissions; its parent directory is created if missing.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return ParseIdentityFile(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	}

	id, err := GenerateIdentity()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, MarshalIdentityFile(id), 0o600); err != nil {
		return nil, fmt.Errorf("write identity file %s: %w", path, err)
	}
	return id, nil
}

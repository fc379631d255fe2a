package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "pbpwatch/pkg/logx"
)

// fileStore keeps the document in a single JSON file.
//
// Files:
//   - <path>       the document, replaced atomically via tmp + rename
//   - <path>.lock  advisory lock held for the read-compare-write of Save
//
// The version is the sha256 of the file content, so any writer (including a
// human editing the file) invalidates outstanding loads.
type fileStore struct {
	path string
	log  logx.Logger
	mu   sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{path: path, log: log.With(logx.String("driver", DriverFile), logx.String("path", path))}, nil
}

func (s *fileStore) Load(ctx context.Context) (State, Version, error) {
	if err := ctx.Err(); err != nil {
		return State{}, NoVersion, err
	}
	raw, ver, err := s.read()
	if err != nil {
		return State{}, NoVersion, err
	}
	if ver == NoVersion {
		s.log.Info("no state document yet; starting empty")
		return Empty(), NoVersion, nil
	}
	return decodeOrEmpty(raw, s.log), ver, nil
}

func (s *fileStore) Save(ctx context.Context, st State, expected Version) error {
	body, err := Encode(st)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockPath(ctx, s.path+".lock")
	if err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer func() { _ = unlock() }()

	_, cur, err := s.read()
	if err != nil {
		return err
	}
	if cur != expected {
		return ErrConflict
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) read() ([]byte, Version, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, NoVersion, nil
	}
	if err != nil {
		return nil, NoVersion, err
	}
	sum := sha256.Sum256(raw)
	return raw, Version(hex.EncodeToString(sum[:])), nil
}

func (s *fileStore) Close() error { return nil }

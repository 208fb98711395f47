package lockfile

import (
	"bytes"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Store reads and writes the workspace lockfile.
type Store struct {
	logger ports.Logger
}

// NewStore creates a new lockfile Store.
func NewStore(logger ports.Logger) *Store {
	return &Store{logger: logger}
}

// Load reads the workspace lockfile. Returns (nil, nil) when no lockfile
// exists yet.
func (s *Store) Load(ws *domain.Workspace) (*domain.Resolve, error) {
	data, err := os.ReadFile(ws.LockfilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(domain.ErrLockfile, err.Error()), "path", ws.LockfilePath)
	}
	resolve, err := Decode(data, ws)
	if err != nil {
		return nil, zerr.With(err, "path", ws.LockfilePath)
	}
	return resolve, nil
}

// Save writes the resolve if its serialization differs from what is on
// disk, leaving the file untouched (and its mtime stable) otherwise.
// The write goes through a temp file in the same directory so readers
// never observe a partial lockfile.
func (s *Store) Save(ws *domain.Workspace, resolve *domain.Resolve) error {
	encoded := Encode(resolve)

	existing, err := os.ReadFile(ws.LockfilePath)
	if err == nil && bytes.Equal(existing, encoded) {
		return nil
	}

	dir := filepath.Dir(ws.LockfilePath)
	tmp, err := os.CreateTemp(dir, domain.LockFileName+".tmp*")
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", ws.LockfilePath)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", tmpName)
	}
	if err := os.Chmod(tmpName, domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", tmpName)
	}
	if err := os.Rename(tmpName, ws.LockfilePath); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", ws.LockfilePath)
	}
	s.logger.Verbose("Updating", ws.LockfilePath)
	return nil
}

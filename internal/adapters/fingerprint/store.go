package fingerprint

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
	"freight.build/freight/internal/core/ports"
)

// Store reads and writes per-unit fingerprint files. Each unit owns a
// directory under .fingerprint/; the file inside is keyed by the metadata
// hash so reconfigured units never overwrite each other's record.
type Store struct {
	logger ports.Logger
}

// NewStore creates a fingerprint store logging dirty reasons to logger.
func NewStore(logger ports.Logger) *Store {
	return &Store{logger: logger}
}

func fingerprintPath(dir, metadataHash string) string {
	return filepath.Join(dir, "lib-"+metadataHash+".json")
}

// Load returns the stored fingerprint for the unit directory and metadata
// hash, or nil when none exists.
func (s *Store) Load(dir, metadataHash string) (*Fingerprint, error) {
	path := fingerprintPath(dir, metadataHash)
	data, err := os.ReadFile(path) //nolint:gosec // path under target dir
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}
	var fp Fingerprint
	if err := json.Unmarshal(data, &fp); err != nil {
		// A torn or stale record is the same as no record.
		return nil, nil
	}
	return &fp, nil
}

// Save writes the fingerprint atomically. Called only after the compiler
// (or script) reported success.
func (s *Store) Save(dir string, fp *Fingerprint) error {
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "dir", dir)
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return zerr.Wrap(domain.ErrIo, err.Error())
	}

	tmp, err := os.CreateTemp(dir, ".fingerprint-*")
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "dir", dir)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return zerr.Wrap(domain.ErrIo, err.Error())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return zerr.Wrap(domain.ErrIo, err.Error())
	}
	if err := os.Chmod(tmp.Name(), domain.FilePerm); err != nil {
		os.Remove(tmp.Name())
		return zerr.Wrap(domain.ErrIo, err.Error())
	}
	path := fingerprintPath(dir, fp.MetadataHash)
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}
	return nil
}

// Freshness checks the unit's stored record against the current state of
// the world. A nil result means fresh; dependency freshness is the
// scheduler's concern and checked separately.
func (s *Store) Freshness(unitName, dir, metadataHash string) *Dirty {
	fp, err := s.Load(dir, metadataHash)
	if err != nil || fp == nil {
		return s.report(unitName, &Dirty{Kind: DirtyNoFingerprint})
	}
	if fp.MetadataHash != metadataHash {
		return s.report(unitName, &Dirty{Kind: DirtyMetadata})
	}
	if fp.DepInfoPath != "" {
		if _, err := os.Stat(fp.DepInfoPath); err != nil {
			return s.report(unitName, &Dirty{Kind: DirtyMissingDepInfo, Detail: fp.DepInfoPath})
		}
	}
	for _, stamp := range fp.Files {
		if dirty := stamp.check(); dirty != nil {
			return s.report(unitName, dirty)
		}
	}
	for _, stamp := range fp.Env {
		if dirty := stamp.check(); dirty != nil {
			return s.report(unitName, dirty)
		}
	}
	return nil
}

func (s *Store) report(unitName string, d *Dirty) *Dirty {
	s.logger.Verbose("Dirty", unitName+" ("+d.String()+")")
	return d
}

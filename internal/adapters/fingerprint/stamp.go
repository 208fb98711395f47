package fingerprint

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"

	"freight.build/freight/internal/core/domain"
)

// StampPath records the current state of one input. Directories stamp the
// newest modification time in their subtree; files whose filesystem only
// keeps whole-second mtimes additionally record a content hash.
func StampPath(path string) (FileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileStamp{}, zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}
	if info.IsDir() {
		newest, err := newestMTime(path)
		if err != nil {
			return FileStamp{}, err
		}
		return FileStamp{Path: path, Dir: true, MTime: newest}, nil
	}

	stamp := FileStamp{Path: path, MTime: info.ModTime().UnixNano()}
	if info.ModTime().Nanosecond() == 0 {
		// Whole-second mtime resolution is too coarse to catch edits
		// within the same second as the build.
		hash, err := hashFile(path)
		if err != nil {
			return FileStamp{}, err
		}
		stamp.ContentHash = hash
	}
	return stamp, nil
}

// StampPaths stamps every path, failing on the first unreadable one.
func StampPaths(paths []string) ([]FileStamp, error) {
	stamps := make([]FileStamp, 0, len(paths))
	for _, p := range paths {
		stamp, err := StampPath(p)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, stamp)
	}
	return stamps, nil
}

// StampEnv records the current values of the declared variables.
func StampEnv(keys []string) []EnvStamp {
	stamps := make([]EnvStamp, 0, len(keys))
	for _, key := range keys {
		value, present := os.LookupEnv(key)
		stamps = append(stamps, EnvStamp{Key: key, Present: present, Value: value})
	}
	return stamps
}

// check reports whether the recorded stamp still describes the path. A
// missing path and a changed path are distinct dirty reasons.
func (s FileStamp) check() *Dirty {
	info, err := os.Stat(s.Path)
	if err != nil {
		return &Dirty{Kind: DirtyMissingInput, Detail: s.Path}
	}
	if s.Dir {
		newest, err := newestMTime(s.Path)
		if err != nil || newest != s.MTime {
			return &Dirty{Kind: DirtyChangedInput, Detail: s.Path}
		}
		return nil
	}
	if info.IsDir() {
		return &Dirty{Kind: DirtyChangedInput, Detail: s.Path}
	}
	if info.ModTime().UnixNano() == s.MTime {
		return nil
	}
	if s.ContentHash != "" {
		hash, err := hashFile(s.Path)
		if err == nil && hash == s.ContentHash {
			return nil
		}
	}
	return &Dirty{Kind: DirtyChangedInput, Detail: s.Path}
}

func (s EnvStamp) check() *Dirty {
	value, present := os.LookupEnv(s.Key)
	if present != s.Present || value != s.Value {
		return &Dirty{Kind: DirtyChangedEnv, Detail: s.Key}
	}
	return nil
}

// newestMTime walks a directory and returns the newest modification time
// among the directory entries and every descendant file.
func newestMTime(root string) (int64, error) {
	var newest int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if t := info.ModTime().UnixNano(); t > newest {
			newest = t
		}
		return nil
	})
	if err != nil {
		return 0, zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "dir", root)
	}
	return newest, nil
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path) //nolint:gosec // input path recorded by a previous build
	if err != nil {
		return "", zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}
	defer file.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", zerr.With(zerr.Wrap(domain.ErrIo, err.Error()), "path", path)
	}
	return HashString(h.Sum64()), nil
}

// ParseDepInfo extracts the source file set from a Makefile-style dep-info
// file: `target: dep dep ...` rules with backslash continuations and
// `\ `-escaped spaces. Paths are returned in first-seen order.
func ParseDepInfo(data []byte) []string {
	var paths []string
	seen := make(map[string]struct{})

	text := strings.ReplaceAll(string(data), "\\\n", " ")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colon := depInfoColon(line)
		if colon < 0 {
			continue
		}
		for _, dep := range splitDepInfoPaths(line[colon+1:]) {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			paths = append(paths, dep)
		}
	}
	return paths
}

// depInfoColon finds the rule separator, skipping Windows drive letters
// like `C:\`.
func depInfoColon(line string) int {
	for i := 0; i < len(line); i++ {
		if line[i] != ':' {
			continue
		}
		if i+1 < len(line) && (line[i+1] == '\\' || line[i+1] == '/') {
			continue
		}
		return i
	}
	return -1
}

func splitDepInfoPaths(s string) []string {
	var paths []string
	var current strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == ' ':
			current.WriteByte(' ')
			i++
		case c == ' ' || c == '\t':
			if current.Len() > 0 {
				paths = append(paths, current.String())
				current.Reset()
			}
		default:
			current.WriteByte(c)
		}
	}
	if current.Len() > 0 {
		paths = append(paths, current.String())
	}
	return paths
}

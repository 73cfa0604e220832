package fs

import (
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"av-go/internal/av"
)

// IgnoreFileName is read from the top of a directory given to FindFiles.
const IgnoreFileName = ".avignore"

// Loader reads media files from the local filesystem into payloads.
type Loader struct {
	patterns []string
}

// NewLoader creates a Loader. ignorePatterns apply to every directory scan on
// top of the directory's own ignore file.
func NewLoader(ignorePatterns []string) *Loader {
	return &Loader{patterns: ignorePatterns}
}

// Resolve converts rawPath to an absolute path and rejects special files.
func Resolve(rawPath string) (string, fs.FileInfo, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving absolute path: %w", err)
	}

	info, err := os.Lstat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("stat path: %w", err)
	}

	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return "", nil, fmt.Errorf("symlinks not supported: %s", absPath)
	case mode&os.ModeDevice != 0:
		return "", nil, fmt.Errorf("device files not supported: %s", absPath)
	case mode&os.ModeNamedPipe != 0:
		return "", nil, fmt.Errorf("named pipes not supported: %s", absPath)
	case mode&os.ModeSocket != 0:
		return "", nil, fmt.Errorf("sockets not supported: %s", absPath)
	}
	return absPath, info, nil
}

// Load reads a regular file and returns its payload and base name.
func (l *Loader) Load(rawPath string) (av.Payload, string, error) {
	absPath, info, err := Resolve(rawPath)
	if err != nil {
		return av.Payload{}, "", err
	}
	if info.IsDir() {
		return av.Payload{}, "", fmt.Errorf("cannot load directory as a file: %s", absPath)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return av.Payload{}, "", fmt.Errorf("reading %s: %w", absPath, err)
	}
	if len(data) == 0 {
		return av.Payload{}, "", fmt.Errorf("file is empty: %s", absPath)
	}

	name := filepath.Base(absPath)
	return av.Payload{Data: data, ContentType: DetectContentType(name, data)}, name, nil
}

// FindFiles lists the regular files under dir that no ignore pattern matches,
// sorted by path. Subdirectories are only walked when recursive is set.
func (l *Loader) FindFiles(dir string, recursive bool) ([]string, error) {
	absDir, info, err := Resolve(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absDir)
	}

	local, err := ParseIgnoreFile(filepath.Join(absDir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	patterns := append(append(append([]string{}, defaultIgnorePatterns...), l.patterns...), local...)
	matcher := NewIgnoreMatcher(patterns)

	var paths []string
	err = filepath.WalkDir(absDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == absDir {
			return nil
		}
		rel, err := filepath.Rel(absDir, p)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !recursive || matcher.Match(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matcher.Match(rel) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// DetectContentType picks a media type from the file extension and falls back to
// sniffing the first bytes of data.
func DetectContentType(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return http.DetectContentType(data)
}

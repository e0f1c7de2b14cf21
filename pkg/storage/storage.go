package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// PartSuffix marks an unfinished download
const PartSuffix = ".part"

const (
	maxNameLength = 180
	// hex digits of the URL hash appended to every name
	hashLength = 8
)

// ErrInUse is returned by Claim when another download writes the same file
var ErrInUse = errors.New("file is being downloaded by another job")

// Manager owns the output directory: it names files, keeps partial data
// under <name>.part and commits finished files with an atomic rename.
type Manager struct {
	outputDir string
	claims    map[string]bool
	mu        sync.Mutex
}

// NewManager creates a new storage manager
func NewManager(outputDir string) (*Manager, error) {
	if outputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Manager{
		outputDir: outputDir,
		claims:    make(map[string]bool),
	}, nil
}

// FileName derives a safe file name from a download URL: the last path
// segment followed by a short hash of the whole URL, so URLs that differ
// only in their query get different files. URLs without a usable path
// segment are named after the hash alone.
func FileName(rawURL string) string {
	var base string
	if u, err := url.Parse(rawURL); err == nil {
		base = path.Base(u.Path)
		if unescaped, err := url.PathUnescape(base); err == nil {
			base = unescaped
		}
	}
	if base == "." || base == "/" {
		base = ""
	}

	sum := sha1.Sum([]byte(strings.TrimSpace(rawURL)))
	hash := hex.EncodeToString(sum[:])[:hashLength]

	base = sanitize(base)
	if base == "" {
		return "download-" + hash
	}

	ext := filepath.Ext(base)
	if len(ext) > 16 {
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)
	if limit := maxNameLength - len(ext) - hashLength - 1; len(stem) > limit {
		stem = truncate(stem, limit)
	}
	return stem + "-" + hash + ext
}

func sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	return strings.Trim(name, ". ")
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// OutputDir returns the output directory path
func (m *Manager) OutputDir() string {
	return m.outputDir
}

// Path returns where a committed file named name lives
func (m *Manager) Path(name string) string {
	return filepath.Join(m.outputDir, name)
}

// PartPath returns the partial file path for name
func (m *Manager) PartPath(name string) string {
	return m.Path(name) + PartSuffix
}

// PartialSize returns how many bytes of name are already on disk, or 0
func (m *Manager) PartialSize(name string) int64 {
	info, err := os.Stat(m.PartPath(name))
	if err != nil {
		return 0
	}
	return info.Size()
}

// OpenPart opens the partial file for writing. With resume the existing
// data is kept and the returned offset is its size; otherwise the file is
// truncated.
func (m *Manager) OpenPart(name string, resume bool) (*os.File, int64, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(m.PartPath(name), flags, 0644)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open partial file: %w", err)
	}
	if !resume {
		return f, 0, nil
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat partial file: %w", err)
	}
	return f, info.Size(), nil
}

// Commit renames the partial file to its final name
func (m *Manager) Commit(name string) (string, error) {
	final := m.Path(name)
	if err := os.Rename(m.PartPath(name), final); err != nil {
		return "", fmt.Errorf("failed to commit %s: %w", name, err)
	}
	return final, nil
}

// Discard removes the partial file of name
func (m *Manager) Discard(name string) error {
	err := os.Remove(m.PartPath(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove partial file: %w", err)
	}
	return nil
}

// IsDownloaded checks whether a final file named name exists
func (m *Manager) IsDownloaded(name string) bool {
	info, err := os.Stat(m.Path(name))
	return err == nil && !info.IsDir()
}

// Claim reserves name for one download until release is called. A second
// claim on the same name fails with ErrInUse so two jobs never append to
// the same partial file.
func (m *Manager) Claim(name string) (release func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[name] {
		return nil, fmt.Errorf("%s: %w", name, ErrInUse)
	}
	m.claims[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.claims, name)
			m.mu.Unlock()
		})
	}, nil
}

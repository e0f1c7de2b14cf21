package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
)

// CurrentVersion is the snapshot document version written by Save
const CurrentVersion = 1

var (
	// ErrCorrupt is returned by Load when the file exists but cannot be decoded
	ErrCorrupt = errors.New("checkpoint is corrupt")
	// ErrUnsupportedVersion is returned by Load for documents written by a newer release
	ErrUnsupportedVersion = errors.New("checkpoint version is not supported")
)

// Snapshot is the durable projection of the job registry. Finished jobs
// are never part of it.
type Snapshot struct {
	Version    int          `json:"version"`
	SavedAt    time.Time    `json:"saved_at"`
	Active     []models.Job `json:"active"`
	Queue      []models.Job `json:"queue"`
	Incomplete []models.Job `json:"incomplete"`
}

// Empty reports whether the snapshot holds no jobs at all
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Active)+len(s.Queue)+len(s.Incomplete) == 0
}

// Manager reads and writes the snapshot file. Writes are serialized and
// atomic: the document goes to <file>.tmp, is fsynced, then renamed over
// <file>.
type Manager struct {
	path   string
	mu     sync.Mutex
	logger logger.Logger
}

// NewManager creates a checkpoint manager for path, or for DefaultPath()
// when path is empty.
func NewManager(path string, log logger.Logger) (*Manager, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Manager{
		path:   path,
		logger: logger.OrDefault(log).WithField("component", "checkpoint"),
	}, nil
}

// Path returns the snapshot file location
func (m *Manager) Path() string {
	return m.path
}

// Load reads the snapshot. A missing file yields (nil, nil).
func (m *Manager) Load() (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var snap Snapshot
	if err := json.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"path":       m.path,
		"active":     len(snap.Active),
		"queued":     len(snap.Queue),
		"incomplete": len(snap.Incomplete),
		"saved_at":   snap.SavedAt,
	})

	return &snap, nil
}

// Save writes the snapshot to disk atomically
func (m *Manager) Save(snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap.Version = CurrentVersion
	snap.SavedAt = time.Now().UTC()

	tempPath := m.path + ".tmp"
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snap); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"active":     len(snap.Active),
		"queued":     len(snap.Queue),
		"incomplete": len(snap.Incomplete),
	})

	return nil
}

// Quarantine moves an unreadable snapshot aside to <file>.corrupt so the
// next Save does not overwrite it. It returns the new location.
func (m *Manager) Quarantine() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dest := m.path + ".corrupt"
	if err := os.Rename(m.path, dest); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to quarantine checkpoint: %w", err)
	}

	m.logger.WarnWithFields("Corrupt checkpoint moved aside", map[string]interface{}{
		"path": dest,
	})
	return dest, nil
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Backup copies the current snapshot to <file>.backup and returns that
// path, or "" when there is no snapshot yet
func (m *Manager) Backup() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := os.Open(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dest := m.path + ".backup"
	dst, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint backed up", map[string]interface{}{
		"path": dest,
	})
	return dest, nil
}

// DefaultPath returns the snapshot location inside the platform data directory
func DefaultPath() (string, error) {
	dir, err := DataDirectory()
	if err != nil {
		return "", fmt.Errorf("failed to get data directory: %w", err)
	}
	return filepath.Join(dir, "queue.json"), nil
}

// DataDirectory returns the dlqueue data directory for the current OS
func DataDirectory() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "dlqueue"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "dlqueue"), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "dlqueue"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", "dlqueue"), nil
	}
}

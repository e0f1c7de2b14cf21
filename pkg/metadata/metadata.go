package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dlqueue/pkg/models"

	"gopkg.in/yaml.v3"
)

// Supported sidecar formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// DownloadMetadata describes a finished download and is written next to it
type DownloadMetadata struct {
	JobID  string `json:"job_id" yaml:"job_id"`
	URL    string `json:"url" yaml:"url"`
	Format string `json:"format" yaml:"format"`
	Site   string `json:"site,omitempty" yaml:"site,omitempty"`
	Engine string `json:"engine" yaml:"engine"`

	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	File        string `json:"file" yaml:"file"`
	FileSize    int64  `json:"file_size" yaml:"file_size"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	// Resumed is true when the file continued an earlier partial download
	Resumed bool `json:"resumed,omitempty" yaml:"resumed,omitempty"`

	SubmittedAt  time.Time `json:"submitted_at" yaml:"submitted_at"`
	DownloadedAt time.Time `json:"downloaded_at" yaml:"downloaded_at"`
}

// FromJob fills the job-derived fields of a sidecar
func FromJob(job models.Job, engine, file string, size int64) *DownloadMetadata {
	return &DownloadMetadata{
		JobID:        job.ID,
		URL:          job.Target.URL,
		Format:       string(job.Target.Format),
		Site:         job.Target.Site,
		Engine:       engine,
		File:         filepath.Base(file),
		FileSize:     size,
		SubmittedAt:  job.CreatedAt,
		DownloadedAt: time.Now().UTC(),
	}
}

// SidecarPath returns the metadata path for a downloaded file
func SidecarPath(filePath, format string) string {
	if format == FormatYAML {
		return filePath + ".yaml"
	}
	return filePath + ".json"
}

// Save writes the metadata next to filePath in the given format
func (m *DownloadMetadata) Save(filePath, format string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(m)
	case FormatJSON, "":
		data, err = json.MarshalIndent(m, "", "  ")
	default:
		return "", fmt.Errorf("unsupported metadata format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := SidecarPath(filePath, format)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write metadata file: %w", err)
	}
	return path, nil
}

// Load reads the sidecar of filePath, trying JSON then YAML
func Load(filePath string) (*DownloadMetadata, error) {
	for _, format := range []string{FormatJSON, FormatYAML} {
		data, err := os.ReadFile(SidecarPath(filePath, format))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata file: %w", err)
		}

		var meta DownloadMetadata
		if format == FormatYAML {
			err = yaml.Unmarshal(data, &meta)
		} else {
			err = json.Unmarshal(data, &meta)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		return &meta, nil
	}
	return nil, fmt.Errorf("no metadata for %s: %w", filePath, fs.ErrNotExist)
}

// Exists checks if a sidecar exists for filePath
func Exists(filePath string) bool {
	for _, format := range []string{FormatJSON, FormatYAML} {
		if _, err := os.Stat(SidecarPath(filePath, format)); err == nil {
			return true
		}
	}
	return false
}

// CleanOrphaned removes sidecars whose download no longer exists and
// returns how many were removed.
func CleanOrphaned(directory string) (int, error) {
	removed := 0
	err := filepath.WalkDir(directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".json" && ext != ".yaml" {
			return nil
		}
		target := strings.TrimSuffix(path, ext)
		if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove orphaned metadata %s: %w", path, err)
			}
			removed++
		}
		return nil
	})
	return removed, err
}

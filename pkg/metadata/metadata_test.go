package metadata

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dlqueue/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob() models.Job {
	return models.Job{
		ID:        "job-1",
		Target:    models.Target{URL: "https://example.com/a.mp4", Format: models.FormatVideo},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndLoad(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatYAML} {
		t.Run(format, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), "a.mp4")
			require.NoError(t, os.WriteFile(file, []byte("data"), 0644))

			meta := FromJob(sampleJob(), "http", file, 4)
			meta.ContentType = "video/mp4"
			path, err := meta.Save(file, format)
			require.NoError(t, err)
			assert.Equal(t, SidecarPath(file, format), path)
			assert.True(t, Exists(file))

			loaded, err := Load(file)
			require.NoError(t, err)
			assert.Equal(t, "job-1", loaded.JobID)
			assert.Equal(t, "a.mp4", loaded.File)
			assert.Equal(t, int64(4), loaded.FileSize)
			assert.Equal(t, "video/mp4", loaded.ContentType)
			assert.True(t, loaded.SubmittedAt.Equal(meta.SubmittedAt))
		})
	}
}

func TestSaveRejectsUnknownFormat(t *testing.T) {
	_, err := FromJob(sampleJob(), "http", "x", 0).Save(filepath.Join(t.TempDir(), "x"), "xml")
	assert.Error(t, err)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nothing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanOrphaned(t *testing.T) {
	dir := t.TempDir()
	kept := filepath.Join(dir, "kept.mp3")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0644))
	_, err := FromJob(sampleJob(), "ytdlp", kept, 1).Save(kept, FormatJSON)
	require.NoError(t, err)
	_, err = FromJob(sampleJob(), "ytdlp", "gone.mp3", 1).Save(filepath.Join(dir, "gone.mp3"), FormatYAML)
	require.NoError(t, err)

	removed, err := CleanOrphaned(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.FileExists(t, kept+".json")
	assert.NoFileExists(t, filepath.Join(dir, "gone.mp3.yaml"))
}

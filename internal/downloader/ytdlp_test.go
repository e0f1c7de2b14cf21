package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/metadata"
	"dlqueue/pkg/models"

	"github.com/lrstanley/go-ytdlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestYtdlp(t *testing.T, run ytdlpRunner) *YtdlpExecutor {
	t.Helper()
	cfg := config.DefaultConfig().Download
	cfg.OutputDir = t.TempDir()
	cfg.ProgressInterval = 0
	cfg.SaveMetadata = true
	y := NewYtdlpExecutor(cfg, logger.NewNopLogger())
	y.run = run
	return y
}

func TestYtdlpExecutorReportsProgressAndStage(t *testing.T) {
	var y *YtdlpExecutor
	y = newTestYtdlp(t, func(ctx context.Context, url string, _ *ytdlp.Command, onProgress func(ytdlp.ProgressUpdate)) (ytdlpResult, error) {
		onProgress(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusDownloading, TotalBytes: 200, DownloadedBytes: 50})
		onProgress(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusDownloading, TotalBytes: 200, DownloadedBytes: 200})
		onProgress(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusPostProcessing})
		onProgress(ytdlp.ProgressUpdate{Status: ytdlp.ProgressStatusPostProcessing})

		file := filepath.Join(y.cfg.OutputDir, "Clip.mp3")
		require.NoError(t, os.WriteFile(file, []byte("audio"), 0644))
		return ytdlpResult{file: file, title: "Clip"}, nil
	})

	emit := &recordingEmitter{}
	job := testJob("y1", "https://youtube.com/watch?v=1")
	job.Target.Format = models.FormatAudio
	path, err := y.Execute(context.Background(), job, emit)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(y.cfg.OutputDir, "Clip.mp3"), path)
	require.Len(t, emit.deltas, 2)
	assert.InDelta(t, 25, *emit.deltas[0].Percent, 0.001)
	assert.InDelta(t, 100, emit.lastPercent(), 0.001)
	assert.Equal(t, []models.State{models.StateFinalizing}, emit.stages)
	assert.Equal(t, []string{"Clip"}, emit.titles())

	meta, err := metadata.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Clip", meta.Title)
	assert.Equal(t, EngineYtdlp, meta.Engine)
	assert.Equal(t, int64(5), meta.FileSize)
}

func TestYtdlpExecutorFailure(t *testing.T) {
	y := newTestYtdlp(t, func(context.Context, string, *ytdlp.Command, func(ytdlp.ProgressUpdate)) (ytdlpResult, error) {
		return ytdlpResult{}, errors.New("unsupported URL")
	})

	emit := &recordingEmitter{}
	_, err := y.Execute(context.Background(), testJob("y2", "https://vimeo.com/1"), emit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL")
	assert.Empty(t, emit.stages)
}

func TestYtdlpExecutorCancelled(t *testing.T) {
	y := newTestYtdlp(t, func(ctx context.Context, _ string, _ *ytdlp.Command, _ func(ytdlp.ProgressUpdate)) (ytdlpResult, error) {
		<-ctx.Done()
		return ytdlpResult{}, errors.New("signal: killed")
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := y.Execute(ctx, testJob("y3", "https://vimeo.com/1"), &recordingEmitter{})
	assert.ErrorIs(t, err, context.Canceled)
}

// writeYtdlpStub installs a shell script standing in for yt-dlp. It prints
// an info line only when asked for JSON, like the real binary.
func writeYtdlpStub(t *testing.T, outDir string, files ...string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub executable needs a POSIX shell")
	}
	var script strings.Builder
	script.WriteString("#!/bin/sh\njson=no\nfor arg in \"$@\"; do\n  [ \"$arg\" = \"--print-json\" ] && json=yes\ndone\n")
	for _, f := range files {
		script.WriteString("printf media > '" + filepath.Join(outDir, f) + "'\n")
	}
	script.WriteString("[ \"$json\" = yes ] || exit 0\n")
	script.WriteString("printf '%s\\n' '{\"_type\":\"video\",\"title\":\"Clip\",\"thumbnail\":\"https://i.example.com/clip.jpg\",\"filename\":\"" +
		filepath.Join(outDir, files[0]) + "\"}'\n")

	path := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(path, []byte(script.String()), 0755))
	return path
}

func stubbedYtdlp(t *testing.T, files ...string) *YtdlpExecutor {
	t.Helper()
	y := newTestYtdlp(t, nil)
	stub := writeYtdlpStub(t, y.cfg.OutputDir, files...)
	y.run = func(ctx context.Context, url string, cmd *ytdlp.Command, onProgress func(ytdlp.ProgressUpdate)) (ytdlpResult, error) {
		cmd.SetExecutable(stub)
		return runYtdlp(ctx, url, cmd, onProgress)
	}
	return y
}

func TestYtdlpExecutorReadsInfoFromBinary(t *testing.T) {
	y := stubbedYtdlp(t, "Clip.webm")

	emit := &recordingEmitter{}
	path, err := y.Execute(context.Background(), testJob("y4", "https://youtube.com/watch?v=4"), emit)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(y.cfg.OutputDir, "Clip.webm"), path)
	require.Len(t, emit.infos, 1)
	assert.Equal(t, "Clip", emit.infos[0].Title)
	assert.Equal(t, "https://i.example.com/clip.jpg", emit.infos[0].Thumbnail)

	meta, err := metadata.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Clip", meta.Title)
	assert.Equal(t, "https://youtube.com/watch?v=4", meta.URL)
}

func TestYtdlpExecutorReportsConvertedAudioFile(t *testing.T) {
	y := stubbedYtdlp(t, "Clip.webm", "Clip.mp3")

	job := testJob("y5", "https://youtube.com/watch?v=5")
	job.Target.Format = models.FormatAudio
	path, err := y.Execute(context.Background(), job, &recordingEmitter{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(y.cfg.OutputDir, "Clip.mp3"), path)
}

func TestYtdlpExecutorRequiresOutputFile(t *testing.T) {
	y := newTestYtdlp(t, func(context.Context, string, *ytdlp.Command, func(ytdlp.ProgressUpdate)) (ytdlpResult, error) {
		return ytdlpResult{}, nil
	})

	_, err := y.Execute(context.Background(), testJob("y6", "https://youtube.com/watch?v=6"), &recordingEmitter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output file")
}

func TestExtractedAudioFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ogg"), nil, 0644))

	assert.Equal(t, filepath.Join(dir, "a.ogg"), extractedAudioFile(filepath.Join(dir, "a.webm"), "vorbis"))
	assert.Equal(t, filepath.Join(dir, "a.webm"), extractedAudioFile(filepath.Join(dir, "a.webm"), "mp3"), "missing conversion keeps the reported file")
	assert.Equal(t, filepath.Join(dir, "a.webm"), extractedAudioFile(filepath.Join(dir, "a.webm"), "best"))
}

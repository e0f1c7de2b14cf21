package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dlqueue/pkg/config"
	errs "dlqueue/pkg/errors"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/metadata"
	"dlqueue/pkg/models"

	"github.com/lrstanley/go-ytdlp"
)

// EngineYtdlp names the yt-dlp engine
const EngineYtdlp = "ytdlp"

const audioSelector = "bestaudio/best"

// audioExtensions maps yt-dlp audio codecs to the extension of the file
// the extractor leaves behind
var audioExtensions = map[string]string{
	"aac":    "m4a",
	"alac":   "m4a",
	"vorbis": "ogg",
}

// ytdlpResult is what a finished yt-dlp run reports back
type ytdlpResult struct {
	file      string
	title     string
	thumbnail string
}

// ytdlpRunner runs yt-dlp for url and forwards progress updates
type ytdlpRunner func(ctx context.Context, url string, cmd *ytdlp.Command, onProgress func(ytdlp.ProgressUpdate)) (ytdlpResult, error)

// YtdlpExecutor downloads media pages through yt-dlp
type YtdlpExecutor struct {
	cfg    config.DownloadConfig
	run    ytdlpRunner
	logger logger.Logger
}

// NewYtdlpExecutor creates the yt-dlp engine. The yt-dlp binary must be
// installed and on PATH.
func NewYtdlpExecutor(cfg config.DownloadConfig, log logger.Logger) *YtdlpExecutor {
	return &YtdlpExecutor{
		cfg:    cfg,
		run:    runYtdlp,
		logger: logger.OrDefault(log).WithField("engine", EngineYtdlp),
	}
}

// command builds the yt-dlp invocation for a target
func (y *YtdlpExecutor) command(target models.Target) *ytdlp.Command {
	cmd := ytdlp.New().
		PrintJSON().
		RestrictFilenames().
		Output(filepath.Join(y.cfg.OutputDir, "%(title)s.%(ext)s"))

	if y.cfg.OverwriteExisting {
		cmd.ForceOverwrites()
	}

	if target.Format == models.FormatAudio {
		cmd.Format(audioSelector).
			ExtractAudio().
			AudioFormat(y.cfg.AudioFormat).
			AudioQuality(y.cfg.AudioQuality)
	} else {
		cmd.Format(y.cfg.VideoFormat)
	}
	return cmd
}

// Execute implements Executor
func (y *YtdlpExecutor) Execute(ctx context.Context, job models.Job, emit Emitter) (string, error) {
	if err := os.MkdirAll(y.cfg.OutputDir, 0755); err != nil {
		return "", errs.Wrap(errs.New(errs.ErrorTypeStorage, 0, "cannot create output directory"), err)
	}

	var (
		once       sync.Once
		infoOnce   sync.Once
		lastReport time.Time
	)
	reportInfo := func(info models.MediaInfo) {
		if info.IsEmpty() {
			return
		}
		infoOnce.Do(func() { emit.Info(info) })
	}
	onProgress := func(update ytdlp.ProgressUpdate) {
		if update.Info != nil {
			reportInfo(mediaInfo(update.Info))
		}
		if update.Status == ytdlp.ProgressStatusPostProcessing {
			once.Do(func() { emit.Stage(models.StateFinalizing) })
			return
		}
		now := time.Now()
		if now.Sub(lastReport) < y.cfg.ProgressInterval && update.DownloadedBytes < update.TotalBytes {
			return
		}
		lastReport = now
		emit.Progress(ytdlpDelta(update, now))
	}

	res, err := y.run(ctx, job.Target.URL, y.command(job.Target), onProgress)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errs.Wrap(errs.New(errs.ErrorTypeServerError, 0, "yt-dlp failed"), err)
	}
	if res.file == "" {
		return "", errs.New(errs.ErrorTypeParsing, 0, "yt-dlp did not report an output file")
	}
	if job.Target.Format == models.FormatAudio {
		res.file = extractedAudioFile(res.file, y.cfg.AudioFormat)
	}
	reportInfo(models.MediaInfo{Title: res.title, Thumbnail: res.thumbnail})
	once.Do(func() { emit.Stage(models.StateFinalizing) })

	if y.cfg.SaveMetadata {
		var size int64
		if info, err := os.Stat(res.file); err == nil {
			size = info.Size()
		}
		meta := metadata.FromJob(job, EngineYtdlp, res.file, size)
		meta.Title = res.title
		if _, err := meta.Save(res.file, y.cfg.MetadataFormat); err != nil {
			y.logger.WithError(err).WarnWithFields("Failed to write metadata", map[string]interface{}{
				"job_id": job.ID,
			})
		}
	}

	y.logger.DebugWithFields("yt-dlp finished", map[string]interface{}{
		"job_id": job.ID,
		"file":   res.file,
		"title":  res.title,
	})
	return res.file, nil
}

func mediaInfo(info *ytdlp.ExtractedInfo) models.MediaInfo {
	var out models.MediaInfo
	if info.Title != nil {
		out.Title = *info.Title
	}
	if info.Thumbnail != nil {
		out.Thumbnail = *info.Thumbnail
	}
	return out
}

// extractedAudioFile returns the path the audio extractor converted file to.
// yt-dlp reports the name of the downloaded stream, not of the converted one.
func extractedAudioFile(file, format string) string {
	format = strings.ToLower(format)
	if format == "" || format == "best" {
		return file
	}
	ext := format
	if mapped, ok := audioExtensions[format]; ok {
		ext = mapped
	}
	current := filepath.Ext(file)
	if strings.EqualFold(current, "."+ext) {
		return file
	}
	converted := strings.TrimSuffix(file, current) + "." + ext
	if _, err := os.Stat(converted); err == nil {
		return converted
	}
	return file
}

func ytdlpDelta(update ytdlp.ProgressUpdate, now time.Time) models.ProgressDelta {
	var speed float64
	if !update.Started.IsZero() {
		if elapsed := now.Sub(update.Started).Seconds(); elapsed > 0 {
			speed = float64(update.DownloadedBytes) / elapsed
		}
	}
	delta := progressDelta(int64(update.DownloadedBytes), int64(update.TotalBytes), speed)
	if eta := update.ETA(); eta > 0 {
		delta.ETA = models.String(formatETA(eta))
	}
	return delta
}

func runYtdlp(ctx context.Context, url string, cmd *ytdlp.Command, onProgress func(ytdlp.ProgressUpdate)) (ytdlpResult, error) {
	cmd.ProgressFunc(500*time.Millisecond, onProgress)

	result, err := cmd.Run(ctx, url)
	if err != nil {
		return ytdlpResult{}, err
	}
	if result == nil {
		return ytdlpResult{}, errors.New("yt-dlp returned no result")
	}

	info, err := result.GetExtractedInfo()
	if err != nil {
		return ytdlpResult{}, err
	}

	var out ytdlpResult
	for _, entry := range info {
		switch {
		case entry.Filename != nil:
			out.file = *entry.Filename
		case entry.AltFilename != nil:
			out.file = *entry.AltFilename
		default:
			continue
		}
		meta := mediaInfo(entry)
		out.title, out.thumbnail = meta.Title, meta.Thumbnail
		break
	}
	return out, nil
}

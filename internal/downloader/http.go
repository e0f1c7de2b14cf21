package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dlqueue/pkg/config"
	errs "dlqueue/pkg/errors"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/metadata"
	"dlqueue/pkg/models"
	"dlqueue/pkg/ratelimit"
	"dlqueue/pkg/retry"
	"dlqueue/pkg/storage"
)

// EngineHTTP names the direct HTTP engine
const EngineHTTP = "http"

const copyBufferSize = 32 * 1024

// HTTPExecutor downloads a URL directly, continuing from a partial file
// with a Range request when one exists.
type HTTPExecutor struct {
	client *http.Client
	store  *storage.Manager
	limits *ratelimit.HostLimiter
	retry  *retry.Config
	cfg    config.DownloadConfig
	logger logger.Logger
}

// NewHTTPExecutor creates the HTTP engine. A nil client uses a default one
// without an overall timeout; the pool bounds each job instead.
func NewHTTPExecutor(
	cfg config.DownloadConfig,
	client *http.Client,
	store *storage.Manager,
	limits *ratelimit.HostLimiter,
	retryCfg *retry.Config,
	log logger.Logger,
) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &HTTPExecutor{
		client: client,
		store:  store,
		limits: limits,
		retry:  retryCfg,
		cfg:    cfg,
		logger: logger.OrDefault(log).WithField("engine", EngineHTTP),
	}
}

// Execute implements Executor
func (h *HTTPExecutor) Execute(ctx context.Context, job models.Job, emit Emitter) (string, error) {
	name := storage.FileName(job.Target.URL)
	release, err := h.store.Claim(name)
	if err != nil {
		return "", errs.Wrap(errs.New(errs.ErrorTypeConflict, 0, "output file busy"), err)
	}
	defer release()

	if !h.cfg.OverwriteExisting && h.store.IsDownloaded(name) {
		if owner := h.owner(name); owner != "" && owner != job.Target.URL {
			return "", errs.New(errs.ErrorTypeConflict, 0, "%s already holds a download of %s", name, owner)
		}
		h.logger.InfoWithFields("File already downloaded", map[string]interface{}{
			"job_id": job.ID,
			"file":   name,
		})
		emit.Progress(models.ProgressDelta{Percent: models.Float64(100)})
		return h.store.Path(name), nil
	}

	reporter := newProgressReporter(emit, h.cfg.ProgressInterval)
	var last fetchResult
	err = retry.Do(ctx, h.retry, func(ctx context.Context) error {
		res, err := h.fetch(ctx, job, name, reporter)
		if err == nil {
			last = res
		}
		return err
	})
	if err != nil {
		return "", err
	}

	if last.title != "" {
		emit.Info(models.MediaInfo{Title: last.title})
	}
	emit.Stage(models.StateFinalizing)
	final, err := h.store.Commit(name)
	if err != nil {
		return "", errs.Wrap(errs.New(errs.ErrorTypeStorage, 0, "commit failed"), err)
	}

	if h.cfg.SaveMetadata {
		meta := metadata.FromJob(job, EngineHTTP, final, last.size)
		meta.ContentType = last.contentType
		meta.Resumed = last.resumed
		if _, err := meta.Save(final, h.cfg.MetadataFormat); err != nil {
			h.logger.WithError(err).WarnWithFields("Failed to write metadata", map[string]interface{}{
				"job_id": job.ID,
			})
		}
	}
	return final, nil
}

// owner returns the URL recorded in the metadata sidecar of a finished
// file, or "" when there is none
func (h *HTTPExecutor) owner(name string) string {
	meta, err := metadata.Load(h.store.Path(name))
	if err != nil {
		return ""
	}
	return meta.URL
}

type fetchResult struct {
	size        int64
	contentType string
	title       string
	resumed     bool
}

func (h *HTTPExecutor) fetch(ctx context.Context, job models.Job, name string, reporter *progressReporter) (fetchResult, error) {
	if h.limits != nil {
		if err := h.limits.Wait(ctx, job.Target.URL); err != nil {
			return fetchResult{}, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Target.URL, nil)
	if err != nil {
		return fetchResult{}, retry.Permanent(errs.Wrap(errs.ErrInvalidTarget, err))
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}

	offset := h.store.PartialSize(name)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fetchResult{}, ctx.Err()
		}
		return fetchResult{}, errs.Wrap(errs.New(errs.ErrorTypeNetwork, 0, "request failed"), err)
	}
	defer resp.Body.Close()

	resume := false
	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, ok := contentRangeStart(resp.Header.Get("Content-Range"))
		switch {
		case ok && start == offset:
			resume = offset > 0
		case ok && start == 0:
			// The server sent the whole resource; rewrite the partial file.
			offset = 0
		default:
			if err := h.store.Discard(name); err != nil {
				return fetchResult{}, retry.Permanent(err)
			}
			return fetchResult{}, errs.New(errs.ErrorTypeServerError, resp.StatusCode, "content range %q does not start at byte %d, restarting",
				resp.Header.Get("Content-Range"), offset)
		}
	case http.StatusOK:
		offset = 0
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file no longer matches the resource; start over.
		if err := h.store.Discard(name); err != nil {
			return fetchResult{}, retry.Permanent(err)
		}
		return fetchResult{}, errs.New(errs.ErrorTypeServerError, resp.StatusCode, "range not satisfiable, restarting")
	default:
		e := errs.FromStatusCode(resp.StatusCode, fmt.Sprintf("GET %s: %s", job.Target.URL, resp.Status))
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			logger.LogRateLimit(h.logger, req.URL.Host, retryAfter)
		}
		return fetchResult{}, e
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	f, _, err := h.store.OpenPart(name, resume)
	if err != nil {
		return fetchResult{}, retry.Permanent(errs.Wrap(errs.New(errs.ErrorTypeStorage, 0, "cannot write download"), err))
	}

	reporter.begin(offset)
	written, copyErr := h.copy(ctx, f, resp.Body, offset, total, reporter)
	closeErr := f.Close()

	if copyErr != nil {
		if ctx.Err() != nil {
			return fetchResult{}, ctx.Err()
		}
		var pathErr *os.PathError
		if errors.As(copyErr, &pathErr) {
			return fetchResult{}, retry.Permanent(errs.Wrap(errs.New(errs.ErrorTypeStorage, 0, "write failed"), copyErr))
		}
		// Bytes already written stay in the partial file for the next attempt.
		return fetchResult{}, errs.Wrap(errs.New(errs.ErrorTypeNetwork, 0, "transfer interrupted"), copyErr)
	}
	if closeErr != nil {
		return fetchResult{}, retry.Permanent(errs.Wrap(errs.New(errs.ErrorTypeStorage, 0, "close failed"), closeErr))
	}

	size := offset + written
	if total > 0 && size < total {
		return fetchResult{}, errs.New(errs.ErrorTypeNetwork, 0, "short read: %d of %d bytes", size, total)
	}
	reporter.update(size, size, true)

	h.logger.DebugWithFields("Transfer finished", map[string]interface{}{
		"job_id":  job.ID,
		"bytes":   size,
		"resumed": resume,
	})
	return fetchResult{
		size:        size,
		contentType: resp.Header.Get("Content-Type"),
		title:       dispositionName(resp.Header.Get("Content-Disposition")),
		resumed:     resume,
	}, nil
}

// contentRangeStart parses the first byte position of a
// "bytes start-end/total" header
func contentRangeStart(header string) (int64, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	start, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || start < 0 {
		return 0, false
	}
	return start, true
}

// dispositionName returns the file name a Content-Disposition header
// suggests, without its extension
func dispositionName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := filepath.Base(params["filename"])
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func (h *HTTPExecutor) copy(ctx context.Context, dst io.Writer, src io.Reader, offset, total int64, reporter *progressReporter) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			reporter.update(offset+written, total, false)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// DefaultHTTPClient returns the client used by the HTTP engine
func DefaultHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second
	return &http.Client{Transport: transport}
}

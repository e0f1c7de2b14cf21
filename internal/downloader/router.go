package downloader

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"dlqueue/pkg/config"
	"dlqueue/pkg/logger"
	"dlqueue/pkg/models"
)

// EngineAuto picks an engine per job
const EngineAuto = "auto"

// Router sends each job to the HTTP or the yt-dlp engine
type Router struct {
	engine string
	sites  []string
	http   Executor
	ytdlp  Executor
	logger logger.Logger
}

// NewRouter creates a router for the configured download.engine
func NewRouter(cfg config.DownloadConfig, httpExec, ytdlpExec Executor, log logger.Logger) *Router {
	sites := make([]string, 0, len(cfg.YtdlpSites))
	for _, s := range cfg.YtdlpSites {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			sites = append(sites, s)
		}
	}
	engine := cfg.Engine
	if engine == "" {
		engine = EngineAuto
	}
	return &Router{
		engine: engine,
		sites:  sites,
		http:   httpExec,
		ytdlp:  ytdlpExec,
		logger: logger.OrDefault(log),
	}
}

// Choose returns the engine name for a target
func (r *Router) Choose(target models.Target) string {
	switch r.engine {
	case EngineHTTP, EngineYtdlp:
		return r.engine
	}

	if target.Format == models.FormatAudio || target.Site != "" {
		return EngineYtdlp
	}
	u, err := url.Parse(target.URL)
	if err != nil {
		return EngineHTTP
	}
	host := strings.ToLower(u.Hostname())
	for _, site := range r.sites {
		if host == site || strings.HasSuffix(host, "."+site) {
			return EngineYtdlp
		}
	}
	return EngineHTTP
}

// Execute implements Executor
func (r *Router) Execute(ctx context.Context, job models.Job, emit Emitter) (string, error) {
	engine := r.Choose(job.Target)
	exec := r.http
	if engine == EngineYtdlp {
		exec = r.ytdlp
	}
	if exec == nil {
		return "", fmt.Errorf("download engine %q is not available", engine)
	}

	r.logger.DebugWithFields("Engine selected", map[string]interface{}{
		"job_id": job.ID,
		"engine": engine,
	})
	return exec.Execute(ctx, job, emit)
}

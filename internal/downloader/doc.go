// Package downloader executes admitted jobs.
//
// WorkerPool implements queue.Dispatcher and turns executor callbacks into
// queue events. Router chooses between HTTPExecutor, which streams files
// with resumable .part data, and YtdlpExecutor for media sites.
package downloader

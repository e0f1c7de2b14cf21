// Package queue is the download queue manager.
//
// A Manager owns every known job and keeps it in exactly one of four sets:
// active (holding one of MaxConcurrent slots), queued (strict FIFO),
// incomplete (interrupted and resumable) and finished (completed, failed or
// cancelled, memory only). All mutation happens under one mutex that never
// covers I/O; dispatching admitted jobs, publishing notifications and
// writing snapshots happen after it is released.
//
// Executors report back over a channel of Event values which Run consumes
// on a single goroutine, so the events of one job are applied in the order
// they were sent. Progress is written to the durable snapshot at a bounded
// rate while state transitions are written promptly.
//
// Typical wiring:
//
//	events := make(chan queue.Event, 256)
//	pool := downloader.NewWorkerPool(cfg.Queue.MaxConcurrent, exec, events, log)
//	m := queue.NewManager(opts, store, pool, events, log)
//	report := m.Recover(ctx)
//	go m.Run(ctx)
package queue

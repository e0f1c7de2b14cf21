// Package checkpoint persists the queue snapshot used for crash recovery.
//
// The snapshot is one JSON document holding the active jobs, the wait queue
// in order and the interrupted jobs. Saves are atomic (temp file, fsync,
// rename) so a crash mid-write leaves the previous snapshot intact.
//
// Default locations:
//   - Linux: $XDG_DATA_HOME/dlqueue/queue.json or ~/.local/share/dlqueue/queue.json
//   - macOS: ~/Library/Application Support/dlqueue/queue.json
//   - Windows: %APPDATA%/dlqueue/queue.json
package checkpoint

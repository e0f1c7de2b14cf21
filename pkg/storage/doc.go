// Package storage manages the download output directory.
//
// Data is streamed into <name>.part, which lets an interrupted HTTP download
// continue from its last byte, and is renamed to <name> once complete:
//
//	store, err := storage.NewManager(cfg.Download.OutputDir)
//	name := storage.FileName(target.URL)
//	release, err := store.Claim(name)
//	defer release()
//	if store.IsDownloaded(name) {
//	    return store.Path(name), nil
//	}
//	f, offset, err := store.OpenPart(name, true)
//	// ... write from offset, close
//	final, err := store.Commit(name)
package storage

// Package metadata writes JSON or YAML sidecars describing finished
// downloads, e.g. clip.mp4.json next to clip.mp4.
package metadata

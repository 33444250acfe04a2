// Package storage defines the corpus file-system abstraction.
package storage

import "time"

// Entry describes one regular file in the corpus.
type Entry struct {
	Path    string    `json:"path"` // relative to the corpus root, slash separated
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Provider is the interface for corpus file operations.
type Provider interface {
	// Root returns the absolute corpus root.
	Root() string
	// List returns every regular file under dir (relative to corpus root), sorted by path.
	List(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path (relative to corpus root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to corpus root).
	Write(path string, content []byte) error
	// Delete removes the file at path (relative to corpus root).
	Delete(path string) error
}

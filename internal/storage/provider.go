// Package storage defines the template drop-folder file-system abstraction.
package storage

import "time"

// Ext is the extension of template files in the drop folder.
const Ext = ".txt"

// FileMeta describes one template file.
type FileMeta struct {
	Path      string
	Checksum  string
	UpdatedAt time.Time
}

// Provider is the interface for drop-folder file operations.
type Provider interface {
	// List returns metadata for every template file under dir (relative to the root).
	List(dir string) ([]FileMeta, error)
	// Read returns the raw bytes of the file at path (relative to the root).
	Read(path string) ([]byte, error)
	// Write atomically writes content to path (relative to the root).
	Write(path string, content []byte) error
	// Root returns the absolute directory the provider serves.
	Root() string
}

// IsTemplate reports whether name has the template file extension.
func IsTemplate(name string) bool {
	return len(name) > len(Ext) && name[len(name)-len(Ext):] == Ext
}

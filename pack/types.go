package pack

import (
	"time"
)

// SourceKind describes where an entry's content comes from.
type SourceKind int

const (
	// SourceNone is an entry with no content: directories, items
	// re-used from an existing archive, and deletion markers.
	SourceNone SourceKind = iota
	// SourceFile reads content from a file on disk, opened lazily.
	SourceFile
	// SourceMemory reads content from an in-memory byte slice.
	SourceMemory
)

// An Entry is one logical item presented to (or received from) the
// archive engine. Index is the engine's 0-based identity and is
// assigned contiguously in presentation order.
type Entry struct {
	Index int64

	// CanonicalPath is a slash-separated path relative to the
	// root of the archive
	CanonicalPath string

	Source     SourceKind
	SourcePath string
	Data       []byte

	Size   int64
	Attrib uint32

	CTime time.Time
	MTime time.Time
	ATime time.Time

	IsDir       bool
	IsEncrypted bool
}

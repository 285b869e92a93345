// Package engine is the boundary to the external archive engine: an
// opaque compression/decompression capability driven entirely through
// pull callbacks. Nothing in this module compresses or decompresses
// bytes; a binding (cgo glue to libc7zip, typically) implements these
// interfaces and the rest of the module satisfies the callback
// contracts.
//
// The shapes mirror the 7-zip glue layer: Lib/Archive/Item handles,
// InStream/OutStream shims, integer property IDs. Time-valued
// properties travel as uint64 Unix nanoseconds.
package engine

import (
	"time"

	"github.com/pkg/errors"
)

// A Lib is a loaded engine library. Free it when done; see Pool for
// process-wide reference counting.
type Lib interface {
	// OpenArchive opens an existing archive for reading (and, when the
	// binding supports it, as the source of an update pass). An empty
	// password means unencrypted. bySignature asks the engine to sniff
	// the container format instead of trusting the stream's extension.
	OpenArchive(in *InStream, password string, bySignature bool) (Archive, error)

	// CreateArchive makes a fresh, empty archive of the given container
	// format, to be populated by UpdateItems.
	CreateArchive(format string) (Archive, error)

	Free()
}

// An Archive is one open archive handle.
type Archive interface {
	GetArchiveFormat() string
	GetItemCount() (int64, error)

	// GetItem returns nil when the index is out of range. Free the
	// item when done with it.
	GetItem(index int64) Item

	// CanUpdate reports whether this handle can serve as the source of
	// an update pass. Read-only bindings return false.
	CanUpdate() bool

	// SetProperties hands the engine its tuning switches. Must be
	// called before UpdateItems.
	SetProperties(props *PropBag) error

	// SetPassword arms encryption for a subsequent update pass.
	SetPassword(password string) error

	// UpdateItems runs one update pass: the engine pulls item
	// properties and content through funcs, for indices 0 through
	// totalItems-1, and writes the resulting archive to out. In a
	// conversion pass (append/modify) the engine re-uses its own prior
	// representation for items marked Reuse.
	UpdateItems(out *OutStream, totalItems int64, funcs UpdateCallbackFuncs) error

	// ExtractSeveral runs one extract pass over the given indices,
	// pulling destination streams through funcs.
	ExtractSeveral(indices []int64, funcs ExtractCallbackFuncs) error

	Close()
}

// An Item is a read-only view of one archive member's properties.
type Item interface {
	GetArchiveIndex() int64
	GetStringProperty(id PropertyIndex) (string, bool)
	GetUInt64Property(id PropertyIndex) (uint64, bool)
	GetBoolProperty(id PropertyIndex) (bool, bool)
	Free()
}

// ItemInfo is the update direction's answer to "what is item i?".
type ItemInfo struct {
	// Reuse asks the engine to carry over the item at OldIndex from
	// the source archive. Path still applies (rename); the other
	// fields are ignored when the engine has its own copy.
	Reuse    bool
	OldIndex int64

	// Path is slash-separated, relative to the archive root.
	Path string

	IsDir       bool
	Size        int64
	Attrib      uint32
	CTime       time.Time
	MTime       time.Time
	ATime       time.Time
	IsEncrypted bool
}

// UpdateCallbackFuncs is the pull contract for the compression
// direction. The engine drives it; this module implements it.
type UpdateCallbackFuncs interface {
	// SetTotal announces the estimated total payload, in bytes.
	SetTotal(total int64)

	// SetCompleted announces cumulative progress, in bytes.
	SetCompleted(completed int64)

	// GetItemInfo describes item index. Indices are contiguous,
	// 0-based, in presentation order.
	GetItemInfo(index int64) (*ItemInfo, error)

	// GetStream returns a readable source for item index, or nil for
	// items without content (directories, reused items). Sources are
	// opened lazily, only when the engine asks.
	GetStream(index int64) (*InStream, error)

	// SetOperationResult reports the engine's per-item verdict.
	SetOperationResult(result int32) error
}

// ExtractCallbackFuncs is the pull contract for the decompression
// direction.
type ExtractCallbackFuncs interface {
	SetProgress(completed int64, total int64)

	// GetStream returns the destination for one item. Returning nil
	// (and no error) skips the item; returning an error aborts the
	// whole pass.
	GetStream(item Item) (*OutStream, error)

	SetOperationResult(result int32) error
}

// PropertyIndex identifies one item property, mirroring the engine's
// kpid numbering.
type PropertyIndex int32

const (
	PidPath PropertyIndex = iota
	PidIsDir
	PidSize
	PidPackSize
	PidAttrib
	PidCTime
	PidMTime
	PidATime
	PidEncrypted
	PidSymLink
	PidPosixAttrib
)

// Per-item operation results, mirroring NArchive::NExtract.
const (
	OpOK int32 = iota
	OpUnsupportedMethod
	OpDataError
	OpCRCError
)

var (
	ErrUnknownError        = errors.New("unknown engine error")
	ErrNeedPassword        = errors.New("password required for this archive")
	ErrNotSupportedArchive = errors.New("archive type not supported by engine")
	ErrUpdateNotSupported  = errors.New("engine cannot update this archive")
)

package unpress

import (
	"bytes"
	"io"
	"runtime"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/itchio/savior"
	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/events"
	"github.com/packthread/packthread/pack"
	"github.com/pkg/errors"
)

type entryKind int

const (
	entryKindFile entryKind = iota
	entryKindDir
	entryKindSymlink
)

// extractCallback satisfies the engine's extract pull contract for
// one pass.
type extractCallback struct {
	params     *Params
	sink       savior.Sink
	consumer   *state.Consumer
	dispatcher *events.Dispatcher

	result    *Result
	cancelled bool

	lastCompleted int64
	itemErrs      []error
}

var _ engine.ExtractCallbackFuncs = (*extractCallback)(nil)

func (ec *extractCallback) GetStream(item engine.Item) (*engine.OutStream, error) {
	if ec.cancelled {
		return nil, errors.WithStack(pack.ErrCancelled)
	}

	itemPath, ok := item.GetStringProperty(engine.PidPath)
	if !ok {
		return nil, errors.New("can't get item path")
	}
	sanePath := sanitizePath(itemPath)

	entry := decodeEntry(item, sanePath)
	kind := decodeKind(item)

	// control decision first: handlers may cancel the pass or skip
	// this one item
	starting := &events.ItemStarting{Entry: entry}
	ec.dispatcher.EmitControl(starting)

	if starting.Cancel {
		ec.cancelled = true
		ec.result.Cancelled = true
		return nil, errors.WithStack(pack.ErrCancelled)
	}
	if starting.Skip {
		ec.dispatcher.Emit(&events.ItemFinished{Entry: entry, Bytes: 0})
		return nil, nil
	}

	finish := func(totalBytes int64, record bool) {
		if record {
			entry.Size = totalBytes
			ec.result.Entries = append(ec.result.Entries, entry)
		}
		ec.dispatcher.Emit(&events.ItemFinished{Entry: entry, Bytes: totalBytes})
	}

	// single-item extraction to a caller stream
	if ec.params.Writer != nil {
		nc := &notifyCloser{
			Writer: writerNopCloser{ec.params.Writer},
			OnClose: func(totalBytes int64) error {
				finish(totalBytes, true)
				if !ec.params.LeaveOpen {
					if wc, ok := ec.params.Writer.(io.Closer); ok {
						return wc.Close()
					}
				}
				return nil
			},
		}
		return engine.NewOutStream(nc)
	}

	saviorEntry := &savior.Entry{
		CanonicalPath:    sanePath,
		Mode:             0644,
		UncompressedSize: entry.Size,
	}

	if kind == entryKindDir {
		saviorEntry.Kind = savior.EntryKindDir
		err := ec.sink.Mkdir(saviorEntry)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		finish(0, false)

		// a nil stream makes the engine skip the entry
		return nil, nil
	}

	if kind == entryKindSymlink && runtime.GOOS != "windows" {
		saviorEntry.Kind = savior.EntryKindSymlink

		if linkname, ok := item.GetStringProperty(engine.PidSymLink); ok {
			err := ec.sink.Symlink(saviorEntry, linkname)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			finish(0, false)
			return nil, nil
		}

		// link target stored as file contents: extract to memory
		buf := new(bytes.Buffer)
		nc := &notifyCloser{
			Writer: writerNopCloser{buf},
			OnClose: func(totalBytes int64) error {
				err := ec.sink.Symlink(saviorEntry, buf.String())
				if err != nil {
					return errors.WithStack(err)
				}
				finish(totalBytes, false)
				return nil
			},
		}
		return engine.NewOutStream(nc)
	}

	// regular file
	saviorEntry.Kind = savior.EntryKindFile
	ec.consumer.Infof("→ %s (%s)", sanePath, humanize.IBytes(uint64(entry.Size)))

	if dest, exists := destExists(ec.params.OutputPath, sanePath); exists {
		ec.dispatcher.Emit(&events.DestinationExists{Entry: entry, Path: dest})
	}

	w, err := ec.sink.GetWriter(saviorEntry)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	nc := &notifyCloser{
		Writer: w,
		OnClose: func(totalBytes int64) error {
			finish(totalBytes, true)
			return nil
		},
	}
	return engine.NewOutStream(nc)
}

func (ec *extractCallback) SetProgress(completed int64, total int64) {
	if completed < ec.lastCompleted {
		return
	}
	delta := completed - ec.lastCompleted
	ec.lastCompleted = completed

	if ec.params.FastMode {
		return
	}

	if total > 0 {
		ec.consumer.Progress(float64(completed) / float64(total))
	}
	ec.dispatcher.Emit(&events.Progress{
		Delta:     delta,
		Completed: completed,
		Total:     total,
	})
}

func (ec *extractCallback) SetOperationResult(result int32) error {
	if result != engine.OpOK {
		ec.itemErrs = append(ec.itemErrs, &pack.EngineError{Code: result})
	}
	return nil
}

// finish runs from the pass driver's cleanup. Destination streams are
// closed by the engine per item; nothing else is held.
func (ec *extractCallback) finish() {
}

func decodeEntry(item engine.Item, sanePath string) *pack.Entry {
	entry := &pack.Entry{
		Index:         item.GetArchiveIndex(),
		CanonicalPath: sanePath,
		Source:        pack.SourceNone,
	}

	if size, ok := item.GetUInt64Property(engine.PidSize); ok {
		entry.Size = int64(size)
	}
	if attrib, ok := item.GetUInt64Property(engine.PidAttrib); ok {
		entry.Attrib = uint32(attrib)
	}
	if isDir, ok := item.GetBoolProperty(engine.PidIsDir); ok {
		entry.IsDir = isDir
	}
	if encrypted, ok := item.GetBoolProperty(engine.PidEncrypted); ok {
		entry.IsEncrypted = encrypted
	}
	if nanos, ok := item.GetUInt64Property(engine.PidMTime); ok && nanos > 0 {
		entry.MTime = time.Unix(0, int64(nanos))
	}

	return entry
}

func decodeKind(item engine.Item) entryKind {
	if isDir, ok := item.GetBoolProperty(engine.PidIsDir); ok && isDir {
		return entryKindDir
	}

	// posix mode travels in the attribute high bits
	if attrib, ok := item.GetUInt64Property(engine.PidAttrib); ok {
		mode := (attrib >> 16) & 0xffff
		if mode&0xf000 == 0xa000 {
			return entryKindSymlink
		}
	}

	return entryKindFile
}

func sanitizePath(inPath string) string {
	outPath := strings.Replace(inPath, "\\", "/", -1)

	if runtime.GOOS == "windows" {
		// Replace characters that are illegal in windows paths with
		// underscores, like the 7-zip CLI does
		for i := byte(0); i <= 31; i++ {
			outPath = strings.Replace(outPath, string([]byte{i}), "_", -1)
		}
	}

	return outPath
}

// notifyCloser tells us when the engine is done writing one item.
type notifyCloser struct {
	Writer  io.WriteCloser
	OnClose func(totalBytes int64) error

	totalBytes int64
}

var _ io.WriteCloser = (*notifyCloser)(nil)

func (nc *notifyCloser) Write(buf []byte) (int, error) {
	written, err := nc.Writer.Write(buf)
	nc.totalBytes += int64(written)
	return written, err
}

func (nc *notifyCloser) Close() error {
	err := nc.Writer.Close()
	if err != nil {
		return err
	}
	return nc.OnClose(nc.totalBytes)
}

// writerNopCloser wraps caller-owned writers: closing them is the
// caller's decision, not ours.
type writerNopCloser struct {
	io.Writer
}

func (writerNopCloser) Close() error {
	return nil
}

package press

import (
	"bytes"
	"io"
	"os"

	"github.com/itchio/wharf/state"
	"github.com/packthread/packthread/engine"
	"github.com/packthread/packthread/events"
	"github.com/packthread/packthread/pack"
	"github.com/pkg/errors"
)

// updateCallback satisfies the engine's pull contract for one update
// pass. Content sources open lazily, one at a time: the previous
// item's source is released before the next one is touched, keeping
// the peak open-handle count at 1.
type updateCallback struct {
	plan       *plan
	consumer   *state.Consumer
	dispatcher *events.Dispatcher
	fast       bool

	totalBytes    int64
	lastCompleted int64

	openEntry  *pack.Entry
	openSource *countingSource
	openFile   io.Closer

	itemErrs []error
}

var _ engine.UpdateCallbackFuncs = (*updateCallback)(nil)

func newUpdateCallback(plan *plan, consumer *state.Consumer, dispatcher *events.Dispatcher, fast bool) *updateCallback {
	return &updateCallback{
		plan:       plan,
		consumer:   consumer,
		dispatcher: dispatcher,
		fast:       fast,
	}
}

func (uc *updateCallback) SetTotal(total int64) {
	uc.totalBytes = total
}

func (uc *updateCallback) SetCompleted(completed int64) {
	if completed < uc.lastCompleted {
		// progress is monotone within a pass; ignore engine hiccups
		return
	}
	delta := completed - uc.lastCompleted
	uc.lastCompleted = completed

	if uc.fast {
		// fast mode trades progress reporting for throughput
		return
	}

	if uc.totalBytes > 0 {
		uc.consumer.Progress(float64(completed) / float64(uc.totalBytes))
	}
	uc.dispatcher.Emit(&events.Progress{
		Delta:     delta,
		Completed: completed,
		Total:     uc.totalBytes,
	})
}

func (uc *updateCallback) GetItemInfo(index int64) (*engine.ItemInfo, error) {
	if index < 0 || index >= uc.plan.itemCount() {
		return nil, errors.Errorf("engine asked for item %d, plan has %d", index, uc.plan.itemCount())
	}
	return &uc.plan.items[index].info, nil
}

func (uc *updateCallback) GetStream(index int64) (*engine.InStream, error) {
	uc.releaseOpen()

	if index < 0 || index >= uc.plan.itemCount() {
		return nil, errors.Errorf("engine asked for stream %d, plan has %d", index, uc.plan.itemCount())
	}

	item := &uc.plan.items[index]
	entry := item.entry
	if entry == nil || item.info.IsDir {
		// reused or directory item: no content
		return nil, nil
	}

	switch entry.Source {
	case pack.SourceNone:
		// no content, delete
		return nil, nil

	case pack.SourceFile:
		uc.dispatcher.Emit(&events.ItemStarted{Entry: entry})

		f, err := os.Open(entry.SourcePath)
		if err != nil {
			return nil, errors.Wrapf(err, "opening source %s", entry.SourcePath)
		}

		cs := &countingSource{ReaderAtCloser: f}
		in, err := engine.NewInStream(cs, "", entry.Size)
		if err != nil {
			f.Close()
			return nil, err
		}

		uc.openEntry = entry
		uc.openSource = cs
		uc.openFile = f
		return in, nil

	case pack.SourceMemory:
		uc.dispatcher.Emit(&events.ItemStarted{Entry: entry})

		cs := &countingSource{ReaderAtCloser: memorySource{bytes.NewReader(entry.Data)}}
		in, err := engine.NewInStream(cs, "", entry.Size)
		if err != nil {
			return nil, err
		}

		uc.openEntry = entry
		uc.openSource = cs
		uc.openFile = nil
		return in, nil
	}

	return nil, errors.Errorf("unknown source kind %d for %s", entry.Source, entry.CanonicalPath)
}

func (uc *updateCallback) SetOperationResult(result int32) error {
	if result != engine.OpOK {
		uc.itemErrs = append(uc.itemErrs, &pack.EngineError{Code: result})
	}
	return nil
}

func (uc *updateCallback) releaseOpen() {
	if uc.openEntry == nil {
		return
	}

	entry := uc.openEntry
	uc.openEntry = nil

	served := entry.Size
	if uc.openSource != nil {
		served = uc.openSource.bytesRead
		uc.openSource = nil
	}

	if uc.openFile != nil {
		err := uc.openFile.Close()
		uc.openFile = nil
		if err != nil {
			uc.itemErrs = append(uc.itemErrs, errors.Wrapf(err, "closing source for %s", entry.CanonicalPath))
		}
	}

	uc.dispatcher.Emit(&events.ItemFinished{Entry: entry, Bytes: served})
}

// finish releases whatever the engine left open. Runs from the pass
// driver's cleanup, on every exit path.
func (uc *updateCallback) finish() {
	uc.releaseOpen()
}

func (uc *updateCallback) errors() []error {
	return uc.itemErrs
}

// memorySource adapts an in-memory byte source to the engine's
// reader shape. Close is a no-op: nothing is held.
type memorySource struct {
	*bytes.Reader
}

func (memorySource) Close() error {
	return nil
}

// countingSource counts the bytes the engine actually pulls from a
// source, so ItemFinished can report served bytes rather than the
// declared size.
type countingSource struct {
	engine.ReaderAtCloser
	bytesRead int64
}

func (cs *countingSource) ReadAt(p []byte, off int64) (int, error) {
	n, err := cs.ReaderAtCloser.ReadAt(p, off)
	cs.bytesRead += int64(n)
	return n, err
}
